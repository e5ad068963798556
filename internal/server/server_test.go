package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rhac/rhacbot/internal/catalog"
	"github.com/rhac/rhacbot/internal/database"
	"github.com/rhac/rhacbot/internal/dispatch"
	"github.com/rhac/rhacbot/internal/payload"
	"github.com/rhac/rhacbot/internal/selection"
)

func TestMain(m *testing.M) {
	slogs.Init("error")
	goleak.VerifyTestMain(m)
}

type fakeRelay struct {
	mu        sync.Mutex
	joined    []string
	sent      []string
	uploads   int
	failJoin  bool
	failGroup map[string]bool
	lastImage string
}

func (f *fakeRelay) JoinGroup(_ context.Context, groupID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJoin {
		return errors.New("join failed")
	}
	f.joined = append(f.joined, groupID)
	return nil
}

func (f *fakeRelay) UploadImage(_ context.Context, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return "https://img.example/p.png", nil
}

func (f *fakeRelay) SendMessage(_ context.Context, groupID, _ string, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGroup[groupID] {
		return errors.New("fail")
	}
	f.sent = append(f.sent, groupID)
	f.lastImage = imageURL
	return nil
}

func (f *fakeRelay) sentGroups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

func newTestServer(t *testing.T, relay *fakeRelay, chats ...database.Chat) (*Server, *database.MemoryStore) {
	t.Helper()
	store := database.NewMemoryStore("dev")
	for _, chat := range chats {
		_, err := store.AddChat(context.Background(), chat)
		require.NoError(t, err)
	}
	s := New(Options{
		Prefix:          "/api",
		AdminPassword:   "adminpw",
		SendConcurrency: 2,
		SupportedTypes:  payload.SupportedSet([]string{"image/png"}),
	}, catalog.Default(), store, relay)
	return s, store
}

func sendRequest(t *testing.T, msg payload.Message) *http.Request {
	t.Helper()
	body, contentType, err := dispatch.Encode(msg)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func message(t *testing.T, password string, target selection.Target, att *payload.Attachment) payload.Message {
	t.Helper()
	msg, err := payload.Assemble(password, "Hello residents", att, target, payload.SupportedSet([]string{"image/png"}))
	require.NoError(t, err)
	return msg
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestBuildings(t *testing.T) {
	s, _ := newTestServer(t, &fakeRelay{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/buildings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Len(t, out["buildings"], 41)
	assert.Equal(t, []any{"North", "South", "West"}, out["regions"])
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, &fakeRelay{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(`{"password": "adminpw"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(`{"password": "wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddChat(t *testing.T) {
	relay := &fakeRelay{}
	s, store := newTestServer(t, relay)

	body := `{"groupme_link": "https://groupme.com/join_group/1111/TOKEN", "building_id": 2, "floor_number": 1}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chats/add", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	chat := out["chat"].(map[string]any)
	assert.Equal(t, "1111", chat["groupme_id"])
	assert.Equal(t, "2", chat["building_id"])
	assert.Equal(t, []string{"1111"}, relay.joined)

	exists, err := store.ChatExists(context.Background(), "1111")
	require.NoError(t, err)
	assert.True(t, exists)

	// second registration of the same group is rejected before joining again
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chats/add", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, relay.joined, 1)
}

func TestAddChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		relay  *fakeRelay
		status int
	}{
		{"invalid link", `{"groupme_link": "not-a-valid-link", "building_id": 2, "floor_number": 1}`, &fakeRelay{}, http.StatusBadRequest},
		{"missing floor", `{"groupme_link": "https://groupme.com/join_group/1/T", "building_id": 2}`, &fakeRelay{}, http.StatusBadRequest},
		{"unknown building", `{"groupme_link": "https://groupme.com/join_group/1/T", "building_id": 999, "floor_number": 1}`, &fakeRelay{}, http.StatusBadRequest},
		{"join fails", `{"groupme_link": "https://groupme.com/join_group/1/T", "building_id": "2", "floor_number": 0}`, &fakeRelay{failJoin: true}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.relay)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chats/add", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSendMessagesToRegion(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay,
		database.Chat{GroupID: "g40", BuildingID: "40", Floor: 1},
		database.Chat{GroupID: "g41", BuildingID: "41", Floor: 1},
		database.Chat{GroupID: "g1", BuildingID: "1", Floor: 1},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", selection.Target{Regions: []string{"West"}}, nil)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Messages sent successfully", decode(t, rec)["message"])
	assert.Equal(t, []string{"g40", "g41"}, relay.sentGroups())
}

func TestSendMessagesMixedTarget(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay,
		database.Chat{GroupID: "g40", BuildingID: "40", Floor: 1},
		database.Chat{GroupID: "g3", BuildingID: "3", Floor: 1},
		database.Chat{GroupID: "g4", BuildingID: "4", Floor: 1},
	)

	target := selection.Target{Regions: []string{"West"}, BuildingIDs: []string{"3"}}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", target, nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"g3", "g40"}, relay.sentGroups())
}

func TestSendMessagesAllRegions(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay,
		database.Chat{GroupID: "g1", BuildingID: "1", Floor: 1},
		database.Chat{GroupID: "g20", BuildingID: "20", Floor: 2},
		database.Chat{GroupID: "g41", BuildingID: "41", Floor: 3},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", selection.Target{Regions: []string{"all"}}, nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"g1", "g20", "g41"}, relay.sentGroups())
}

func TestSendMessagesPartialFailure(t *testing.T) {
	relay := &fakeRelay{failGroup: map[string]bool{"g2": true}}
	s, _ := newTestServer(t, relay,
		database.Chat{GroupID: "g1", BuildingID: "10", Floor: 1},
		database.Chat{GroupID: "g2", BuildingID: "10", Floor: 2},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", selection.Target{BuildingIDs: []string{"10"}}, nil)))

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	out := decode(t, rec)
	perBuilding := out["per_building"].(map[string]any)
	assert.Len(t, perBuilding["10"], 2)

	relay.failGroup["g1"] = true
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", selection.Target{BuildingIDs: []string{"10"}}, nil)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSendMessagesWithImage(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay, database.Chat{GroupID: "g20", BuildingID: "20", Floor: 1})

	png := &payload.Attachment{Filename: "flyer.png", ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nrest")}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", selection.Target{BuildingIDs: []string{"20"}}, png)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, relay.uploads)
	assert.Equal(t, "https://img.example/p.png", relay.lastImage)
}

func TestSendMessagesRejectsUnsupportedImage(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay, database.Chat{GroupID: "g20", BuildingID: "20", Floor: 1})

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("password", "adminpw"))
	require.NoError(t, w.WriteField("message_body", "hi"))
	require.NoError(t, w.WriteField("building_ids", "20"))
	part, err := w.CreateFormFile("image_file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("plain text"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, relay.uploads)
	assert.Empty(t, relay.sentGroups())
}

func TestSendMessagesErrors(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay, database.Chat{GroupID: "g1", BuildingID: "1", Floor: 1})

	tests := []struct {
		name   string
		form   string
		status int
	}{
		{"wrong password", "password=wrong&message_body=hi&regions=North", http.StatusUnauthorized},
		{"missing body", "password=adminpw&regions=North", http.StatusBadRequest},
		{"missing targets", "password=adminpw&message_body=hi", http.StatusBadRequest},
		{"unknown region", "password=adminpw&message_body=hi&regions=East", http.StatusBadRequest},
		{"no chats", "password=adminpw&message_body=hi&regions=West", http.StatusNotFound},
		{"url encoded ok", "password=adminpw&message_body=hi&building_ids=1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(tt.form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestGatewayAgainstServer(t *testing.T) {
	relay := &fakeRelay{}
	s, _ := newTestServer(t, relay, database.Chat{GroupID: "g1", BuildingID: "1", Floor: 1})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	g := dispatch.NewGateway(srv.URL + "/api")
	g.HTTP = srv.Client()
	defer g.HTTP.CloseIdleConnections()

	out := g.Dispatch(context.Background(), message(t, "adminpw", selection.Target{Regions: []string{"North"}}, nil))
	assert.Equal(t, dispatch.Success("Messages sent successfully"), out)

	out = g.Dispatch(context.Background(), message(t, "wrong", selection.Target{Regions: []string{"North"}}, nil))
	assert.Equal(t, dispatch.Failure("Invalid password"), out)
}

// hangupRelay cancels the request after the first delivery and refuses to
// send on a cancelled context, the way the GroupMe client does.
type hangupRelay struct {
	fakeRelay
	cancel context.CancelFunc
}

func (h *hangupRelay) SendMessage(ctx context.Context, groupID, text string, imageURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := h.fakeRelay.SendMessage(ctx, groupID, text, imageURL)
	h.cancel()
	return err
}

func TestSendMessagesSurvivesClientHangup(t *testing.T) {
	store := database.NewMemoryStore("dev")
	for _, id := range []string{"g1", "g2", "g3", "g4"} {
		_, err := store.AddChat(context.Background(), database.Chat{GroupID: id, BuildingID: "10", Floor: 1})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := &hangupRelay{cancel: cancel}
	s := New(Options{Prefix: "/api", AdminPassword: "adminpw", SendConcurrency: 1}, catalog.Default(), store, relay)

	req := sendRequest(t, message(t, "adminpw", selection.Target{BuildingIDs: []string{"10"}}, nil)).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Error(t, ctx.Err())
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"g1", "g2", "g3", "g4"}, relay.sentGroups())
}

func TestSendMessagesRejectsOversizedBody(t *testing.T) {
	relay := &fakeRelay{}
	store := database.NewMemoryStore("dev")
	_, err := store.AddChat(context.Background(), database.Chat{GroupID: "g20", BuildingID: "20", Floor: 1})
	require.NoError(t, err)
	s := New(Options{
		Prefix:         "/api",
		AdminPassword:  "adminpw",
		SupportedTypes: payload.SupportedSet([]string{"image/png"}),
		MaxBodyBytes:   1 << 10,
	}, catalog.Default(), store, relay)

	png := &payload.Attachment{Filename: "flyer.png", ContentType: "image/png", Data: append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 4<<10)...)}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, sendRequest(t, message(t, "adminpw", selection.Target{BuildingIDs: []string{"20"}}, png)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, relay.uploads)
	assert.Empty(t, relay.sentGroups())
}
