package compose

import (
	"context"
	"sync"
	"testing"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rhac/rhacbot/internal/auth"
	"github.com/rhac/rhacbot/internal/catalog"
	"github.com/rhac/rhacbot/internal/dispatch"
	"github.com/rhac/rhacbot/internal/payload"
	"github.com/rhac/rhacbot/internal/selection"
)

func TestMain(m *testing.M) {
	slogs.Init("error")
	goleak.VerifyTestMain(m)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []payload.Message
	outcome dispatch.Outcome

	started chan struct{}
	release chan struct{}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg payload.Message) dispatch.Outcome {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return f.outcome
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newSession(t *testing.T, d *fakeDispatcher) *Session {
	t.Helper()
	s := NewSession(catalog.Default(), auth.NewSecretGate("adminpw"), d, payload.SupportedSet([]string{"image/png"}))
	require.NoError(t, s.Login(context.Background(), "adminpw"))
	return s
}

func TestSubmitRequiresLogin(t *testing.T) {
	d := &fakeDispatcher{outcome: dispatch.Success("ok")}
	s := NewSession(catalog.Default(), auth.NewSecretGate("adminpw"), d, nil)

	assert.ErrorIs(t, s.Login(context.Background(), "wrong"), auth.ErrDenied)
	assert.False(t, s.LoggedIn())

	require.NoError(t, s.Selection().ToggleRegion("North"))
	_, err := s.Submit(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, auth.ErrDenied)
	assert.Zero(t, d.count())
}

func TestSubmitSuccessResetsSelection(t *testing.T) {
	d := &fakeDispatcher{outcome: dispatch.Success("Messages sent successfully")}
	s := newSession(t, d)

	require.NoError(t, s.Selection().ToggleRegion("South"))
	require.NoError(t, s.Selection().ToggleBuilding("20"))

	out, err := s.Submit(context.Background(), "Floor meeting", nil)
	require.NoError(t, err)
	assert.True(t, out.OK)
	require.Equal(t, 1, d.count())

	target := d.sent[0].Target()
	assert.Equal(t, []string{"20"}, target.BuildingIDs)
	assert.Empty(t, target.Regions)
	assert.Equal(t, "adminpw", d.sent[0].Credential())

	assert.True(t, s.Selection().Empty())
}

func TestSubmitPartialDeliveryIsReported(t *testing.T) {
	partial := dispatch.Success("Messages sent with some failures")
	partial.FailedChats = []string{"g2"}
	d := &fakeDispatcher{outcome: partial}
	s := newSession(t, d)

	require.NoError(t, s.Selection().ToggleRegion("West"))
	out, err := s.Submit(context.Background(), "Floor meeting", nil)
	require.NoError(t, err)
	assert.True(t, out.Partial())
	assert.Equal(t, []string{"g2"}, out.FailedChats)
	assert.True(t, s.Selection().Empty())
}

func TestSubmitFailureKeepsSelection(t *testing.T) {
	d := &fakeDispatcher{outcome: dispatch.Failure(dispatch.ReasonNetwork)}
	s := newSession(t, d)
	require.NoError(t, s.Selection().ToggleRegion("West"))

	out, err := s.Submit(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, dispatch.ReasonNetwork, out.Reason)
	assert.Equal(t, []string{"West"}, s.Selection().SelectedRegions())
	assert.False(t, s.InFlight())

	// resubmitting reassembles from the same selection
	d.outcome = dispatch.Success("ok")
	out, err = s.Submit(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 2, d.count())
}

func TestSubmitValidationSkipsDispatch(t *testing.T) {
	d := &fakeDispatcher{outcome: dispatch.Success("ok")}
	s := newSession(t, d)

	_, err := s.Submit(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, selection.ErrEmptySelection)

	require.NoError(t, s.Selection().ToggleRegion("North"))
	_, err = s.Submit(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, payload.ErrEmptyBody)

	gif := &payload.Attachment{Filename: "a.gif", ContentType: "image/gif", Data: []byte("GIF89a")}
	_, err = s.Submit(context.Background(), "hello", gif)
	assert.ErrorIs(t, err, payload.ErrUnsupportedAttachment)

	assert.Zero(t, d.count())
	assert.False(t, s.InFlight())
}

func TestSubmitRejectedWhileInFlight(t *testing.T) {
	d := &fakeDispatcher{
		outcome: dispatch.Success("ok"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newSession(t, d)
	s.Selection().SetAllRegions(true)

	done := make(chan dispatch.Outcome)
	go func() {
		out, err := s.Submit(context.Background(), "first", nil)
		assert.NoError(t, err)
		done <- out
	}()

	<-d.started
	assert.True(t, s.InFlight())

	_, err := s.Submit(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	assert.Equal(t, 1, d.count())

	close(d.release)
	out := <-done
	assert.True(t, out.OK)
	assert.False(t, s.InFlight())
	assert.Equal(t, 1, d.count())
}
