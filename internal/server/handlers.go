package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chia-network/go-modules/pkg/slogs"
	"golang.org/x/sync/errgroup"

	"github.com/rhac/rhacbot/internal/database"
	"github.com/rhac/rhacbot/internal/dispatch"
	"github.com/rhac/rhacbot/internal/groupme"
	"github.com/rhac/rhacbot/internal/payload"
)

// maxFormMemory is the in-memory budget for multipart parsing; larger parts spill to disk
const maxFormMemory = 32 << 20

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"regions":   s.catalog.Regions(),
		"buildings": s.catalog.All(),
	})
}

type authRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !s.gate.Check(req.Password) {
		slogs.Logr.Warn("Rejected login attempt", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "Invalid password"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type addChatRequest struct {
	GroupMeLink string      `json:"groupme_link"`
	BuildingID  json.Number `json:"building_id"`
	FloorNumber *int        `json:"floor_number"`
}

func (s *Server) handleAddChat(w http.ResponseWriter, r *http.Request) {
	var req addChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.GroupMeLink == "" || req.BuildingID == "" || req.FloorNumber == nil {
		writeError(w, http.StatusBadRequest, "Missing groupme_link, building_id, or floor_number")
		return
	}
	buildingID := req.BuildingID.String()
	if _, ok := s.catalog.Building(buildingID); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown building_id %s", buildingID))
		return
	}

	groupID, shareToken, err := groupme.ParseJoinLink(req.GroupMeLink)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid GroupMe link")
		return
	}

	exists, err := s.store.ChatExists(r.Context(), groupID)
	if err != nil {
		slogs.Logr.Error("Error checking chat", "groupme_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to add chat")
		return
	}
	if exists {
		writeError(w, http.StatusBadRequest, "Chat already exists")
		return
	}

	if err := s.relay.JoinGroup(r.Context(), groupID, shareToken); err != nil {
		slogs.Logr.Error("Error joining group", "groupme_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to join the GroupMe group")
		return
	}

	chat, err := s.store.AddChat(r.Context(), database.Chat{GroupID: groupID, BuildingID: buildingID, Floor: *req.FloorNumber})
	if err != nil {
		if errors.Is(err, database.ErrChatExists) {
			writeError(w, http.StatusBadRequest, "Chat already exists")
			return
		}
		slogs.Logr.Error("Error storing chat", "groupme_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to add chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "Chat added successfully", "chat": chat})
}

// chatResult is the delivery result for one chat
type chatResult struct {
	GroupID string `json:"group_id"`
	Floor   int    `json:"floor_number"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleSendMessages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	if r.MultipartForm != nil {
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				slogs.Logr.Error("Error removing multipart temp files", "error", err)
			}
		}()
	}

	if !s.gate.Check(r.PostFormValue(dispatch.FieldPassword)) {
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	body := r.PostFormValue(dispatch.FieldMessageBody)
	regions := nonEmpty(r.PostForm[dispatch.FieldRegions])
	buildingIDs := nonEmpty(r.PostForm[dispatch.FieldBuildingIDs])
	if strings.TrimSpace(body) == "" || (len(regions) == 0 && len(buildingIDs) == 0) {
		writeError(w, http.StatusBadRequest, "Missing building_ids or regions, or message_body")
		return
	}

	resolved, err := s.catalog.Resolve(regions, buildingIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("No buildings found: %s", err))
		return
	}

	chats, err := s.store.ChatsByBuildings(r.Context(), resolved)
	if err != nil {
		slogs.Logr.Error("Error looking up chats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to look up group chats")
		return
	}
	if len(chats) == 0 {
		writeError(w, http.StatusNotFound, "No group chats found for the provided building IDs")
		return
	}

	imageURL := ""
	file, header, err := r.FormFile(dispatch.FieldImageFile)
	switch {
	case errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid image_file")
		return
	default:
		att, err := payload.ReadAttachment(header.Filename, file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid image_file")
			return
		}
		if !s.opts.SupportedTypes[att.ContentType] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported image type %s", att.ContentType))
			return
		}
		imageURL, err = s.relay.UploadImage(r.Context(), att.ContentType, att.Data)
		if err != nil {
			slogs.Logr.Error("Error uploading image", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to upload image to GroupMe")
			return
		}
	}

	results := s.sendToChats(r, chats, body, imageURL)

	failed := 0
	perBuilding := map[string][]chatResult{}
	for i, chat := range chats {
		if !results[i].Success {
			failed++
		}
		perBuilding[chat.BuildingID] = append(perBuilding[chat.BuildingID], results[i])
	}

	status, msg := http.StatusOK, "Messages sent successfully"
	switch {
	case failed == len(chats):
		status, msg = http.StatusBadGateway, "Failed to send messages"
	case failed > 0:
		status, msg = http.StatusMultiStatus, "Messages sent with some failures"
	}
	slogs.Logr.Info("Message relayed", "chats", len(chats), "failed", failed, "image", imageURL != "")

	writeJSON(w, status, map[string]any{"message": msg, "per_building": perBuilding})
}

// sendToChats relays the message to every chat with bounded concurrency.
// Individual failures are recorded, not returned, so every chat is attempted.
// The fan-out outlives the caller: a client that hangs up does not cut the
// broadcast short.
func (s *Server) sendToChats(r *http.Request, chats []database.Chat, body, imageURL string) []chatResult {
	ctx := context.WithoutCancel(r.Context())
	results := make([]chatResult, len(chats))

	eg := &errgroup.Group{}
	eg.SetLimit(s.opts.SendConcurrency)
	for i, chat := range chats {
		eg.Go(func() error {
			res := chatResult{GroupID: chat.GroupID, Floor: chat.Floor, Success: true}
			if err := s.relay.SendMessage(ctx, chat.GroupID, body, imageURL); err != nil {
				slogs.Logr.Error("Failed to send message to group", "group", chat.GroupID, "error", err)
				res.Success = false
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
