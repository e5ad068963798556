package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/chia-network/go-modules/pkg/slogs"

	"github.com/rhac/rhacbot/internal/payload"
)

// SendPath is the backend path messages are posted to, relative to the API base
const SendPath = "/messages/send"

// maxResponseBytes bounds how much of a backend response is read
const maxResponseBytes = 1 << 20

// Gateway sends assembled messages to the bot backend
type Gateway struct {
	Base string
	HTTP *http.Client
}

// NewGateway returns a Gateway for the API rooted at base, e.g. http://127.0.0.1:5000/api
func NewGateway(base string) *Gateway {
	return &Gateway{Base: strings.TrimRight(base, "/"), HTTP: http.DefaultClient}
}

type chatResult struct {
	GroupID string `json:"group_id"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type sendResponse struct {
	Message     string                  `json:"message"`
	Error       string                  `json:"error"`
	PerBuilding map[string][]chatResult `json:"per_building"`
}

// Dispatch issues exactly one request for msg. It never retries.
func (g *Gateway) Dispatch(ctx context.Context, msg payload.Message) Outcome {
	body, contentType, err := Encode(msg)
	if err != nil {
		slogs.Logr.Error("Error encoding message", "error", err)
		return Failure(ReasonUnknown)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Base+SendPath, body)
	if err != nil {
		slogs.Logr.Error("Error creating send request", "error", err)
		return Failure(ReasonUnknown)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		slogs.Logr.Error("Error sending message", "error", err)
		return Failure(ReasonNetwork)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slogs.Logr.Error("Error closing send response body", "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		slogs.Logr.Error("Error reading send response", "error", err)
		return Failure(ReasonNetwork)
	}

	var out sendResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode/100 != 2 {
		slogs.Logr.Error("Bot backend returned error", "status", resp.Status)
		switch {
		case decodeErr == nil && out.Error != "":
			return Failure(out.Error)
		case decodeErr == nil && out.Message != "":
			return Failure(out.Message)
		default:
			return Failure(ReasonUnknown)
		}
	}

	outcome := Success(out.Message)
	for building, results := range out.PerBuilding {
		for _, res := range results {
			if res.Success {
				continue
			}
			slogs.Logr.Warn("Chat did not receive the message", "building_id", building, "group", res.GroupID, "error", res.Error)
			outcome.FailedChats = append(outcome.FailedChats, res.GroupID)
		}
	}
	sort.Strings(outcome.FailedChats)

	slogs.Logr.Info("Message sent", "status", resp.Status, "failed_chats", len(outcome.FailedChats))
	return outcome
}
