package compose

import (
	"context"
	"errors"
	"sync"

	"github.com/chia-network/go-modules/pkg/slogs"

	"github.com/rhac/rhacbot/internal/auth"
	"github.com/rhac/rhacbot/internal/catalog"
	"github.com/rhac/rhacbot/internal/dispatch"
	"github.com/rhac/rhacbot/internal/payload"
	"github.com/rhac/rhacbot/internal/selection"
)

// ErrSubmissionInFlight is returned when Submit is called while a previous
// submission from the same session has not finished.
var ErrSubmissionInFlight = errors.New("a submission is already in flight")

// Dispatcher sends an assembled message. *dispatch.Gateway implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg payload.Message) dispatch.Outcome
}

// Session is one operator compose session: a login, a selection, and a
// guard that allows a single submission in flight at a time.
type Session struct {
	selection  *selection.State
	auth       auth.Authenticator
	dispatcher Dispatcher
	supported  map[string]bool
	guard      dispatch.Guard

	mu         sync.Mutex
	credential string
	loggedIn   bool
}

// NewSession starts an empty session. supported lists the attachment media
// types the backend accepts.
func NewSession(c *catalog.Catalog, authenticator auth.Authenticator, dispatcher Dispatcher, supported map[string]bool) *Session {
	return &Session{
		selection:  selection.NewState(c),
		auth:       authenticator,
		dispatcher: dispatcher,
		supported:  supported,
	}
}

// Selection exposes the session's selection state
func (s *Session) Selection() *selection.State {
	return s.selection
}

// Login checks credential and remembers it for later submissions
func (s *Session) Login(ctx context.Context, credential string) error {
	if err := s.auth.Authenticate(ctx, credential); err != nil {
		slogs.Logr.Warn("Login rejected", "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
	s.loggedIn = true
	return nil
}

// LoggedIn reports whether Login has succeeded
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// InFlight reports whether a submission is currently being dispatched
func (s *Session) InFlight() bool {
	return s.guard.InFlight()
}

// Submit normalizes the current selection, assembles a message and dispatches
// it. A second call while one is in flight fails with ErrSubmissionInFlight
// without contacting the backend. On success the selection is reset.
func (s *Session) Submit(ctx context.Context, body string, attachment *payload.Attachment) (dispatch.Outcome, error) {
	s.mu.Lock()
	credential, loggedIn := s.credential, s.loggedIn
	s.mu.Unlock()
	if !loggedIn {
		return dispatch.Outcome{}, auth.ErrDenied
	}

	if !s.guard.TryAcquire() {
		return dispatch.Outcome{}, ErrSubmissionInFlight
	}
	defer s.guard.Release()

	target, err := s.selection.Normalize()
	if err != nil {
		return dispatch.Outcome{}, err
	}

	msg, err := payload.Assemble(credential, body, attachment, target, s.supported)
	if err != nil {
		return dispatch.Outcome{}, err
	}

	slogs.Logr.Info("Dispatching message", "regions", target.Regions, "building_ids", target.BuildingIDs, "attachment", msg.HasAttachment())
	outcome := s.dispatcher.Dispatch(ctx, msg)
	if !outcome.OK {
		slogs.Logr.Error("Message dispatch failed", "reason", outcome.Reason)
		return outcome, nil
	}

	if outcome.Partial() {
		slogs.Logr.Warn("Message reached only some chats", "failed", outcome.FailedChats)
	}
	s.selection.Reset()
	return outcome, nil
}
