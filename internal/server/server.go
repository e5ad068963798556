package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chia-network/go-modules/pkg/slogs"
	"golang.org/x/sync/errgroup"

	"github.com/rhac/rhacbot/internal/auth"
	"github.com/rhac/rhacbot/internal/catalog"
	"github.com/rhac/rhacbot/internal/database"
	"github.com/rhac/rhacbot/internal/payload"
)

// Relay delivers messages to chats. *groupme.Client implements it.
type Relay interface {
	JoinGroup(ctx context.Context, groupID, shareToken string) error
	UploadImage(ctx context.Context, contentType string, data []byte) (string, error)
	SendMessage(ctx context.Context, groupID, text, imageURL string) error
}

// Options configures a Server
type Options struct {
	// Prefix the API is mounted under, e.g. /api
	Prefix          string
	AdminPassword   string
	SendConcurrency int
	// SupportedTypes are the accepted image media types
	SupportedTypes map[string]bool
	// MaxBodyBytes caps a send request body; defaults to DefaultMaxBodyBytes
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes leaves room for the form fields next to the largest attachment
const DefaultMaxBodyBytes = payload.MaxAttachmentBytes + 1<<20

// Server is the bot backend HTTP API
type Server struct {
	opts    Options
	catalog *catalog.Catalog
	store   database.ChatStore
	relay   Relay
	gate    *auth.SecretGate
}

// New builds a Server
func New(opts Options, c *catalog.Catalog, store database.ChatStore, relay Relay) *Server {
	opts.Prefix = "/" + strings.Trim(opts.Prefix, "/")
	if opts.Prefix == "/" {
		opts.Prefix = ""
	}
	if opts.SendConcurrency <= 0 {
		opts.SendConcurrency = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		opts:    opts,
		catalog: c,
		store:   store,
		relay:   relay,
		gate:    auth.NewSecretGate(opts.AdminPassword),
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.opts.Prefix+"/buildings", s.handleBuildings)
	mux.HandleFunc("POST "+s.opts.Prefix+"/auth", s.handleAuth)
	mux.HandleFunc("POST "+s.opts.Prefix+"/chats/add", s.handleAddChat)
	mux.HandleFunc("POST "+s.opts.Prefix+"/messages/send", s.handleSendMessages)
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slogs.Logr.Info("Bot backend listening", "addr", addr, "prefix", s.opts.Prefix)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slogs.Logr.Info("Shutting down bot backend")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogs.Logr.Error("Error writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
