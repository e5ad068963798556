package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chia-network/go-modules/pkg/slogs"
)

// ErrDenied is returned when a credential is rejected
var ErrDenied = errors.New("authentication denied")

// Authenticator decides whether an operator credential may dispatch messages.
// A nil error means allowed.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) error
}

// SecretGate compares credentials against a server-held secret
type SecretGate struct {
	digest     [sha256.Size]byte
	configured bool
}

// NewSecretGate returns a gate for secret. An empty secret denies everything.
func NewSecretGate(secret string) *SecretGate {
	return &SecretGate{
		digest:     sha256.Sum256([]byte(secret)),
		configured: secret != "",
	}
}

// Check reports whether credential matches the secret. Both sides are hashed
// first so the comparison time does not depend on either length.
func (g *SecretGate) Check(credential string) bool {
	supplied := sha256.Sum256([]byte(credential))
	match := subtle.ConstantTimeCompare(supplied[:], g.digest[:]) == 1
	return match && g.configured
}

// Authenticate implements Authenticator
func (g *SecretGate) Authenticate(_ context.Context, credential string) error {
	if !g.Check(credential) {
		return ErrDenied
	}
	return nil
}

// RemoteGate delegates the check to the bot backend's auth endpoint
type RemoteGate struct {
	Base string
	HTTP *http.Client
}

// NewRemoteGate returns a gate that posts to base + "/auth"
func NewRemoteGate(base string) *RemoteGate {
	return &RemoteGate{Base: strings.TrimRight(base, "/"), HTTP: http.DefaultClient}
}

type authRequest struct {
	Password string `json:"password"`
}

type authResponse struct {
	OK bool `json:"ok"`
}

// Authenticate implements Authenticator
func (g *RemoteGate) Authenticate(ctx context.Context, credential string) error {
	body, err := json.Marshal(authRequest{Password: credential})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Base+"/auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("error contacting auth backend: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slogs.Logr.Error("Error closing auth response body", "error", err)
		}
	}(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrDenied
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("auth backend returned error response: %s", resp.Status)
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("error decoding auth response: %w", err)
	}
	if !out.OK {
		return ErrDenied
	}
	return nil
}

var (
	_ Authenticator = (*SecretGate)(nil)
	_ Authenticator = (*RemoteGate)(nil)
)
