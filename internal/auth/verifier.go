package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trivia-room-service/internal/domain"
)

// Identity is a verified, stable participant identity.
type Identity struct {
	ID       string
	Username string
}

// Verifier resolves an opaque credential to an identity, or fails. The core
// treats this as a single synchronous call at connection time.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// HTTPVerifier validates bearer tokens against an OAuth-style userinfo
// endpoint (the embedding platform's "who am I" call).
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPVerifier(endpoint string) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, domain.ErrAuthenticationFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, domain.ErrAuthenticationFailed
	}

	var payload struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if payload.ID == "" {
		return Identity{}, domain.ErrAuthenticationFailed
	}

	username := payload.GlobalName
	if username == "" {
		username = payload.Username
	}
	return Identity{ID: payload.ID, Username: username}, nil
}

// InsecureVerifier accepts any non-empty credential as the identity itself.
// Only for local development when no userinfo endpoint is configured.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, domain.ErrAuthenticationFailed
	}
	return Identity{ID: credential, Username: credential}, nil
}
