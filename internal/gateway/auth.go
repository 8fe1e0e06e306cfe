package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// TokenSource supplies bearer tokens for the remote APIs. Implementations
// must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate discards any cached token so the next Token call fetches
	// a fresh one. Called after an auth failure.
	Invalidate()
}

// StaticTokenSource returns a fixed token. Invalidate is a no-op.
type StaticTokenSource struct {
	Value string
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.Value == "" {
		return "", fmt.Errorf("gateway: empty static token")
	}
	return s.Value, nil
}

func (s *StaticTokenSource) Invalidate() {}

// HTTPTokenSource fetches a token from an endpoint and caches it until
// invalidated. The endpoint is expected to respond with
// {"token": "..."} or {"access_token": "..."}.
type HTTPTokenSource struct {
	URL    string
	APIKey string
	Client *http.Client

	mu    sync.Mutex
	token string
}

func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if s.APIKey != "" {
		req.Header.Set("X-Api-Key", s.APIKey)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token fetch: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := statusError(resp.StatusCode, string(body)); err != nil {
		return "", fmt.Errorf("token fetch: %w", err)
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("token decode: %w", err)
	}
	tok := payload.Token
	if tok == "" {
		tok = payload.AccessToken
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", fmt.Errorf("gateway: token endpoint returned no token")
	}
	s.token = tok
	return tok, nil
}

func (s *HTTPTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
