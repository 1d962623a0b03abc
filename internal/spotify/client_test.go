package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// apiServer fakes the session-scoped REST API with scripted responses.
type apiServer struct {
	mu       sync.Mutex
	requests []*http.Request
	bearers  []string
	script   []scripted // consumed in order; last repeats
	calls    int
}

type scripted struct {
	status int
	body   any
}

func (s *apiServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(context.Background()))
		s.bearers = append(s.bearers, r.Header.Get("Authorization"))
		idx := s.calls
		s.calls++
		if idx >= len(s.script) {
			idx = len(s.script) - 1
		}
		var resp scripted
		if idx >= 0 {
			resp = s.script[idx]
		} else {
			resp = scripted{status: http.StatusNoContent}
		}
		s.mu.Unlock()

		if resp.body == nil {
			w.WriteHeader(resp.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		json.NewEncoder(w).Encode(resp.body)
	}
}

func (s *apiServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func validTokens() *TokenSet {
	return &TokenSet{
		AccessToken:  "valid-access",
		RefreshToken: "valid-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func expiredTokens() *TokenSet {
	return &TokenSet{
		AccessToken:  "stale-access",
		RefreshToken: "valid-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
}

func TestRequestInjectsBearerToken(t *testing.T) {
	api := &apiServer{script: []scripted{{status: http.StatusOK, body: map[string]any{"id": "user-1"}}}}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	store := &memStore{tokens: validTokens()}
	c := newTestClient(t, "http://unused.invalid", apiSrv.URL, store)
	c.Restore(context.Background())

	if _, err := c.CurrentProfile(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := api.bearers[0]; got != "Bearer valid-access" {
		t.Errorf("expected bearer header, got %q", got)
	}
}

func TestRequestWithoutSessionFails(t *testing.T) {
	api := &apiServer{}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	c := newTestClient(t, "http://unused.invalid", apiSrv.URL, &memStore{})

	_, err := c.CurrentProfile(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if api.callCount() != 0 {
		t.Errorf("expected zero API calls, got %d", api.callCount())
	}
}

func TestExpiredTokenTriggersExactlyOneRefresh(t *testing.T) {
	endpoint := &tokenEndpoint{}
	tokenSrv := httptest.NewServer(endpoint.handler())
	defer tokenSrv.Close()

	api := &apiServer{script: []scripted{{status: http.StatusOK, body: map[string]any{"id": "user-1"}}}}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	store := &memStore{tokens: expiredTokens()}
	c := newTestClient(t, tokenSrv.URL, apiSrv.URL, store)
	c.Restore(context.Background())

	if _, err := c.CurrentProfile(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if endpoint.count() != 1 {
		t.Errorf("expected exactly one refresh, got %d", endpoint.count())
	}
	// The request itself went out once, with the refreshed token.
	if api.callCount() != 1 {
		t.Errorf("expected one API call, got %d", api.callCount())
	}
	if got := api.bearers[0]; got != "Bearer fresh-access" {
		t.Errorf("expected refreshed bearer, got %q", got)
	}
}

func TestUnauthorizedRetriesOnceThenSurfaces(t *testing.T) {
	endpoint := &tokenEndpoint{}
	tokenSrv := httptest.NewServer(endpoint.handler())
	defer tokenSrv.Close()

	api := &apiServer{script: []scripted{
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
	}}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	store := &memStore{tokens: validTokens()}
	c := newTestClient(t, tokenSrv.URL, apiSrv.URL, store)
	c.Restore(context.Background())

	_, err := c.CurrentProfile(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if endpoint.count() != 1 {
		t.Errorf("expected exactly one refresh attempt, got %d", endpoint.count())
	}
	if api.callCount() != 2 {
		t.Errorf("expected exactly two API attempts, got %d", api.callCount())
	}
	if c.Connected() {
		t.Error("second 401 must tear the session down")
	}
	if store.current() != nil {
		t.Error("expected token store cleared after second 401")
	}
}

func TestUnauthorizedRecoveredByRefresh(t *testing.T) {
	endpoint := &tokenEndpoint{}
	tokenSrv := httptest.NewServer(endpoint.handler())
	defer tokenSrv.Close()

	api := &apiServer{script: []scripted{
		{status: http.StatusUnauthorized},
		{status: http.StatusOK, body: map[string]any{"id": "user-1"}},
	}}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	store := &memStore{tokens: validTokens()}
	c := newTestClient(t, tokenSrv.URL, apiSrv.URL, store)
	c.Restore(context.Background())

	profile, err := c.CurrentProfile(context.Background())
	if err != nil {
		t.Fatalf("expected recovery after refresh, got %v", err)
	}
	if profile.ID != "user-1" {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if got := api.bearers[1]; got != "Bearer fresh-access" {
		t.Errorf("retry should carry the refreshed token, got %q", got)
	}
}

func TestNoContentIsSuccess(t *testing.T) {
	api := &apiServer{script: []scripted{{status: http.StatusNoContent}}}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	store := &memStore{tokens: validTokens()}
	c := newTestClient(t, "http://unused.invalid", apiSrv.URL, store)
	c.Restore(context.Background())

	snapshot, err := c.CurrentPlayback(context.Background())
	if err != nil {
		t.Fatalf("204 must be success, got %v", err)
	}
	if snapshot != nil {
		t.Errorf("expected nil snapshot for 204, got %+v", snapshot)
	}
}

func TestAPIErrorCarriesRemoteMessage(t *testing.T) {
	api := &apiServer{script: []scripted{{
		status: http.StatusForbidden,
		body:   map[string]any{"error": map[string]any{"status": 403, "message": "Player command failed: Premium required"}},
	}}}
	apiSrv := httptest.NewServer(api.handler())
	defer apiSrv.Close()

	store := &memStore{tokens: validTokens()}
	c := newTestClient(t, "http://unused.invalid", apiSrv.URL, store)
	c.Restore(context.Background())

	err := c.Play(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "Player command failed: Premium required" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestDisconnectClearsEverything(t *testing.T) {
	store := &memStore{tokens: validTokens()}
	c := newTestClient(t, "http://unused.invalid", "http://unused.invalid", store)
	c.Restore(context.Background())

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if c.Connected() {
		t.Error("expected disconnected client")
	}
	if store.current() != nil {
		t.Error("expected token store cleared")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing client id", Config{RedirectURI: "http://127.0.0.1/cb"}},
		{"missing redirect uri", Config{ClientID: "id"}},
		{"bad redirect scheme", Config{ClientID: "id", RedirectURI: "ftp://host/cb"}},
		{"no host", Config{ClientID: "id", RedirectURI: "http:///cb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &memStore{})
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}
