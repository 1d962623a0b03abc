// Package spotify implements the authenticated client for the remote music
// service: PKCE code exchange, transparent token refresh, and the player,
// search, and library endpoints consumed by the session manager.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultAuthURL    = "https://accounts.spotify.com/authorize"
	defaultTokenURL   = "https://accounts.spotify.com/api/token"
	defaultAPIBaseURL = "https://api.spotify.com/v1"

	defaultTimeout = 10 * time.Second
)

// DefaultScopes covers read/modify playback, library, playlists, and follow
// state. Used when the caller configures no explicit scope list.
var DefaultScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"user-library-read",
	"user-library-modify",
	"playlist-read-private",
	"playlist-modify-private",
	"playlist-modify-public",
	"user-follow-read",
	"user-follow-modify",
}

// Config holds the OAuth client settings for the remote service.
type Config struct {
	ClientID     string
	ClientSecret string // optional: public-client PKCE flows omit it
	RedirectURI  string
	Scopes       []string

	// Endpoint overrides for tests; production values are the defaults.
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
	Logger     *log.Logger
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return &ConfigError{Field: "client id", Reason: "must not be empty"}
	}
	if c.RedirectURI == "" {
		return &ConfigError{Field: "redirect uri", Reason: "must not be empty"}
	}
	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return &ConfigError{Field: "redirect uri", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "redirect uri", Reason: fmt.Sprintf("scheme %q is not http or https", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigError{Field: "redirect uri", Reason: "missing host"}
	}
	return nil
}

// TokenPersister writes the token set through to durable storage.
// A nil token set deletes the persisted artifact.
type TokenPersister interface {
	Load(ctx context.Context) (*TokenSet, error)
	Save(ctx context.Context, tokens *TokenSet) error
}

// Client is the bearer-authenticated API client. It owns the in-memory token
// set and keeps the persisted copy in sync after every mutation.
type Client struct {
	cfg   Config
	http  *http.Client
	store TokenPersister
	log   *log.Entry

	mu     sync.Mutex
	tokens *TokenSet
}

// New creates a client from cfg, validating the OAuth configuration.
func New(cfg Config, store TokenPersister) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Client{
		cfg:   cfg,
		http:  httpClient,
		store: store,
		log:   logger.WithField("component", "spotify_client"),
	}, nil
}

// Restore loads a persisted token set, if any. It reports whether a session
// was found; a missing or unreadable artifact is not an error.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	tokens, err := c.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("loading token set: %w", err)
	}
	if tokens == nil {
		return false, nil
	}

	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()

	c.log.WithField("expires_at", tokens.ExpiresAt).Debug("Restored persisted session")
	return true, nil
}

// Connected reports whether a token set is loaded.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens != nil
}

// Tokens returns a copy of the current token set, or nil when disconnected.
func (c *Client) Tokens() *TokenSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return nil
	}
	cp := *c.tokens
	return &cp
}

// Disconnect clears the in-memory token set and removes the persisted copy.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()

	if err := c.store.Save(ctx, nil); err != nil {
		return fmt.Errorf("clearing token store: %w", err)
	}
	c.log.Info("Disconnected and cleared persisted session")
	return nil
}

// AuthCodeURL builds the authorization URL embedding the PKCE challenge and
// the state token for the pending transaction.
func (c *Client) AuthCodeURL(state, challenge string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("scope", strings.Join(c.cfg.Scopes, " "))
	return c.cfg.AuthURL + "?" + params.Encode()
}

// do performs one bearer-authenticated API call. Before the call it refreshes
// the access token if the cached one is within its expiry margin. On a 401
// with allowRetry it performs exactly one refresh-and-retry; a second 401
// tears the session down and surfaces ErrUnauthorized. A 204 response is the
// distinguished success-with-empty-body case and never decodes into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, allowRetry bool) error {
	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()

	if tokens == nil {
		return ErrNotConnected
	}

	// Pre-flight refresh when the cached token is past its margin.
	if tokens.Expired() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		tokens = c.tokens
		c.mu.Unlock()
		if tokens == nil {
			return ErrNotConnected
		}
	}

	endpoint := c.cfg.APIBaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		if !allowRetry {
			// Second consecutive 401: the session is gone.
			if derr := c.Disconnect(ctx); derr != nil {
				c.log.WithError(derr).Warn("Failed to clear session after repeated 401")
			}
			return ErrUnauthorized
		}
		c.log.Debug("Received 401, refreshing and retrying once")
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		return c.do(ctx, method, path, query, body, out, false)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: decodeAPIMessage(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// decodeAPIMessage extracts the remote error message from an error response
// body, falling back to the raw body.
func decodeAPIMessage(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(body))
}
