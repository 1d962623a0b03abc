package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// tokenResponse is the token endpoint's wire format for both grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// Exchange redeems an authorization code (with its PKCE verifier) for a token
// set, persists it, and makes it the active session.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.cfg.RedirectURI)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("code_verifier", verifier)
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}

	tokens, err := c.postTokenRequest(ctx, "authorization_code", data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()

	if err := c.store.Save(ctx, tokens); err != nil {
		return nil, fmt.Errorf("persisting token set: %w", err)
	}

	c.log.WithField("expires_at", tokens.ExpiresAt).Info("Authorization code exchanged")
	cp := *tokens
	return &cp, nil
}

// Refresh renews the access token using the stored refresh token. A session
// without a refresh token, or one the server rejects, is unrecoverable: the
// session is fully torn down rather than left half valid.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()

	if tokens == nil {
		return ErrNotConnected
	}
	if tokens.RefreshToken == "" {
		c.log.Warn("No refresh token, treating session as lost")
		if err := c.Disconnect(ctx); err != nil {
			c.log.WithError(err).Warn("Failed to clear session")
		}
		return ErrNoRefreshToken
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", tokens.RefreshToken)
	data.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}

	renewed, err := c.postTokenRequest(ctx, "refresh_token", data)
	if err != nil {
		c.log.WithError(err).Warn("Token refresh rejected, disconnecting")
		if derr := c.Disconnect(ctx); derr != nil {
			c.log.WithError(derr).Warn("Failed to clear session after refresh failure")
		}
		return err
	}

	// Keep the old refresh token unless the server rotated it.
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = tokens.RefreshToken
	}
	if renewed.Scope == "" {
		renewed.Scope = tokens.Scope
	}

	c.mu.Lock()
	c.tokens = renewed
	c.mu.Unlock()

	if err := c.store.Save(ctx, renewed); err != nil {
		return fmt.Errorf("persisting refreshed token set: %w", err)
	}

	c.log.WithField("expires_at", renewed.ExpiresAt).Debug("Access token refreshed")
	return nil
}

// postTokenRequest sends one form-encoded grant request to the token endpoint
// and converts the response into a TokenSet with the expiry margin applied.
func (c *Client) postTokenRequest(ctx context.Context, grant string, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TokenError{
			Grant:      grant,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}

	return &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - ExpiryMargin),
		Scope:        tr.Scope,
	}, nil
}
