// Package session is the public surface of the playback session manager. It
// composes the PKCE initiator, the loopback callback listener, the token
// engine, the device activation machine, and the playback dispatcher behind
// one facade, and emits typed lifecycle events to the host application.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/overtone-app/spotify-session/internal/callback"
	"github.com/overtone-app/spotify-session/internal/device"
	"github.com/overtone-app/spotify-session/internal/pkce"
	"github.com/overtone-app/spotify-session/internal/spotify"
)

// ErrNoPendingAuth indicates a callback arrived with no authorization in
// flight.
var ErrNoPendingAuth = errors.New("no pending authorization")

// Status is the derived, read-only projection of session state. It is
// computed on demand and never stored independently.
type Status struct {
	Connected bool                      `json:"connected"`
	Scopes    []string                  `json:"scopes,omitempty"`
	ExpiresAt time.Time                 `json:"expires_at,omitempty"`
	Account   *spotify.AccountProfile   `json:"account,omitempty"`
	Playback  *spotify.PlaybackSnapshot `json:"playback,omitempty"`
}

// BeginAuthResult is returned from BeginAuth so the caller can present the
// authorization URL even when the browser could not be opened.
type BeginAuthResult struct {
	State            string
	AuthorizationURL string
}

// Config holds everything the manager needs. Store is required; the zero
// values of the remaining optional fields select production defaults.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	Store spotify.TokenPersister

	// Endpoint overrides for tests.
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
	Logger     *log.Logger

	// ListenerTimeout bounds how long the loopback listener stays bound
	// waiting for a callback that may never arrive.
	ListenerTimeout time.Duration

	// BrowserOpener overrides how the authorization URL is opened. Nil
	// selects the platform default browser.
	BrowserOpener func(url string) error

	// Settle policy for device activation; zero values select defaults.
	SettleInterval       time.Duration
	SettleBudget         time.Duration
	SettleBudgetAutoplay time.Duration
}

// Manager owns the session state: the token-bearing client, the cached
// account profile, the last playback snapshot, the pending authorization
// transaction, and the callback listener.
type Manager struct {
	cfg       Config
	client    *spotify.Client
	activator *device.Activator
	bus       *Bus
	log       *log.Entry
	open      func(url string) error

	mu           sync.Mutex
	pending      *pkce.Transaction
	listener     *callback.Listener
	profile      *spotify.AccountProfile
	lastPlayback *spotify.PlaybackSnapshot
}

// New validates cfg and builds a manager. No network traffic happens here.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, &spotify.ConfigError{Field: "store", Reason: "token store is required"}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	client, err := spotify.New(spotify.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		APIBaseURL:   cfg.APIBaseURL,
		HTTPClient:   cfg.HTTPClient,
		Logger:       logger,
	}, cfg.Store)
	if err != nil {
		return nil, err
	}

	var activatorOpts []device.Option
	activatorOpts = append(activatorOpts, device.WithLogger(logger))
	if cfg.SettleInterval > 0 {
		activatorOpts = append(activatorOpts, device.WithSettleInterval(cfg.SettleInterval))
	}
	if cfg.SettleBudget > 0 || cfg.SettleBudgetAutoplay > 0 {
		activatorOpts = append(activatorOpts, device.WithSettleBudget(cfg.SettleBudget, cfg.SettleBudgetAutoplay))
	}

	open := cfg.BrowserOpener
	if open == nil {
		open = openBrowser
	}

	return &Manager{
		cfg:       cfg,
		client:    client,
		activator: device.NewActivator(client, activatorOpts...),
		bus:       newBus(),
		log:       logger.WithField("component", "session"),
		open:      open,
	}, nil
}

// Subscribe registers an event listener. See Bus.Subscribe.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.bus.Subscribe(buffer)
}

// Restore loads any persisted session and, when one exists, refreshes the
// account profile and playback snapshot.
func (m *Manager) Restore(ctx context.Context) error {
	found, err := m.client.Restore(ctx)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	m.refreshIdentity(ctx)
	m.bus.publish(AuthUpdated{Status: m.status()})
	return nil
}

// BeginAuth starts a new authorization transaction: generates the PKCE
// secrets, starts the loopback listener, and opens the authorization URL in
// the user's browser (best effort). Any unconsumed prior transaction is
// silently superseded and its listener released.
func (m *Manager) BeginAuth(ctx context.Context) (*BeginAuthResult, error) {
	tx, err := pkce.NewTransaction()
	if err != nil {
		return nil, fmt.Errorf("creating authorization transaction: %w", err)
	}

	listenerOpts := []callback.Option{
		callback.WithErrorSink(func(msg string) {
			m.bus.publish(AuthError{Message: msg})
		}),
	}
	if m.cfg.Logger != nil {
		listenerOpts = append(listenerOpts, callback.WithLogger(m.cfg.Logger))
	}
	if m.cfg.ListenerTimeout > 0 {
		listenerOpts = append(listenerOpts, callback.WithTimeout(m.cfg.ListenerTimeout))
	}

	listener, err := callback.New(m.cfg.RedirectURI, m.HandleCallback, listenerOpts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.listener != nil {
		if cerr := m.listener.Close(); cerr != nil {
			m.log.WithError(cerr).Debug("Error closing superseded listener")
		}
	}
	m.pending = tx
	m.listener = listener
	m.mu.Unlock()

	if err := listener.Start(); err != nil {
		m.mu.Lock()
		m.pending = nil
		m.listener = nil
		m.mu.Unlock()
		return nil, fmt.Errorf("starting callback listener: %w", err)
	}

	authURL := m.client.AuthCodeURL(tx.State, tx.Challenge())

	if err := m.open(authURL); err != nil {
		m.log.WithError(err).Warn("Could not open browser, URL must be opened manually")
	}

	m.log.WithField("state", tx.State).Info("Authorization started")
	return &BeginAuthResult{State: tx.State, AuthorizationURL: authURL}, nil
}

// HandleCallback validates the redirect parameters against the pending
// transaction and redeems the code. A state mismatch rejects the callback
// but leaves the transaction pending; any other outcome consumes it.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	m.mu.Lock()
	tx := m.pending
	if tx == nil {
		m.mu.Unlock()
		return ErrNoPendingAuth
	}
	if !tx.MatchState(state) {
		m.mu.Unlock()
		return spotify.ErrStateMismatch
	}
	m.pending = nil
	m.mu.Unlock()

	if _, err := m.client.Exchange(ctx, code, tx.Verifier); err != nil {
		m.bus.publish(AuthError{Message: err.Error()})
		return err
	}

	m.refreshIdentity(ctx)
	m.bus.publish(AuthUpdated{Status: m.status()})
	m.publishPlayback()
	return nil
}

// Status returns the session projection. When connected it first refreshes
// the account profile and playback snapshot; a fresh install answers from
// memory with no network traffic.
func (m *Manager) Status(ctx context.Context) Status {
	if !m.client.Connected() {
		return Status{Connected: false}
	}
	m.refreshIdentity(ctx)
	return m.status()
}

// Snapshot fetches a fresh playback snapshot, caches it, and publishes a
// PlaybackUpdated event.
func (m *Manager) Snapshot(ctx context.Context) (*spotify.PlaybackSnapshot, error) {
	snapshot, err := m.client.CurrentPlayback(ctx)
	if err != nil {
		m.checkSessionLoss(err)
		return nil, err
	}

	m.mu.Lock()
	m.lastPlayback = snapshot
	m.mu.Unlock()

	m.publishPlayback()
	return snapshot, nil
}

// Disconnect tears the session down: listener released, pending transaction
// dropped, token store cleared, caches nulled.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	listener := m.listener
	m.listener = nil
	m.pending = nil
	m.profile = nil
	m.lastPlayback = nil
	m.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			m.log.WithError(err).Debug("Error closing listener on disconnect")
		}
	}

	if err := m.client.Disconnect(ctx); err != nil {
		return err
	}

	m.bus.publish(AuthUpdated{Status: Status{Connected: false}})
	m.bus.publish(PlaybackUpdated{Snapshot: nil})
	return nil
}

// Close releases the listener and the event bus. The persisted session is
// left intact.
func (m *Manager) Close() error {
	m.mu.Lock()
	listener := m.listener
	m.listener = nil
	m.pending = nil
	m.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	m.bus.close()
	return err
}

// Queue returns the current playback queue. Requires a valid device.
func (m *Manager) Queue(ctx context.Context) (*spotify.Queue, error) {
	queue, err := m.client.Queue(ctx)
	if err != nil {
		m.checkSessionLoss(err)
		return nil, err
	}
	return queue, nil
}

// AddToQueue appends uri to the playback queue, activating a device first.
func (m *Manager) AddToQueue(ctx context.Context, uri string) error {
	if _, err := m.activator.EnsureActiveDevice(ctx, false); err != nil {
		return err
	}
	if err := m.client.AddToQueue(ctx, uri); err != nil {
		m.checkSessionLoss(err)
		if spotify.IsNotFound(err) {
			return spotify.ErrNoActiveDevice
		}
		return err
	}
	return nil
}

// Search runs a track search scoped to the linked account's market when the
// profile is known.
func (m *Manager) Search(ctx context.Context, query string, limit int) (*spotify.SearchResults, error) {
	m.mu.Lock()
	market := ""
	if m.profile != nil {
		market = m.profile.Country
	}
	m.mu.Unlock()

	results, err := m.client.Search(ctx, query, market, limit)
	if err != nil {
		m.checkSessionLoss(err)
		return nil, err
	}
	return results, nil
}

// SavedTracks reads one page of the linked account's library.
func (m *Manager) SavedTracks(ctx context.Context, limit, offset int) (*spotify.SavedTracksPage, error) {
	page, err := m.client.SavedTracks(ctx, limit, offset)
	if err != nil {
		m.checkSessionLoss(err)
		return nil, err
	}
	return page, nil
}

// SaveTracks adds tracks to the linked account's library.
func (m *Manager) SaveTracks(ctx context.Context, ids ...string) error {
	err := m.client.SaveTracks(ctx, ids...)
	m.checkSessionLoss(err)
	return err
}

// RemoveSavedTracks removes tracks from the linked account's library.
func (m *Manager) RemoveSavedTracks(ctx context.Context, ids ...string) error {
	err := m.client.RemoveSavedTracks(ctx, ids...)
	m.checkSessionLoss(err)
	return err
}

// refreshIdentity rebuilds the account profile and playback caches. Both are
// opportunistic: failures are logged, not surfaced, and stale values remain.
func (m *Manager) refreshIdentity(ctx context.Context) {
	profile, err := m.client.CurrentProfile(ctx)
	if err != nil {
		m.checkSessionLoss(err)
		m.log.WithError(err).Debug("Profile refresh failed")
	} else {
		m.mu.Lock()
		m.profile = profile
		m.mu.Unlock()
	}

	snapshot, err := m.client.CurrentPlayback(ctx)
	if err != nil {
		m.checkSessionLoss(err)
		m.log.WithError(err).Debug("Playback refresh failed")
		return
	}
	m.mu.Lock()
	m.lastPlayback = snapshot
	m.mu.Unlock()
}

// status derives the projection from the current token set and caches.
func (m *Manager) status() Status {
	tokens := m.client.Tokens()
	if tokens == nil {
		return Status{Connected: false}
	}

	m.mu.Lock()
	profile := m.profile
	playback := m.lastPlayback
	m.mu.Unlock()

	var scopes []string
	if tokens.Scope != "" {
		scopes = strings.Fields(tokens.Scope)
	}
	return Status{
		Connected: true,
		Scopes:    scopes,
		ExpiresAt: tokens.ExpiresAt,
		Account:   profile,
		Playback:  playback,
	}
}

func (m *Manager) publishPlayback() {
	m.mu.Lock()
	snapshot := m.lastPlayback
	m.mu.Unlock()
	m.bus.publish(PlaybackUpdated{Snapshot: snapshot})
}

// checkSessionLoss notices a session-invalidating failure surfaced by the
// client layer and announces the disconnected state.
func (m *Manager) checkSessionLoss(err error) {
	if err == nil {
		return
	}
	var tokenErr *spotify.TokenError
	refreshRejected := errors.As(err, &tokenErr) && tokenErr.Grant == "refresh_token"
	if errors.Is(err, spotify.ErrUnauthorized) || errors.Is(err, spotify.ErrNoRefreshToken) || refreshRejected {
		m.mu.Lock()
		m.profile = nil
		m.lastPlayback = nil
		m.mu.Unlock()
		m.bus.publish(AuthUpdated{Status: Status{Connected: false}})
		m.bus.publish(AuthError{Message: "session is no longer authorized, please reconnect"})
	}
}
