// Package callback hosts the short-lived loopback HTTP listener that receives
// the authorization-code redirect. The listener is an explicit resource:
// acquired when an authorization begins, released shortly after the callback
// is served, after a bounded timeout if no callback ever arrives, and
// unconditionally on Close.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

const (
	// flushDelay gives the success page time to reach the browser before the
	// socket closes underneath it.
	defaultFlushDelay = 500 * time.Millisecond

	// defaultTimeout bounds how long an unanswered listener stays bound.
	defaultTimeout = 5 * time.Minute
)

// ExchangeFunc redeems the authorization code synchronously, before the HTTP
// response is written. Returning an error renders the failure page.
type ExchangeFunc func(ctx context.Context, code, state string) error

// ErrorFunc receives a human-readable message for callbacks that fail before
// the exchange runs. Exchange failures are reported by the exchange function's
// owner, not here, so the host sees each failure exactly once.
type ErrorFunc func(message string)

// Listener is the loopback redirect listener.
type Listener struct {
	host       string
	path       string
	exchange   ExchangeFunc
	onError    ErrorFunc
	pages      *pages
	log        *log.Entry
	timeout    time.Duration
	flushDelay time.Duration

	mu    sync.Mutex
	srv   *http.Server
	addr  string
	timer *time.Timer
}

// Option configures a Listener.
type Option func(*Listener)

// WithTimeout bounds how long the listener stays up without a callback.
func WithTimeout(d time.Duration) Option {
	return func(l *Listener) {
		l.timeout = d
	}
}

// WithFlushDelay sets the delay between serving the callback response and
// shutting the listener down.
func WithFlushDelay(d time.Duration) Option {
	return func(l *Listener) {
		l.flushDelay = d
	}
}

// WithErrorSink sets the receiver for failed-callback messages.
func WithErrorSink(fn ErrorFunc) Option {
	return func(l *Listener) {
		l.onError = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *Listener) {
		l.log = logger.WithField("component", "callback_listener")
	}
}

// New creates a listener for redirectURI. Only http:// redirect URIs are
// supported: the local listener cannot terminate TLS, so an https:// URI is
// a configuration error.
func New(redirectURI string, exchange ExchangeFunc, opts ...Option) (*Listener, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, &spotify.ConfigError{Field: "redirect uri", Reason: err.Error()}
	}
	if u.Scheme != "http" {
		return nil, &spotify.ConfigError{
			Field:  "redirect uri",
			Reason: fmt.Sprintf("local listener requires an http:// redirect uri, got %q", u.Scheme),
		}
	}
	if u.Host == "" {
		return nil, &spotify.ConfigError{Field: "redirect uri", Reason: "missing host"}
	}
	if u.Port() == "" {
		// net.Listen needs host:port; catch the misconfiguration here
		// instead of at Start.
		return nil, &spotify.ConfigError{
			Field:  "redirect uri",
			Reason: "loopback redirect uri must include an explicit port",
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	p, err := loadPages()
	if err != nil {
		return nil, fmt.Errorf("loading callback pages: %w", err)
	}

	l := &Listener{
		host:       u.Host,
		path:       path,
		exchange:   exchange,
		onError:    func(string) {},
		pages:      p,
		log:        log.StandardLogger().WithField("component", "callback_listener"),
		timeout:    defaultTimeout,
		flushDelay: defaultFlushDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start binds the redirect socket and begins serving. It is idempotent:
// starting an already-listening listener is a no-op.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", l.host)
	if err != nil {
		return fmt.Errorf("binding %s: %w", l.host, err)
	}
	l.addr = ln.Addr().String()

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Get(l.path, l.handleCallback)

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	l.srv = srv

	// Unanswered listeners release the socket after the bounded timeout.
	l.timer = time.AfterFunc(l.timeout, func() {
		l.log.Warn("No callback received before timeout, releasing listener")
		if err := l.Close(); err != nil {
			l.log.WithError(err).Debug("Error closing timed-out listener")
		}
	})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.WithError(err).Error("Callback listener error")
		}
	}()

	l.log.WithField("address", l.addr).Debug("Callback listener started")
	return nil
}

// Addr returns the bound address, useful when the redirect URI used port 0.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Close releases the socket. Safe to call multiple times and on a listener
// that never started.
func (l *Listener) Close() error {
	l.mu.Lock()
	srv := l.srv
	l.srv = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

// scheduleClose releases the listener after the flush delay so the response
// reaches the browser before the socket closes.
func (l *Listener) scheduleClose() {
	time.AfterFunc(l.flushDelay, func() {
		if err := l.Close(); err != nil {
			l.log.WithError(err).Debug("Error closing listener after callback")
		}
	})
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errParam := query.Get("error")

	renderFailure := func(message string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := l.pages.renderFailure(w, pageData{Message: message}); err != nil {
			l.log.WithError(err).Debug("Error rendering failure page")
		}
	}
	fail := func(message string) {
		l.log.WithField("reason", message).Warn("Authorization callback failed")
		l.onError(message)
		renderFailure(message)
	}

	switch {
	case errParam != "":
		fail(fmt.Sprintf("The authorization server reported an error: %s.", errParam))
		return
	case code == "":
		fail("No authorization code was received.")
		return
	}

	// Exchange synchronously so the page reflects the real outcome.
	if err := l.exchange(r.Context(), code, state); err != nil {
		if errors.Is(err, spotify.ErrStateMismatch) {
			// The transaction stays pending; this callback is simply ignored.
			fail("The authorization response did not match the pending request.")
			return
		}
		// The exchange owner has already observed and reported this error;
		// only render the page here.
		l.log.WithError(err).Warn("Authorization exchange failed")
		renderFailure(fmt.Sprintf("Completing authorization failed: %v.", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := l.pages.renderSuccess(w, pageData{}); err != nil {
		l.log.WithError(err).Debug("Error rendering success page")
	}

	l.scheduleClose()
}
