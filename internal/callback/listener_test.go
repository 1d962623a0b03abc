package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

// startTestListener binds to an ephemeral port and returns the listener plus
// its base URL.
func startTestListener(t *testing.T, exchange ExchangeFunc, opts ...Option) (*Listener, string) {
	t.Helper()

	opts = append(opts, WithFlushDelay(10*time.Millisecond), WithTimeout(time.Minute))
	l, err := New("http://127.0.0.1:0/callback", exchange, opts...)
	if err != nil {
		t.Fatalf("creating listener: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("starting listener: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return l, "http://" + l.Addr()
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func TestHTTPSRedirectURIRejected(t *testing.T) {
	_, err := New("https://127.0.0.1:8888/callback", nil)
	var cfgErr *spotify.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for https redirect uri, got %v", err)
	}
}

func TestPortlessRedirectURIRejected(t *testing.T) {
	_, err := New("http://localhost/callback", nil)
	var cfgErr *spotify.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for portless redirect uri, got %v", err)
	}
}

func TestSuccessfulCallbackInvokesExchange(t *testing.T) {
	var gotCode, gotState string
	_, base := startTestListener(t, func(ctx context.Context, code, state string) error {
		gotCode, gotState = code, state
		return nil
	})

	resp, body := get(t, base+"/callback?code=abc123&state=xyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if gotCode != "abc123" || gotState != "xyz" {
		t.Errorf("exchange got (%q, %q), want (abc123, xyz)", gotCode, gotState)
	}
	if !strings.Contains(body, "Account Linked") {
		t.Errorf("expected success page, got: %s", body)
	}
}

func TestErrorParameterSkipsExchange(t *testing.T) {
	exchanged := false
	var sunk string
	_, base := startTestListener(t,
		func(ctx context.Context, code, state string) error {
			exchanged = true
			return nil
		},
		WithErrorSink(func(msg string) { sunk = msg }),
	)

	_, body := get(t, base+"/callback?error=access_denied")
	if exchanged {
		t.Error("exchange must not run when the callback carries an error")
	}
	if !strings.Contains(body, "Authorization Failed") {
		t.Errorf("expected failure page, got: %s", body)
	}
	if !strings.Contains(sunk, "access_denied") {
		t.Errorf("expected error sink to receive the remote error, got %q", sunk)
	}
}

func TestMissingCodeSkipsExchange(t *testing.T) {
	exchanged := false
	_, base := startTestListener(t, func(ctx context.Context, code, state string) error {
		exchanged = true
		return nil
	})

	_, body := get(t, base+"/callback?state=xyz")
	if exchanged {
		t.Error("exchange must not run without a code")
	}
	if !strings.Contains(body, "Authorization Failed") {
		t.Errorf("expected failure page, got: %s", body)
	}
}

func TestExchangeFailureRendersFailurePage(t *testing.T) {
	var sunk string
	_, base := startTestListener(t,
		func(ctx context.Context, code, state string) error {
			return fmt.Errorf("remote rejected the grant")
		},
		WithErrorSink(func(msg string) { sunk = msg }),
	)

	_, body := get(t, base+"/callback?code=abc&state=xyz")
	if !strings.Contains(body, "Authorization Failed") {
		t.Errorf("expected failure page, got: %s", body)
	}
	// The exchange owner reports its own failures; sinking here too would
	// surface the same failure twice.
	if sunk != "" {
		t.Errorf("expected no error sink call for an exchange failure, got %q", sunk)
	}
}

func TestStateMismatchStillReachesErrorSink(t *testing.T) {
	var sunk string
	_, base := startTestListener(t,
		func(ctx context.Context, code, state string) error {
			return spotify.ErrStateMismatch
		},
		WithErrorSink(func(msg string) { sunk = msg }),
	)

	_, body := get(t, base+"/callback?code=abc&state=wrong")
	if !strings.Contains(body, "Authorization Failed") {
		t.Errorf("expected failure page, got: %s", body)
	}
	if sunk == "" {
		t.Error("expected the error sink to report the mismatched callback")
	}
}

func TestOtherPathsReturn404(t *testing.T) {
	exchanged := false
	_, base := startTestListener(t, func(ctx context.Context, code, state string) error {
		exchanged = true
		return nil
	})

	resp, _ := get(t, base+"/other?code=abc&state=xyz")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", resp.StatusCode)
	}
	if exchanged {
		t.Error("exchange must not run for unknown paths")
	}
}

func TestListenerClosesAfterSuccess(t *testing.T) {
	l, base := startTestListener(t, func(ctx context.Context, code, state string) error {
		return nil
	})

	get(t, base+"/callback?code=abc&state=xyz")

	// The listener shuts itself down shortly after serving the response.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		closed := l.srv == nil
		l.mu.Unlock()
		if closed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("listener did not release itself after serving the callback")
}

func TestStartIsIdempotent(t *testing.T) {
	l, _ := startTestListener(t, func(ctx context.Context, code, state string) error { return nil })
	if err := l.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, _ := startTestListener(t, func(ctx context.Context, code, state string) error { return nil })
	if err := l.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
