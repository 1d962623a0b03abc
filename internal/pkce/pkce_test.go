package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestNewTransaction(t *testing.T) {
	tx, err := NewTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tx.Verifier) < 43 {
		t.Errorf("verifier too short: %d chars (need at least 43 per RFC 7636)", len(tx.Verifier))
	}
	if len(tx.State) < 22 {
		t.Errorf("state too short: %d chars", len(tx.State))
	}
	if tx.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestTransactionsAreUnique(t *testing.T) {
	a, err := NewTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Verifier == b.Verifier {
		t.Error("two transactions produced the same verifier")
	}
	if a.State == b.State {
		t.Error("two transactions produced the same state")
	}
}

func TestChallengeIsS256OfVerifier(t *testing.T) {
	tx, err := NewTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := sha256.Sum256([]byte(tx.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if got := tx.Challenge(); got != want {
		t.Errorf("challenge mismatch: got %q, want %q", got, want)
	}
}

func TestMatchState(t *testing.T) {
	tx, err := NewTransaction()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		state string
		want  bool
	}{
		{"matching state", tx.State, true},
		{"wrong state", tx.State + "x", false},
		{"empty state", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tx.MatchState(tt.state); got != tt.want {
				t.Errorf("MatchState(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}
