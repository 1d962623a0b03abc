// Package pkce implements Proof Key for Code Exchange (RFC 7636) transaction
// state for the authorization-code flow.
package pkce

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// StateLength is the number of random bytes in a state token before encoding.
// RFC 6749 section 10.12 requires the state to be non-guessable.
const StateLength = 24

// Transaction holds the secrets for one in-flight authorization attempt.
// At most one transaction exists per session; beginning a new authorization
// supersedes any unconsumed prior transaction.
type Transaction struct {
	Verifier  string
	State     string
	CreatedAt time.Time
}

// NewTransaction generates a fresh verifier and state token.
// The verifier comes from the oauth2 package and is 32 bytes of entropy
// in base64url form, satisfying RFC 7636 section 4.1.
func NewTransaction() (*Transaction, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	return &Transaction{
		Verifier:  oauth2.GenerateVerifier(),
		State:     state,
		CreatedAt: time.Now(),
	}, nil
}

// Challenge derives the S256 code challenge for the transaction's verifier.
func (t *Transaction) Challenge() string {
	return oauth2.S256ChallengeFromVerifier(t.Verifier)
}

// MatchState reports whether the callback state equals the stored state.
// Comparison is constant time so a callback cannot probe the token.
func (t *Transaction) MatchState(state string) bool {
	if state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.State), []byte(state)) == 1
}

// generateState returns a cryptographically random base64url state token.
func generateState() (string, error) {
	b := make([]byte, StateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
