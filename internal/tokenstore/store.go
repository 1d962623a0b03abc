// Package tokenstore persists the session's token set encrypted at rest.
// Absence or corruption of the persisted artifact is equivalent to "not
// connected": Load never fails on bad ciphertext, it reports no session.
package tokenstore

import (
	"context"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

// Store reads and writes the encrypted token set. Save(ctx, nil) deletes the
// persisted artifact. Load returns (nil, nil) when no usable session exists.
type Store interface {
	Load(ctx context.Context) (*spotify.TokenSet, error)
	Save(ctx context.Context, tokens *spotify.TokenSet) error
}
