package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

const (
	configDirName = "spotify-session"
	tokenFileName = "tokens.bin"
)

// FileStore keeps the token set in one encrypted file per installation.
type FileStore struct {
	path string
	key  []byte
	log  *log.Entry
}

// NewFileStore creates a store writing to path, encrypting under a key
// derived from secret.
func NewFileStore(path, secret string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &FileStore{
		path: path,
		key:  deriveKey(secret),
		log:  logger.WithField("component", "token_store"),
	}
}

// DefaultPath returns the per-user location for the token file:
// <user config dir>/spotify-session/tokens.bin.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(configDir, configDirName, tokenFileName), nil
}

// Load reads and decrypts the persisted token set. A missing, corrupt, or
// undecryptable file presents as logged out, never as a failure.
func (s *FileStore) Load(ctx context.Context) (*spotify.TokenSet, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		s.log.WithError(err).Debug("Token file unreadable, treating as no session")
		return nil, nil
	}

	plaintext, err := open(s.key, blob)
	if err != nil {
		s.log.WithError(err).Warn("Token file failed decryption, treating as no session")
		return nil, nil
	}

	var tokens spotify.TokenSet
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		s.log.WithError(err).Warn("Token file corrupt, treating as no session")
		return nil, nil
	}
	return &tokens, nil
}

// Save encrypts and writes the token set; a nil token set deletes the file.
func (s *FileStore) Save(ctx context.Context, tokens *spotify.TokenSet) error {
	if tokens == nil {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing token file: %w", err)
		}
		return nil
	}

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encoding token set: %w", err)
	}
	blob, err := seal(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypting token set: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(s.path, blob, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
