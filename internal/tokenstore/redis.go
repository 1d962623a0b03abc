package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

const redisTokenKey = "spotify-session:tokens"

// RedisStore keeps the encrypted token blob in Redis instead of a local
// file, for headless deployments where the session outlives the process
// host. The ciphertext format is identical to FileStore's.
type RedisStore struct {
	client *redis.Client
	key    []byte
	log    *log.Entry
}

// NewRedisStore creates a Redis-backed store encrypting under a key derived
// from secret.
func NewRedisStore(client *redis.Client, secret string, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisStore{
		client: client,
		key:    deriveKey(secret),
		log:    logger.WithField("component", "token_store_redis"),
	}
}

// Load reads and decrypts the stored token set. A missing or undecryptable
// value presents as no session; only transport failures are errors.
func (s *RedisStore) Load(ctx context.Context) (*spotify.TokenSet, error) {
	blob, err := s.client.Get(ctx, redisTokenKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token key: %w", err)
	}

	plaintext, err := open(s.key, blob)
	if err != nil {
		s.log.WithError(err).Warn("Stored token blob failed decryption, treating as no session")
		return nil, nil
	}

	var tokens spotify.TokenSet
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		s.log.WithError(err).Warn("Stored token blob corrupt, treating as no session")
		return nil, nil
	}
	return &tokens, nil
}

// Save encrypts and writes the token set; a nil token set deletes the key.
func (s *RedisStore) Save(ctx context.Context, tokens *spotify.TokenSet) error {
	if tokens == nil {
		if err := s.client.Del(ctx, redisTokenKey).Err(); err != nil {
			return fmt.Errorf("deleting token key: %w", err)
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

	if err := s.client.Set(ctx, redisTokenKey, blob, 0).Err(); err != nil {
		return fmt.Errorf("writing token key: %w", err)
	}
	return nil
}
