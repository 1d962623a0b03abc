package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyLength = 32

var errCiphertextTooShort = errors.New("ciphertext too short")

// deriveKey stretches the configured secret into a 256-bit AES key using
// HKDF-SHA256. The derivation is one way: the secret itself is never stored.
func deriveKey(secret string) []byte {
	h := hkdf.New(sha256.New, []byte(secret), nil, []byte("tokenstore-aes-key"))
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(h, key); err != nil {
		// HKDF with SHA-256 can produce far more than 32 bytes; a failure
		// here means the reader contract is broken.
		panic(err)
	}
	return key
}

// seal encrypts plaintext under key with AES-GCM. The random nonce is
// prepended to the ciphertext.
func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a blob produced by seal. Tampered or truncated input fails
// authentication and returns an error.
func open(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errCiphertextTooShort
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
