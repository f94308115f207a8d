// Package crypto seals OAuth token material before it is written to durable
// storage. Tokens are sealed with AES-256-GCM and stored base64-encoded so
// they fit plain text columns and bbolt values alike.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sealer provides authenticated encryption for short secrets. Implementations
// must detect tampering on Open.
type Sealer interface {
	// Seal encrypts plaintext and returns a base64 string safe for storage.
	Seal(plaintext string) (string, error)
	// Open decrypts a value produced by Seal, failing if the ciphertext was
	// modified or sealed under a different key.
	Open(sealed string) (string, error)
}

// AESSealer is a Sealer backed by AES-256-GCM. The stored layout is
// base64(nonce || ciphertext || tag); a fresh nonce is drawn per Seal.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key, e.g. the
// output of `openssl rand -base64 32`.
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, errors.New("sealing key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("sealing key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext. An empty plaintext seals to the empty string so
// absent tokens round-trip without a ciphertext.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("sealed value is not valid base64: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("sealed value too short: %d bytes", len(raw))
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Deliberately vague: don't leak which check failed.
		return "", errors.New("open failed: integrity check did not pass")
	}
	return string(plaintext), nil
}

// Plaintext is a no-op Sealer used when no sealing key is configured.
type Plaintext struct{}

func (Plaintext) Seal(plaintext string) (string, error) { return plaintext, nil }
func (Plaintext) Open(sealed string) (string, error)    { return sealed, nil }
