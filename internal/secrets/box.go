package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var errDecrypt = errors.New("sealed credential could not be opened")

// Box seals merchant secret keys before they are persisted. The master
// key comes from service config and never reaches the database.
type Box struct {
	key [32]byte
}

// NewBox parses a 32-byte hex-encoded master key.
func NewBox(hexKey string) (*Box, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("credential key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(raw))
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal encrypts a secret with a fresh random nonce. The nonce is
// prepended to the ciphertext.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key), nil
}

// Open decrypts a sealed secret.
func (b *Box) Open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", errDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		return "", errDecrypt
	}
	return string(plaintext), nil
}
