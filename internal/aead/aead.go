// Package aead presents authenticated encryption as an abstract capability,
// so callers never branch on which backend is in use. A single concrete
// backend (ChaCha20-Poly1305) ships today; the interface exists so a second
// backend can be selected at build-configuration time without touching
// callers, per the dynamic-dispatch design note this package implements.
package aead

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the AEAD key length in bytes.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the AEAD nonce length in bytes (96 bits).
const NonceSize = chacha20poly1305.NonceSize

// TagSize is the authentication tag length appended to every sealed output.
const TagSize = 16

// Cipher seals and opens data under a fixed key. It does not work in place:
// each call returns a newly allocated output and leaves its input buffer
// unchanged. Implementations
// must treat nonce reuse under the same key as forbidden by the caller's
// contract, not something the Cipher itself guards against — nonce
// management is the session layer's responsibility (see internal/session).
type Cipher interface {
	// Seal encrypts plaintext with the given nonce and associated data,
	// returning ciphertext with the authentication tag appended.
	Seal(nonce, aad, plaintext []byte) []byte
	// Open decrypts ciphertext (tag included) with the given nonce and
	// associated data, returning the plaintext or an error if
	// authentication fails.
	Open(nonce, aad, ciphertext []byte) ([]byte, error)
}

// chacha20Poly1305Cipher is the only backend Portal ships.
type chacha20Poly1305Cipher struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// New constructs a Cipher bound to key, which must be KeySize bytes.
func New(key []byte) (Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: constructing cipher: %w", err)
	}
	return &chacha20Poly1305Cipher{aead: a}, nil
}

func (c *chacha20Poly1305Cipher) Seal(nonce, aad, plaintext []byte) []byte {
	return c.aead.Seal(nil, nonce, plaintext, aad)
}

func (c *chacha20Poly1305Cipher) Open(nonce, aad, ciphertext []byte) ([]byte, error) {
	pt, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: authentication failed: %w", err)
	}
	return pt, nil
}
