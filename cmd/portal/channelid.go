package main

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// generateChannelID returns a short, voice-readable channel ID: 5 bytes of
// randomness, base32-encoded without padding and lowercased. No pack
// example builds a diceware-style word list, so this is a direct use of
// crypto/rand rather than a borrowed generator — see DESIGN.md.
func generateChannelID() (string, error) {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	return strings.ToLower(enc), nil
}

// generatePassword returns a 10-byte random secret, base32-encoded the same
// way as the channel ID, for the default "Portal picks one" send flow.
func generatePassword() ([]byte, error) {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
	return []byte(strings.ToLower(enc)), nil
}
