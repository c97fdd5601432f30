// Package auth implements API key generation and role-gated request
// authentication. Raw keys are shown once at creation; only the SHA-256
// hash and a display prefix are stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// KeyPrefixLen is how many leading characters of the raw key are kept for
// display in key listings.
const KeyPrefixLen = 12

// GenerateKey returns a new raw API key: "relay_" followed by 43 chars of
// URL-safe base64 over 32 random bytes.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "relay_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the hex SHA-256 digest stored and looked up for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the display prefix for a raw key.
func Prefix(raw string) string {
	if len(raw) <= KeyPrefixLen {
		return raw
	}
	return raw[:KeyPrefixLen]
}
