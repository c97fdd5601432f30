// Package crypto seals connection credentials at rest with AES-256-GCM.
// Ciphertexts are authenticated: any tampering fails decryption. The key is
// read once at startup and held in memory only.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/camdencbrown/relay/internal/domain"
)

const keySize = 32

// Box encrypts and decrypts small payloads under a single symmetric key.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a base64-encoded 32-byte key. Missing or
// malformed keys fail immediately so a misconfigured service cannot start.
func NewBox(encodedKey string) (*Box, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key not configured: %w", domain.ErrEncryptionKey)
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", domain.ErrEncryptionKey)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d: %w", keySize, len(key), domain.ErrEncryptionKey)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The same input
// produces a distinct ciphertext on every call.
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Corrupted or forged
// input fails with domain.ErrDecryptFailed.
func (b *Box) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", domain.ErrDecryptFailed)
	}
	if len(raw) < b.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: %w", domain.ErrDecryptFailed)
	}
	nonce, sealed := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", domain.ErrDecryptFailed)
	}
	return plaintext, nil
}

// EncryptJSON serializes a credential bundle and seals it.
func (b *Box) EncryptJSON(creds map[string]string) (string, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	return b.Encrypt(data)
}

// DecryptJSON opens a ciphertext produced by EncryptJSON.
func (b *Box) DecryptJSON(ciphertext string) (map[string]string, error) {
	data, err := b.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", domain.ErrDecryptFailed)
	}
	return creds, nil
}
