// Package cryptox seals small secrets (credential headers of queued
// mutations) at rest with AES-GCM under a key derived by Argon2id.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// sealedPrefix marks a value produced by Sealer.Seal.
const sealedPrefix = "enc:v1:"

// KeySize is the length of keys returned by DeriveKey (AES-256).
const KeySize = 32

var ErrNotSealed = errors.New("value is not sealed")

// DeriveKey stretches a configured secret into an AES-256 key.
func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}

// RandomBytes returns size bytes from crypto/rand.
func RandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes b.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Sealer encrypts short strings into printable tokens.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer for key, which must be 16, 24 or 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns
// "enc:v1:" followed by base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce, err := RandomBytes(s.aead.NonceSize())
	if err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the prefix return ErrNotSealed.
func (s *Sealer) Open(token string) ([]byte, error) {
	if !IsSealed(token) {
		return nil, ErrNotSealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(token, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return nil, fmt.Errorf("open: token too short")
	}
	plaintext, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether v looks like a Seal output.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}
