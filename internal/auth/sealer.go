package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrSealed = errors.New("cannot open sealed value")

// Sealer encrypts provider tokens before they go into cookies. The cookie
// name is bound as additional data so a value cannot be moved between
// cookies.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the cookie key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("cookie secret is empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("fsr cookie seal v1")), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cookie cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(name, plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(name))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(name, value string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return "", ErrSealed
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", ErrSealed
	}
	return string(plaintext), nil
}
