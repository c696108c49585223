// Package pii seals personal fields (donor name, email, phone) before they are
// written to storage. Every value gets its own random nonce, stored with the
// ciphertext as "v1:" + base64url(nonce || ciphertext).
package pii

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const prefix = "v1:"

var (
	ErrKeySize   = errors.New("pii: key must decode to 32 bytes")
	ErrMalformed = errors.New("pii: malformed sealed value")
	ErrTampered  = errors.New("pii: sealed value failed authentication")
)

// Sealer encrypts and authenticates short text fields.
type Sealer struct {
	aead interface {
		NonceSize() int
		Overhead() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	macKey []byte
}

// NewSealer builds a sealer from a base64 (std or url) encoded 32-byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	key, err := decodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, err
	}
	return NewSealerFromKey(key)
}

// NewSealerFromKey builds a sealer from raw key bytes.
func NewSealerFromKey(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("karuna/fingerprint"))
	return &Sealer{aead: aead, macKey: mac.Sum(nil)}, nil
}

// GenerateKey returns a fresh base64 encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext bound to field, so a value cannot be moved to
// another column undetected. Empty input stays empty.
func (s *Sealer) Seal(field, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("pii: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(field, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, prefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return "", ErrMalformed
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(field))
	if err != nil {
		return "", ErrTampered
	}
	return string(plain), nil
}

// Fingerprint returns a stable keyed digest of value, lower-cased and trimmed.
// It lets sealed columns be counted or matched without opening them.
func (s *Sealer) Fingerprint(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write([]byte(v))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrKeySize
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != chacha20poly1305.KeySize {
				return nil, ErrKeySize
			}
			return key, nil
		}
	}
	return nil, ErrKeySize
}
