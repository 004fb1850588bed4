package credential

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "sealed:v1:"

// SealedStore encrypts the token with XChaCha20-Poly1305 before handing it to
// the wrapped Store. The role is stored in clear and bound to the token as
// additional data, so a role swapped on disk fails to open.
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealedStore wraps inner with a 32-byte key.
func NewSealedStore(inner Store, key []byte) (*SealedStore, error) {
	if inner == nil {
		return nil, errors.New("sealed store requires an inner store")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SealedStore{inner: inner, aead: aead}, nil
}

func (s *SealedStore) Load(ctx context.Context) (Credentials, error) {
	creds, err := s.inner.Load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	token, err := s.open(creds.Token, creds.Role)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: token, Role: creds.Role}, nil
}

func (s *SealedStore) Save(ctx context.Context, creds Credentials) error {
	if err := validate(creds); err != nil {
		return err
	}
	sealed, err := s.seal(creds.Token, creds.Role)
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, Credentials{Token: sealed, Role: creds.Role})
}

func (s *SealedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

func (s *SealedStore) seal(token, role string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(token)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(token), []byte(role))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *SealedStore) open(value, role string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return "", fmt.Errorf("%w: token is not sealed", ErrCorrupt)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", fmt.Errorf("%w: sealed token too short", ErrCorrupt)
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(role))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(plain), nil
}
