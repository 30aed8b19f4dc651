// Package secrets encrypts tenant credentials (such as object store secret
// keys) before they are persisted and decrypts them at the point of use.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned for tampered, truncated or foreign ciphertexts.
var ErrDecrypt = errors.New("secrets: decryption failed")

// Cipher encrypts and decrypts credentials scoped to a tenant.
type Cipher interface {
	Encrypt(tenantID uuid.UUID, plaintext string) (string, error)
	Decrypt(tenantID uuid.UUID, ciphertext string) (string, error)
}

// Box is a Cipher using XChaCha20-Poly1305 with a per-tenant key derived
// from a master key via HKDF-SHA256.
type Box struct {
	master []byte
}

// NewBox creates a Box from a 32-byte master key.
func NewBox(master []byte) (*Box, error) {
	if len(master) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secrets: master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(master))
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &Box{master: key}, nil
}

// NewBoxFromBase64 decodes a base64 master key.
func NewBoxFromBase64(encoded string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode master key: %w", err)
	}
	return NewBox(raw)
}

func (b *Box) tenantKey(tenantID uuid.UUID) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, b.master, tenantID[:], []byte("filecore storage credentials"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (b *Box) Encrypt(tenantID uuid.UUID, plaintext string) (string, error) {
	key, err := b.tenantKey(tenantID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("secrets: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), tenantID[:])
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt for the same tenant.
func (b *Box) Decrypt(tenantID uuid.UUID, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	key, err := b.tenantKey(tenantID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("secrets: init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrDecrypt
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, tenantID[:])
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
