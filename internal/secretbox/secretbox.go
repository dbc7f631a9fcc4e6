// Package secretbox encrypts storage credentials at rest.
//
// Credentials stored in the metadata store are sealed with
// ChaCha20-Poly1305 under a key derived from the ENCRYPTION_SECRET
// passphrase via SHA-256. Sealed values are base64-encoded with the nonce
// prepended, so a single string column holds everything needed to open
// them again.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidCiphertext is returned when a stored value cannot be decoded or
// fails authentication, typically because the encryption secret changed.
var ErrInvalidCiphertext = errors.New("secretbox: invalid ciphertext")

// Box seals and opens short secrets such as S3 access keys.
type Box struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// New derives a 256-bit key from the passphrase and returns a ready Box.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("secretbox: empty passphrase")
	}

	sum := sha256.Sum256([]byte(passphrase))
	aead, err := chacha20poly1305.New(sum[:])
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext and returns a base64 string safe for storage.
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < b.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
