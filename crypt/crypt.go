package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// ErrCorrupt indicates ciphertext that cannot be decrypted: truncated,
// tampered with, or produced under a different key.
var ErrCorrupt = errors.New("corrupt ciphertext")

const minSecretLen = 16

// kdfSalt is fixed so the same process secret always derives the same key.
var kdfSalt = []byte("connect-token-cipher-v1")

// Cipher encrypts and decrypts token strings at rest with AES-256-GCM.
// The key is derived once at construction and held only in memory.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an encryption key from secret via scrypt. An empty or
// short secret is a constructor error; the process must not serve credential
// operations without one.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("cipher secret must be at least %d bytes", minSecretLen)
	}
	key, err := scrypt.Key([]byte(secret), kdfSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive cipher key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The nonce is prepended
// to the ciphertext so decryption is self-contained; output is URL-safe
// base64. Two encryptions of the same plaintext produce different outputs.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or tampered input returns an error
// wrapping ErrCorrupt, never a panic.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext shorter than nonce", ErrCorrupt)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(plain), nil
}
