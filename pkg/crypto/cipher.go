// Package crypto provides the opaque byte transform used for
// encrypted-string configuration values. Callers hand a Cipher plaintext
// and store whatever comes back; key handling stays inside this package.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
)

// Cipher seals and opens value payloads with AES-GCM under a key derived
// from the configured secret.
type Cipher struct {
	key []byte
}

// NewCipher derives a 32-byte key from the secret using SHA-256.
func NewCipher(secret string) Cipher {
	sum := sha256.Sum256([]byte(secret))
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return Cipher{key: key}
}

// Encrypt seals plaintext into ciphertext. The nonce is prepended so the
// payload is self-contained.
func (c Cipher) Encrypt(plaintext string) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a payload produced by Encrypt back to plaintext.
func (c Cipher) Decrypt(payload []byte) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", io.ErrUnexpectedEOF
	}
	plain, err := gcm.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (c Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
