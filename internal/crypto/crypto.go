// Package crypto seals archived queue data with a passphrase.
// Uses scrypt for key derivation and AES-256-GCM for authenticated encryption.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/scrypt"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the passphrase is empty.
	ErrInvalidKey = errors.New("invalid key")
)

// magic prefixes every sealed blob so a reader can tell sealed archives
// from plain JSON.
var magic = []byte("CSA1")

const (
	saltSize = 16
	keySize  = 32

	// scrypt cost parameters.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func deriveKey(passphrase, salt []byte) ([]byte, error) {
	return scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with a key derived from passphrase and a fresh
// random salt. The output layout is magic | salt | nonce | ciphertext.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrInvalidKey
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(magic)+saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, magic), nil
}

// Open decrypts data produced by Seal.
func Open(data, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrInvalidKey
	}
	if len(data) < len(magic)+saltSize || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrInvalidCiphertext
	}

	salt := data[len(magic) : len(magic)+saltSize]
	rest := data[len(magic)+saltSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, magic)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// IsSealed reports whether data starts with the sealed-archive prefix.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}
