// Package crypto tests for archive sealing.
package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// TestSealOpen_roundtrip verifies basic encryption and decryption.
func TestSealOpen_roundtrip(t *testing.T) {
	plaintext := []byte(`{"reason":"capacity","actions":[]}`)
	key := []byte("archive-passphrase")

	sealed, err := Seal(plaintext, key)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) {
		t.Error("IsSealed() = false for sealed data")
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed data contains the plaintext")
	}

	opened, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

// TestSeal_unique verifies each seal uses a fresh salt and nonce.
func TestSeal_unique(t *testing.T) {
	plaintext := []byte("same input")
	key := []byte("k")

	a, err := Seal(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("Seal() produced identical output twice")
	}
}

func TestOpen_wrongKey(t *testing.T) {
	sealed, err := Seal([]byte("secret"), []byte("right"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(sealed, []byte("wrong")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() with wrong key error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestOpen_tampered(t *testing.T) {
	sealed, err := Seal([]byte("secret"), []byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(sealed, []byte("key")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() tampered error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestOpen_malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"plain json", []byte(`{"actions":[]}`)},
		{"header only", append([]byte("CSA1"), make([]byte, saltSize)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.data, []byte("key")); !errors.Is(err, ErrInvalidCiphertext) {
				t.Errorf("Open() error = %v, want ErrInvalidCiphertext", err)
			}
		})
	}
}

func TestEmptyKey(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Seal() error = %v, want ErrInvalidKey", err)
	}
	if _, err := Open([]byte("CSA1"), nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Open() error = %v, want ErrInvalidKey", err)
	}
}
