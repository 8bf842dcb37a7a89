package secret

import (
	"bytes"
	"strings"
	"testing"
)

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func TestNewSealerRequiresValidKey(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestSealerSealOpenRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	tests := []struct {
		name  string
		value []byte
	}{
		{name: "empty", value: nil},
		{name: "short", value: []byte("hi")},
		{name: "sentence", value: []byte("budget reached for today")},
		{name: "large", value: []byte(strings.Repeat("audit payload ", 1024))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := sealer.Seal(tt.value)
			if err != nil {
				t.Fatalf("seal: %v", err)
			}
			if strings.Contains(sealed, string(tt.value)) && len(tt.value) > 0 {
				t.Fatal("expected encrypted output")
			}

			opened, err := sealer.Open(sealed)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if !bytes.Equal(opened, tt.value) {
				t.Fatalf("opened = %q, want %q", opened, tt.value)
			}
		})
	}
}

func TestSealerNonceUniquePerSeal(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	first, err := sealer.Seal([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	second, err := sealer.Seal([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct payloads for repeated plaintext")
	}
}

func TestSealerOpenRejectsInvalidCiphertext(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	if _, err := sealer.Open("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid ciphertext")
	}
	if _, err := sealer.Open(""); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestSealerOpenRejectsTamperedCiphertext(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := sealer.Seal([]byte("original plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	// Flip one character of the payload; the AEAD tag check must fail.
	flipped := []byte(sealed)
	last := len(flipped) - 1
	if flipped[last] == 'A' {
		flipped[last] = 'B'
	} else {
		flipped[last] = 'A'
	}

	if _, err := sealer.Open(string(flipped)); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestSealerOpenRejectsNonCanonicalEncoding(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sealer, err := NewSealer(key)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := sealer.Seal([]byte("original plaintext"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	// Set an unused trailing bit of the final symbol. The decoded bytes
	// are identical under a permissive decoder, so only strict decoding
	// rejects the alias. Canonical encodings keep the trailing bits
	// zero, so the aliased string always differs from the original.
	aliased := []byte(sealed)
	last := len(aliased) - 1
	index := strings.IndexByte(base64Alphabet, aliased[last])
	aliased[last] = base64Alphabet[index|1]

	if _, err := sealer.Open(string(aliased)); err == nil {
		t.Fatal("expected error for non-canonical encoding")
	}
}
