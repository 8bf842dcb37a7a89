package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Sealer performs authenticated encryption with AES-GCM. Sealed payloads
// are self-contained base64 strings carrying the nonce alongside the
// ciphertext, so a payload plus the key is all Open needs.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a raw AES key of 16, 24, or 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns the
// payload as raw base64 of nonce || ciphertext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	if s == nil || s.aead == nil {
		return "", errors.New("sealer is not configured")
	}

	payload := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, payload); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	payload = s.aead.Seal(payload, payload[:s.aead.NonceSize()], plaintext, nil)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open decrypts a payload produced by Seal. The GCM tag covers the whole
// ciphertext, so any tampering is an error rather than altered bytes.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, errors.New("sealer is not configured")
	}

	// Strict decoding rejects non-canonical trailing bits, so two
	// distinct encodings can never alias the same ciphertext.
	payload, err := base64.RawStdEncoding.Strict().DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	if len(payload) < s.aead.NonceSize() {
		return nil, errors.New("sealed value is too short")
	}
	plaintext, err := s.aead.Open(nil, payload[:s.aead.NonceSize()], payload[s.aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt sealed value: %w", err)
	}
	return plaintext, nil
}
