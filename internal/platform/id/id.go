// Package id generates URL-safe identifiers.
//
// Identifiers are random UUIDs re-encoded as unpadded base32 (RFC 4648):
// 26 lowercase characters, safe for URLs, file paths, and log fields.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a fresh 26-character identifier.
func NewID() (string, error) {
	raw, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(raw[:])), nil
}
