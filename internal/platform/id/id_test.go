package id

import (
	"encoding/base32"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	got, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(got) != 26 {
		t.Fatalf("expected 26-character id, got %d (%q)", len(got), got)
	}
	for _, r := range got {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in id %q", r, got)
		}
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(got))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if len(decoded) != 16 {
		t.Fatalf("expected 16 decoded bytes, got %d", len(decoded))
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		got, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if _, dup := seen[got]; dup {
			t.Fatalf("duplicate id %q", got)
		}
		seen[got] = struct{}{}
	}
}
