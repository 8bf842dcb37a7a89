package secret

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/services/governance/storage"
)

type memKeyStore struct {
	records map[string][]storage.VaultKeyRecord
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{records: map[string][]storage.VaultKeyRecord{}}
}

func (m *memKeyStore) PutVaultKey(_ context.Context, record storage.VaultKeyRecord) error {
	for _, existing := range m.records[record.Name] {
		if existing.Version == record.Version {
			return errors.New("version already exists")
		}
	}
	m.records[record.Name] = append(m.records[record.Name], record)
	return nil
}

func (m *memKeyStore) GetVaultKey(_ context.Context, name string, version int64) (storage.VaultKeyRecord, error) {
	for _, record := range m.records[name] {
		if record.Version == version {
			return record, nil
		}
	}
	return storage.VaultKeyRecord{}, storage.ErrNotFound
}

func (m *memKeyStore) GetLatestVaultKey(_ context.Context, name string) (storage.VaultKeyRecord, error) {
	versions := m.records[name]
	if len(versions) == 0 {
		return storage.VaultKeyRecord{}, storage.ErrNotFound
	}
	latest := versions[0]
	for _, record := range versions[1:] {
		if record.Version > latest.Version {
			latest = record
		}
	}
	return latest, nil
}

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")

func newTestVault(t *testing.T) (*Vault, *memKeyStore) {
	t.Helper()
	store := newMemKeyStore()
	vault, err := NewVault(store, testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return vault, store
}

func TestCreateKeyAssignsVersions(t *testing.T) {
	vault, store := newTestVault(t)
	ctx := context.Background()

	first, err := vault.CreateKey(ctx, "audit", AlgorithmAESGCM)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if first != "audit:v1" {
		t.Fatalf("key id = %q, want %q", first, "audit:v1")
	}

	second, err := vault.CreateKey(ctx, "audit", AlgorithmAESGCM)
	if err != nil {
		t.Fatalf("rotate key: %v", err)
	}
	if second != "audit:v2" {
		t.Fatalf("rotated key id = %q, want %q", second, "audit:v2")
	}

	// Stored material must be sealed, never raw.
	for _, record := range store.records["audit"] {
		if record.MaterialCiphertext == "" {
			t.Fatal("expected sealed key material")
		}
		if len(record.MaterialCiphertext) < dataKeySize {
			t.Fatal("sealed material suspiciously short")
		}
	}
}

func TestCreateKeyRejectsUnsupportedAlgorithm(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.CreateKey(context.Background(), "audit", "ROT13"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := vault.CreateKey(ctx, "audit", AlgorithmAESGCM); err != nil {
		t.Fatalf("create key: %v", err)
	}

	tests := []string{"", "x", "flagged: I hate this", strings.Repeat("payload ", 2048)}
	for _, plaintext := range tests {
		reference, err := vault.Encrypt(ctx, plaintext, "audit")
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if !strings.HasPrefix(reference, "audit:v1:") {
			t.Fatalf("reference = %q, want audit:v1 prefix", reference)
		}

		opened, err := vault.Decrypt(ctx, reference, "audit")
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if opened != plaintext {
			t.Fatalf("decrypt round-trip mismatch for %d bytes", len(plaintext))
		}
	}
}

func TestDecryptAfterRotationUsesRecordedVersion(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := vault.CreateKey(ctx, "audit", AlgorithmAESGCM); err != nil {
		t.Fatalf("create key: %v", err)
	}
	reference, err := vault.Encrypt(ctx, "sealed before rotation", "audit")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := vault.CreateKey(ctx, "audit", AlgorithmAESGCM); err != nil {
		t.Fatalf("rotate key: %v", err)
	}

	opened, err := vault.Decrypt(ctx, reference, "audit")
	if err != nil {
		t.Fatalf("decrypt old reference after rotation: %v", err)
	}
	if opened != "sealed before rotation" {
		t.Fatalf("opened = %q", opened)
	}

	// New encryptions pick up the new version.
	newRef, err := vault.Encrypt(ctx, "after rotation", "audit")
	if err != nil {
		t.Fatalf("encrypt after rotation: %v", err)
	}
	if !strings.HasPrefix(newRef, "audit:v2:") {
		t.Fatalf("reference = %q, want audit:v2 prefix", newRef)
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := vault.CreateKey(ctx, "audit", AlgorithmAESGCM); err != nil {
		t.Fatalf("create key: %v", err)
	}
	reference, err := vault.Encrypt(ctx, "plain", "audit")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tests := []struct {
		name      string
		reference string
		keyName   string
	}{
		{name: "malformed reference", reference: "garbage", keyName: "audit"},
		{name: "wrong key name", reference: reference, keyName: "other"},
		{name: "unknown version", reference: "audit:v9:" + strings.Split(reference, ":")[2], keyName: "audit"},
		{name: "corrupted payload", reference: reference[:len(reference)-4] + "AAAA", keyName: "audit"},
		{name: "empty payload", reference: "audit:v1:", keyName: "audit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vault.Decrypt(ctx, tt.reference, tt.keyName)
			if err == nil {
				t.Fatal("expected decrypt to fail closed")
			}
			if apperrors.CodeOf(err) != apperrors.CodeEncryptionFailure {
				t.Fatalf("error code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeEncryptionFailure)
			}
		})
	}
}

func TestVaultClockStampsKeyCreation(t *testing.T) {
	store := newMemKeyStore()
	vault, err := NewVault(store, testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	vault.clock = func() time.Time { return fixed }

	if _, err := vault.CreateKey(context.Background(), "audit", AlgorithmAESGCM); err != nil {
		t.Fatalf("create key: %v", err)
	}
	if got := store.records["audit"][0].CreatedAt; !got.Equal(fixed) {
		t.Fatalf("created at = %v, want %v", got, fixed)
	}
}
