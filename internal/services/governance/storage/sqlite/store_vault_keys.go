package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/brightward/brightward/internal/services/governance/storage"
)

// PutVaultKey persists one sealed key version. Versions are immutable: a
// conflicting insert is rejected rather than overwritten.
func (s *Store) PutVaultKey(ctx context.Context, record storage.VaultKeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.Name) == "" {
		return fmt.Errorf("key name is required")
	}
	if record.Version <= 0 {
		return fmt.Errorf("key version must be greater than zero")
	}
	if strings.TrimSpace(record.Algorithm) == "" {
		return fmt.Errorf("algorithm is required")
	}
	// MaterialCiphertext is expected to already be sealed by the vault layer.
	if strings.TrimSpace(record.MaterialCiphertext) == "" {
		return fmt.Errorf("material ciphertext is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO governance_vault_keys (
	name, version, algorithm, material_ciphertext, created_at
) VALUES (?, ?, ?, ?, ?)
`,
		strings.TrimSpace(record.Name),
		record.Version,
		strings.TrimSpace(record.Algorithm),
		record.MaterialCiphertext,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put vault key: %w", err)
	}
	return nil
}

// GetVaultKey fetches one sealed key version by name and version.
func (s *Store) GetVaultKey(ctx context.Context, name string, version int64) (storage.VaultKeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.VaultKeyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.VaultKeyRecord{}, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.VaultKeyRecord{}, fmt.Errorf("key name is required")
	}
	if version <= 0 {
		return storage.VaultKeyRecord{}, fmt.Errorf("key version must be greater than zero")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT name, version, algorithm, material_ciphertext, created_at
FROM governance_vault_keys
WHERE name = ? AND version = ?
`, name, version)
	return scanVaultKeyRow(row)
}

// GetLatestVaultKey fetches the newest version of a named key.
func (s *Store) GetLatestVaultKey(ctx context.Context, name string) (storage.VaultKeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.VaultKeyRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.VaultKeyRecord{}, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.VaultKeyRecord{}, fmt.Errorf("key name is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT name, version, algorithm, material_ciphertext, created_at
FROM governance_vault_keys
WHERE name = ?
ORDER BY version DESC
LIMIT 1
`, name)
	return scanVaultKeyRow(row)
}

func scanVaultKeyRow(row *sql.Row) (storage.VaultKeyRecord, error) {
	var (
		rec       storage.VaultKeyRecord
		createdAt int64
	)
	err := row.Scan(&rec.Name, &rec.Version, &rec.Algorithm, &rec.MaterialCiphertext, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.VaultKeyRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.VaultKeyRecord{}, fmt.Errorf("scan vault key row: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}
