// Package secret manages data keys and envelope encryption for the
// governance core.
//
// Key material is generated inside the vault, sealed under a master key,
// and persisted only in sealed form. Nothing outside this package ever
// sees raw key bytes; callers work with named keys and opaque references.
package secret

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/platform/timeouts"
	"github.com/brightward/brightward/internal/services/governance/storage"
)

// AlgorithmAESGCM is the only key algorithm supported by the vault.
const AlgorithmAESGCM = "AES-256-GCM"

const dataKeySize = 32

// referenceSeparator joins key name, version, and payload in a reference.
// Base64 payloads never contain it, so parsing is unambiguous.
const referenceSeparator = ":"

// Vault issues named data keys and performs envelope encryption with them.
type Vault struct {
	store  storage.VaultKeyStore
	master *Sealer
	clock  func() time.Time
}

// NewVault builds a vault around sealed key storage and a raw master key.
func NewVault(store storage.VaultKeyStore, masterKey []byte) (*Vault, error) {
	if store == nil {
		return nil, errors.New("vault key store is required")
	}
	master, err := NewSealer(masterKey)
	if err != nil {
		return nil, fmt.Errorf("build master sealer: %w", err)
	}
	return &Vault{store: store, master: master, clock: time.Now}, nil
}

// CreateKey generates a new data key version under the given name and
// returns its key ID. Creating a key under an existing name rotates it:
// new encryptions use the new version, old references still decrypt.
func (v *Vault) CreateKey(ctx context.Context, name, algorithm string) (string, error) {
	if v == nil || v.store == nil {
		return "", errors.New("vault is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("key name is required")
	}
	if strings.Contains(name, referenceSeparator) {
		return "", fmt.Errorf("key name must not contain %q", referenceSeparator)
	}
	if strings.TrimSpace(algorithm) != AlgorithmAESGCM {
		return "", fmt.Errorf("unsupported algorithm %q", algorithm)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.VaultOp)
	defer cancel()

	version := int64(1)
	latest, err := v.store.GetLatestVaultKey(ctx, name)
	switch {
	case err == nil:
		version = latest.Version + 1
	case errors.Is(err, storage.ErrNotFound):
	default:
		return "", fmt.Errorf("look up key %s: %w", name, err)
	}

	material := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	sealed, err := v.master.Seal(material)
	if err != nil {
		return "", fmt.Errorf("seal key material: %w", err)
	}

	record := storage.VaultKeyRecord{
		Name:               name,
		Version:            version,
		Algorithm:          AlgorithmAESGCM,
		MaterialCiphertext: sealed,
		CreatedAt:          v.clock().UTC(),
	}
	if err := v.store.PutVaultKey(ctx, record); err != nil {
		return "", fmt.Errorf("store key %s: %w", name, err)
	}
	return keyID(name, version), nil
}

// HasKey reports whether any version exists under the given name.
func (v *Vault) HasKey(ctx context.Context, name string) bool {
	if v == nil || v.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.VaultOp)
	defer cancel()
	_, err := v.store.GetLatestVaultKey(ctx, strings.TrimSpace(name))
	return err == nil
}

// Encrypt seals plaintext under the latest version of the named key and
// returns an opaque reference that records which key version was used.
func (v *Vault) Encrypt(ctx context.Context, plaintext, keyName string) (string, error) {
	if v == nil || v.store == nil {
		return "", encryptionError("vault is not configured", nil)
	}
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		return "", encryptionError("key name is required", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.VaultOp)
	defer cancel()

	record, err := v.store.GetLatestVaultKey(ctx, keyName)
	if err != nil {
		return "", encryptionError(fmt.Sprintf("load key %s", keyName), err)
	}
	sealer, err := v.unsealKey(record)
	if err != nil {
		return "", err
	}

	sealed, err := sealer.Seal([]byte(plaintext))
	if err != nil {
		return "", encryptionError("seal payload", err)
	}
	return keyID(keyName, record.Version) + referenceSeparator + sealed, nil
}

// Decrypt opens a reference produced by Encrypt. It fails closed: any
// mismatch between the reference and keyName, unknown key version, or
// tampered payload yields an encryption failure, never partial data.
func (v *Vault) Decrypt(ctx context.Context, reference, keyName string) (string, error) {
	if v == nil || v.store == nil {
		return "", encryptionError("vault is not configured", nil)
	}
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		return "", encryptionError("key name is required", nil)
	}

	name, version, payload, err := parseReference(reference)
	if err != nil {
		return "", encryptionError("parse reference", err)
	}
	if name != keyName {
		return "", encryptionError(fmt.Sprintf("reference key %s does not match %s", name, keyName), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.VaultOp)
	defer cancel()

	record, err := v.store.GetVaultKey(ctx, name, version)
	if err != nil {
		return "", encryptionError(fmt.Sprintf("load key %s v%d", name, version), err)
	}
	sealer, err := v.unsealKey(record)
	if err != nil {
		return "", err
	}

	plaintext, err := sealer.Open(payload)
	if err != nil {
		return "", encryptionError("open payload", err)
	}
	return string(plaintext), nil
}

func (v *Vault) unsealKey(record storage.VaultKeyRecord) (*Sealer, error) {
	material, err := v.master.Open(record.MaterialCiphertext)
	if err != nil {
		return nil, encryptionError(fmt.Sprintf("unseal key %s v%d", record.Name, record.Version), err)
	}
	sealer, err := NewSealer(material)
	if err != nil {
		return nil, encryptionError("build data key sealer", err)
	}
	return sealer, nil
}

func keyID(name string, version int64) string {
	return name + referenceSeparator + "v" + strconv.FormatInt(version, 10)
}

func parseReference(reference string) (name string, version int64, payload string, err error) {
	parts := strings.SplitN(strings.TrimSpace(reference), referenceSeparator, 3)
	if len(parts) != 3 {
		return "", 0, "", errors.New("reference is malformed")
	}
	name = parts[0]
	if name == "" {
		return "", 0, "", errors.New("reference key name is empty")
	}
	if !strings.HasPrefix(parts[1], "v") {
		return "", 0, "", errors.New("reference version is malformed")
	}
	version, parseErr := strconv.ParseInt(strings.TrimPrefix(parts[1], "v"), 10, 64)
	if parseErr != nil || version <= 0 {
		return "", 0, "", errors.New("reference version is malformed")
	}
	if parts[2] == "" {
		return "", 0, "", errors.New("reference payload is empty")
	}
	return name, version, parts[2], nil
}

func encryptionError(message string, cause error) error {
	if cause == nil {
		return apperrors.New(apperrors.CodeEncryptionFailure, message)
	}
	return apperrors.Wrap(apperrors.CodeEncryptionFailure, message, cause)
}
