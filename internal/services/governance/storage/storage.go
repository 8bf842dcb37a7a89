package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// CostRecord tracks one user's spend for one UTC calendar day.
// Cost fields are integer micro-pounds.
type CostRecord struct {
	UserID          string
	Day             string // "2006-01-02", UTC
	AICalls         int64
	SpeechCalls     int64
	ModerationCalls int64
	AICost          int64
	SpeechCost      int64
	ModerationCost  int64
	UpdatedAt       time.Time
}

// TotalCost returns the sum of the per-category costs.
func (r CostRecord) TotalCost() int64 {
	return r.AICost + r.SpeechCost + r.ModerationCost
}

// CostStore persists daily cost records. Records are created lazily and
// never deleted; day rollover supersedes them naturally.
type CostStore interface {
	GetCostRecord(ctx context.Context, userID, day string) (CostRecord, error)
	PutCostRecord(ctx context.Context, record CostRecord) error
}

// SessionRecord tracks one session's lifecycle state.
type SessionRecord struct {
	ID             string
	UserID         string
	Status         string
	StartedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// SessionStore persists session lifecycle records.
type SessionStore interface {
	PutSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, error)
}

// LockoutRecord tracks failed attempts and lockout state per user.
type LockoutRecord struct {
	UserID          string
	FailedAttempts  int64
	WindowStartedAt time.Time
	LockedUntil     *time.Time // nil when the user is not locked out
	UpdatedAt       time.Time
}

// LockoutStore persists per-user lockout records.
type LockoutStore interface {
	GetLockout(ctx context.Context, userID string) (LockoutRecord, error)
	PutLockout(ctx context.Context, record LockoutRecord) error
}

// AuditEventRecord is the persisted shape of one audit event. Everything
// beyond the identifying columns travels in PayloadCiphertext, sealed by the
// vault before it reaches storage.
type AuditEventRecord struct {
	ID                string
	UserID            string
	EventType         string
	Severity          string
	Timestamp         time.Time
	PayloadCiphertext string
}

// SQLCondition is an optional WHERE clause fragment with positional params,
// produced by the audit filter translator.
type SQLCondition struct {
	Clause string
	Params []any
}

// AuditQuery scopes a paged audit event listing.
type AuditQuery struct {
	From      *time.Time
	To        *time.Time
	UserID    string
	Condition SQLCondition
	PageSize  int
	PageToken string
}

// AuditEventPage is one page of audit events in append order.
type AuditEventPage struct {
	Events        []AuditEventRecord
	NextPageToken string
}

// AuditEventStore persists audit events. Append-only: there is no update
// or delete path.
type AuditEventStore interface {
	AppendAuditEvent(ctx context.Context, record AuditEventRecord) (string, error)
	ListAuditEvents(ctx context.Context, query AuditQuery) (AuditEventPage, error)
}

// VaultKeyRecord is one sealed data key version.
type VaultKeyRecord struct {
	Name               string
	Version            int64
	Algorithm          string
	MaterialCiphertext string
	CreatedAt          time.Time
}

// VaultKeyStore persists sealed key material for the vault.
type VaultKeyStore interface {
	PutVaultKey(ctx context.Context, record VaultKeyRecord) error
	GetVaultKey(ctx context.Context, name string, version int64) (VaultKeyRecord, error)
	GetLatestVaultKey(ctx context.Context, name string) (VaultKeyRecord, error)
}
