package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/brightward/brightward/internal/services/governance/storage"
)

// PutSession upserts a session lifecycle record.
func (s *Store) PutSession(ctx context.Context, record storage.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(record.Status) == "" {
		return fmt.Errorf("status is required")
	}
	if record.StartedAt.IsZero() || record.ExpiresAt.IsZero() || record.LastActivityAt.IsZero() {
		return fmt.Errorf("session timestamps are required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO governance_sessions (
	id, user_id, status, started_at, expires_at, last_activity_at
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id = excluded.user_id,
	status = excluded.status,
	started_at = excluded.started_at,
	expires_at = excluded.expires_at,
	last_activity_at = excluded.last_activity_at
`,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.UserID),
		strings.TrimSpace(record.Status),
		toMillis(record.StartedAt),
		toMillis(record.ExpiresAt),
		toMillis(record.LastActivityAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession fetches a session record by ID.
func (s *Store) GetSession(ctx context.Context, id string) (storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.SessionRecord{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, status, started_at, expires_at, last_activity_at
FROM governance_sessions
WHERE id = ?
`, id)

	var (
		rec            storage.SessionRecord
		startedAt      int64
		expiresAt      int64
		lastActivityAt int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Status, &startedAt, &expiresAt, &lastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	rec.StartedAt = fromMillis(startedAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.LastActivityAt = fromMillis(lastActivityAt)
	return rec, nil
}

// GetLockout fetches the lockout record for a user.
func (s *Store) GetLockout(ctx context.Context, userID string) (storage.LockoutRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.LockoutRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LockoutRecord{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.LockoutRecord{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, failed_attempts, window_started_at, locked_until, updated_at
FROM governance_lockouts
WHERE user_id = ?
`, userID)

	var (
		rec             storage.LockoutRecord
		windowStartedAt int64
		lockedUntil     sql.NullInt64
		updatedAt       int64
	)
	err := row.Scan(&rec.UserID, &rec.FailedAttempts, &windowStartedAt, &lockedUntil, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.LockoutRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.LockoutRecord{}, fmt.Errorf("get lockout: %w", err)
	}
	rec.WindowStartedAt = fromMillis(windowStartedAt)
	if lockedUntil.Valid {
		value := fromMillis(lockedUntil.Int64)
		rec.LockedUntil = &value
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// PutLockout upserts the lockout record for a user.
func (s *Store) PutLockout(ctx context.Context, record storage.LockoutRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if record.WindowStartedAt.IsZero() {
		return fmt.Errorf("window started at is required")
	}
	if record.UpdatedAt.IsZero() {
		return fmt.Errorf("updated at is required")
	}

	var lockedUntil sql.NullInt64
	if record.LockedUntil != nil {
		lockedUntil = sql.NullInt64{Int64: toMillis(*record.LockedUntil), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO governance_lockouts (
	user_id, failed_attempts, window_started_at, locked_until, updated_at
) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	failed_attempts = excluded.failed_attempts,
	window_started_at = excluded.window_started_at,
	locked_until = excluded.locked_until,
	updated_at = excluded.updated_at
`,
		strings.TrimSpace(record.UserID),
		record.FailedAttempts,
		toMillis(record.WindowStartedAt),
		lockedUntil,
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put lockout: %w", err)
	}
	return nil
}
