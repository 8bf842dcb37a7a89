package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/brightward/brightward/internal/services/governance/storage"
)

// GetCostRecord fetches one user's cost record for one UTC day.
func (s *Store) GetCostRecord(ctx context.Context, userID, day string) (storage.CostRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CostRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CostRecord{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.CostRecord{}, fmt.Errorf("user id is required")
	}
	day = strings.TrimSpace(day)
	if day == "" {
		return storage.CostRecord{}, fmt.Errorf("day is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, day, ai_calls, speech_calls, moderation_calls, ai_cost, speech_cost, moderation_cost, updated_at
FROM governance_cost_records
WHERE user_id = ? AND day = ?
`, userID, day)

	var (
		rec       storage.CostRecord
		updatedAt int64
	)
	err := row.Scan(
		&rec.UserID,
		&rec.Day,
		&rec.AICalls,
		&rec.SpeechCalls,
		&rec.ModerationCalls,
		&rec.AICost,
		&rec.SpeechCost,
		&rec.ModerationCost,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CostRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CostRecord{}, fmt.Errorf("get cost record: %w", err)
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// PutCostRecord upserts a daily cost record. Records are never deleted;
// a new day simply starts a new row.
func (s *Store) PutCostRecord(ctx context.Context, record storage.CostRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(record.Day) == "" {
		return fmt.Errorf("day is required")
	}
	if record.UpdatedAt.IsZero() {
		return fmt.Errorf("updated at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO governance_cost_records (
	user_id, day, ai_calls, speech_calls, moderation_calls, ai_cost, speech_cost, moderation_cost, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, day) DO UPDATE SET
	ai_calls = excluded.ai_calls,
	speech_calls = excluded.speech_calls,
	moderation_calls = excluded.moderation_calls,
	ai_cost = excluded.ai_cost,
	speech_cost = excluded.speech_cost,
	moderation_cost = excluded.moderation_cost,
	updated_at = excluded.updated_at
`,
		strings.TrimSpace(record.UserID),
		strings.TrimSpace(record.Day),
		record.AICalls,
		record.SpeechCalls,
		record.ModerationCalls,
		record.AICost,
		record.SpeechCost,
		record.ModerationCost,
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put cost record: %w", err)
	}
	return nil
}
