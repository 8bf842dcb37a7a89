package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/brightward/brightward/internal/services/governance/storage"
)

// AppendAuditEvent inserts one audit event and returns its assigned ID.
// The insert is synchronous: when this returns without error the event is
// durable. There is no update or delete path for audit rows.
func (s *Store) AppendAuditEvent(ctx context.Context, record storage.AuditEventRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(record.EventType) == "" {
		return "", fmt.Errorf("event type is required")
	}
	if strings.TrimSpace(record.Severity) == "" {
		return "", fmt.Errorf("severity is required")
	}
	if record.Timestamp.IsZero() {
		return "", fmt.Errorf("timestamp is required")
	}
	if strings.TrimSpace(record.PayloadCiphertext) == "" {
		return "", fmt.Errorf("payload ciphertext is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO governance_audit_events (
	user_id, event_type, severity, timestamp, payload_ciphertext
) VALUES (?, ?, ?, ?, ?)
`,
		strings.TrimSpace(record.UserID),
		strings.TrimSpace(record.EventType),
		strings.TrimSpace(record.Severity),
		toMillis(record.Timestamp),
		record.PayloadCiphertext,
	)
	if err != nil {
		return "", fmt.Errorf("append audit event: %w", err)
	}
	insertID, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("audit event insert id: %w", err)
	}
	return strconv.FormatInt(insertID, 10), nil
}

// ListAuditEvents returns a page of audit events in append order, which
// matches timestamp order for a single writer. The page token is the last
// row ID of the previous page, so listings restart cleanly.
func (s *Store) ListAuditEvents(ctx context.Context, query storage.AuditQuery) (storage.AuditEventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.AuditEventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AuditEventPage{}, fmt.Errorf("storage is not configured")
	}
	if query.PageSize <= 0 {
		return storage.AuditEventPage{}, fmt.Errorf("page size must be greater than zero")
	}
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return storage.AuditEventPage{}, fmt.Errorf("from must be before or equal to to")
	}

	whereParts := []string{"1=1"}
	args := []any{}
	if userID := strings.TrimSpace(query.UserID); userID != "" {
		whereParts = append(whereParts, "user_id = ?")
		args = append(args, userID)
	}
	if query.From != nil {
		whereParts = append(whereParts, "timestamp >= ?")
		args = append(args, toMillis(*query.From))
	}
	if query.To != nil {
		whereParts = append(whereParts, "timestamp <= ?")
		args = append(args, toMillis(*query.To))
	}
	if clause := strings.TrimSpace(query.Condition.Clause); clause != "" {
		whereParts = append(whereParts, "("+clause+")")
		args = append(args, query.Condition.Params...)
	}
	if pageToken := strings.TrimSpace(query.PageToken); pageToken != "" {
		tokenValue, parseErr := strconv.ParseInt(pageToken, 10, 64)
		if parseErr != nil || tokenValue < 0 {
			return storage.AuditEventPage{}, fmt.Errorf("invalid page token")
		}
		whereParts = append(whereParts, "id > ?")
		args = append(args, tokenValue)
	}
	limit := query.PageSize + 1
	args = append(args, limit)

	querySQL := fmt.Sprintf(`
SELECT id, user_id, event_type, severity, timestamp, payload_ciphertext
FROM governance_audit_events
WHERE %s
ORDER BY id
LIMIT ?
`, strings.Join(whereParts, " AND "))
	rows, err := s.sqlDB.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return storage.AuditEventPage{}, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	page := storage.AuditEventPage{Events: make([]storage.AuditEventRecord, 0, query.PageSize)}
	for rows.Next() {
		var (
			idValue      int64
			rec          storage.AuditEventRecord
			timestampRaw int64
		)
		if err := rows.Scan(&idValue, &rec.UserID, &rec.EventType, &rec.Severity, &timestampRaw, &rec.PayloadCiphertext); err != nil {
			return storage.AuditEventPage{}, fmt.Errorf("scan audit event row: %w", err)
		}
		rec.ID = strconv.FormatInt(idValue, 10)
		rec.Timestamp = fromMillis(timestampRaw)
		page.Events = append(page.Events, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.AuditEventPage{}, fmt.Errorf("iterate audit event rows: %w", err)
	}
	if len(page.Events) > query.PageSize {
		page.NextPageToken = page.Events[query.PageSize-1].ID
		page.Events = page.Events[:query.PageSize]
	}
	return page, nil
}
