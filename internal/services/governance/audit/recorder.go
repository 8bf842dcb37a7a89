package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/platform/timeouts"
	"github.com/brightward/brightward/internal/services/governance/secret"
	"github.com/brightward/brightward/internal/services/governance/storage"
)

// KeyName is the vault key the recorder seals payloads with.
const KeyName = "audit"

// DefaultPageSize is applied when a query does not set a page size. The
// store rejects non-positive page sizes, so the recorder fills it in.
const DefaultPageSize = 50

// eventPayload is the sealed portion of an event.
type eventPayload struct {
	Description       string            `json:"description"`
	Details           map[string]string `json:"details,omitempty"`
	ActionTaken       bool              `json:"action_taken"`
	ActionDescription string            `json:"action_description,omitempty"`
}

// Query scopes an audit trail listing. Filter is an AIP-160 expression
// over user_id, type, severity, and ts.
type Query struct {
	From      *time.Time
	To        *time.Time
	UserID    string
	Filter    string
	PageSize  int
	PageToken string
}

// Page is one page of decrypted events in append order.
type Page struct {
	Events        []Event
	NextPageToken string
}

// Recorder appends and queries sealed audit events.
type Recorder struct {
	store storage.AuditEventStore
	vault *secret.Vault
	clock func() time.Time
}

// NewRecorder creates an audit recorder. The vault must already hold the
// audit key.
func NewRecorder(store storage.AuditEventStore, vault *secret.Vault) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit event store is required")
	}
	if vault == nil {
		return nil, errors.New("vault is required")
	}
	return &Recorder{store: store, vault: vault, clock: time.Now}, nil
}

// Append seals and durably stores one event, returning its id. The write
// is bounded: a slow store fails the append rather than hanging the
// caller. Failures surface as AUDIT_WRITE_FAILED so the gateway can
// refuse to report a decision it could not record.
func (r *Recorder) Append(ctx context.Context, event Event) (string, error) {
	if r == nil || r.store == nil {
		return "", errors.New("recorder is not configured")
	}
	if strings.TrimSpace(event.UserID) == "" {
		return "", errors.New("event user id is required")
	}
	if _, err := ParseEventType(string(event.Type)); err != nil {
		return "", err
	}
	if _, err := ParseSeverity(string(event.Severity)); err != nil {
		return "", err
	}

	payload, err := json.Marshal(eventPayload{
		Description:       event.Description,
		Details:           event.Details,
		ActionTaken:       event.ActionTaken,
		ActionDescription: event.ActionDescription,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.AuditAppend)
	defer cancel()

	sealed, err := r.vault.Encrypt(ctx, string(payload), KeyName)
	if err != nil {
		return "", err
	}

	eventID, err := r.store.AppendAuditEvent(ctx, storage.AuditEventRecord{
		UserID:            event.UserID,
		EventType:         string(event.Type),
		Severity:          string(event.Severity),
		Timestamp:         r.clock().UTC(),
		PayloadCiphertext: sealed,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuditWriteFailed, "append audit event", err)
	}
	return eventID, nil
}

// Query lists events in append order and opens their payloads. A payload
// that fails to decrypt fails the whole query: a partially readable
// audit trail is worse than an unavailable one.
func (r *Recorder) Query(ctx context.Context, query Query) (Page, error) {
	if r == nil || r.store == nil {
		return Page{}, errors.New("recorder is not configured")
	}

	condition, err := ParseFilter(query.Filter)
	if err != nil {
		return Page{}, fmt.Errorf("parse audit filter: %w", err)
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	listCtx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()
	listed, err := r.store.ListAuditEvents(listCtx, storage.AuditQuery{
		From:      query.From,
		To:        query.To,
		UserID:    strings.TrimSpace(query.UserID),
		Condition: condition,
		PageSize:  pageSize,
		PageToken: query.PageToken,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list audit events: %w", err)
	}

	page := Page{NextPageToken: listed.NextPageToken}
	for _, record := range listed.Events {
		event, err := r.openEvent(ctx, record)
		if err != nil {
			return Page{}, err
		}
		page.Events = append(page.Events, event)
	}
	return page, nil
}

func (r *Recorder) openEvent(ctx context.Context, record storage.AuditEventRecord) (Event, error) {
	opened, err := r.vault.Decrypt(ctx, record.PayloadCiphertext, KeyName)
	if err != nil {
		return Event{}, err
	}
	var payload eventPayload
	if err := json.Unmarshal([]byte(opened), &payload); err != nil {
		return Event{}, apperrors.Wrap(apperrors.CodeEncryptionFailure, fmt.Sprintf("decode audit event %s payload", record.ID), err)
	}

	eventType, err := ParseEventType(record.EventType)
	if err != nil {
		return Event{}, fmt.Errorf("audit event %s: %w", record.ID, err)
	}
	severity, err := ParseSeverity(record.Severity)
	if err != nil {
		return Event{}, fmt.Errorf("audit event %s: %w", record.ID, err)
	}

	return Event{
		ID:                record.ID,
		UserID:            record.UserID,
		Type:              eventType,
		Severity:          severity,
		Description:       payload.Description,
		Details:           payload.Details,
		Timestamp:         record.Timestamp,
		ActionTaken:       payload.ActionTaken,
		ActionDescription: payload.ActionDescription,
	}, nil
}
