// Package audit records governance decisions in an encrypted append-only
// trail. Events are immutable once written; the payload travels sealed
// and is only opened at query time.
package audit

import (
	"errors"
	"strings"
	"time"
)

// EventType categorizes what a governance decision was about.
type EventType string

const (
	EventContentFlagged     EventType = "content_flagged"
	EventSessionTimeout     EventType = "session_timeout"
	EventBudgetExceeded     EventType = "budget_exceeded"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventPolicyViolation    EventType = "policy_violation"
	EventNormalInteraction  EventType = "normal_interaction"
)

// ErrInvalidEventType indicates an unknown event type value.
var ErrInvalidEventType = errors.New("event type is invalid")

// ParseEventType validates an event type value.
func ParseEventType(value string) (EventType, error) {
	switch EventType(strings.TrimSpace(value)) {
	case EventContentFlagged:
		return EventContentFlagged, nil
	case EventSessionTimeout:
		return EventSessionTimeout, nil
	case EventBudgetExceeded:
		return EventBudgetExceeded, nil
	case EventUnauthorizedAccess:
		return EventUnauthorizedAccess, nil
	case EventPolicyViolation:
		return EventPolicyViolation, nil
	case EventNormalInteraction:
		return EventNormalInteraction, nil
	default:
		return "", ErrInvalidEventType
	}
}

// Severity ranks how serious an event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrInvalidSeverity indicates an unknown severity value.
var ErrInvalidSeverity = errors.New("severity is invalid")

// ParseSeverity validates a severity value.
func ParseSeverity(value string) (Severity, error) {
	switch Severity(strings.TrimSpace(value)) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", ErrInvalidSeverity
	}
}

// Event is one governance decision. Description, Details, and the action
// fields are sealed before storage; ID and Timestamp are assigned on
// append.
type Event struct {
	ID                string
	UserID            string
	Type              EventType
	Severity          Severity
	Description       string
	Details           map[string]string
	Timestamp         time.Time
	ActionTaken       bool
	ActionDescription string
}
