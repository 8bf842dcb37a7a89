// Package session enforces session lifecycle and lockout policy. Tokens
// are minted and cryptographically validated by the authentication
// boundary; this package owns everything that happens after that: idle
// and absolute timeouts, logout, and failed-attempt lockouts.
package session

import (
	"errors"
	"strings"
	"time"
)

// Status is a session lifecycle state. Active self-loops on activity
// refresh; the other states are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusLoggedOut Status = "logged_out"
	StatusLockedOut Status = "locked_out"
)

// ErrInvalidStatus indicates an unknown session status value.
var ErrInvalidStatus = errors.New("session status is invalid")

// ParseStatus validates a stored status value.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.TrimSpace(value)) {
	case StatusActive:
		return StatusActive, nil
	case StatusExpired:
		return StatusExpired, nil
	case StatusLoggedOut:
		return StatusLoggedOut, nil
	case StatusLockedOut:
		return StatusLockedOut, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Session is one user's authenticated play session.
type Session struct {
	ID             string
	UserID         string
	Status         Status
	StartedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}
