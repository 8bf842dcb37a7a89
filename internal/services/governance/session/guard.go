package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/platform/id"
	"github.com/brightward/brightward/internal/platform/timeouts"
	"github.com/brightward/brightward/internal/services/governance/storage"
)

// Policy defines session timeout and lockout thresholds.
type Policy struct {
	IdleTimeout       time.Duration
	AbsoluteTimeout   time.Duration
	MaxFailedAttempts int64
	AttemptWindow     time.Duration
	LockoutCooldown   time.Duration
}

// DefaultPolicy returns the standard policy for child play sessions:
// short idle windows and a firm absolute cap.
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:       15 * time.Minute,
		AbsoluteTimeout:   time.Hour,
		MaxFailedAttempts: 5,
		AttemptWindow:     15 * time.Minute,
		LockoutCooldown:   30 * time.Minute,
	}
}

func (p Policy) validate() error {
	if p.IdleTimeout <= 0 {
		return errors.New("idle timeout must be greater than zero")
	}
	if p.AbsoluteTimeout <= 0 {
		return errors.New("absolute timeout must be greater than zero")
	}
	if p.MaxFailedAttempts <= 0 {
		return errors.New("max failed attempts must be greater than zero")
	}
	if p.AttemptWindow <= 0 {
		return errors.New("attempt window must be greater than zero")
	}
	if p.LockoutCooldown <= 0 {
		return errors.New("lockout cooldown must be greater than zero")
	}
	return nil
}

// Guard decides whether a user is currently allowed to transact. It
// trusts that tokens were minted upstream and applies timeout and
// lockout policy on top of signature verification.
type Guard struct {
	sessions    storage.SessionStore
	lockouts    storage.LockoutStore
	tokens      TokenConfig
	policy      Policy
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewGuard creates a session guard.
func NewGuard(sessions storage.SessionStore, lockouts storage.LockoutStore, tokens TokenConfig, policy Policy) (*Guard, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if lockouts == nil {
		return nil, errors.New("lockout store is required")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	clock := time.Now
	if tokens.Now != nil {
		clock = tokens.Now
	}
	return &Guard{
		sessions:    sessions,
		lockouts:    lockouts,
		tokens:      tokens,
		policy:      policy,
		clock:       clock,
		idGenerator: id.NewID,
	}, nil
}

// StartSession creates an Active session for a user who just
// authenticated. Locked-out users cannot start new sessions until the
// cooldown elapses, correct credentials or not.
func (g *Guard) StartSession(ctx context.Context, userID string) (Session, error) {
	if g == nil || g.sessions == nil {
		return Session{}, errors.New("guard is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, errors.New("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	now := g.clock().UTC()
	locked, err := g.lockedOut(ctx, userID, now)
	if err != nil {
		return Session{}, err
	}
	if locked {
		return Session{}, apperrors.New(apperrors.CodeSessionLockedOut, fmt.Sprintf("user %s is locked out", userID))
	}

	sessionID, err := g.idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	created := Session{
		ID:             sessionID,
		UserID:         userID,
		Status:         StatusActive,
		StartedAt:      now,
		ExpiresAt:      now.Add(g.policy.AbsoluteTimeout),
		LastActivityAt: now,
	}
	if err := g.sessions.PutSession(ctx, toRecord(created)); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	return created, nil
}

// Authorize validates a session token and applies lifecycle policy. On
// success the session's last activity is refreshed. Denials report the
// specific reason so callers can render the right message.
func (g *Guard) Authorize(ctx context.Context, token string) (Session, error) {
	if g == nil || g.sessions == nil {
		return Session{}, errors.New("guard is not configured")
	}

	claims, err := ValidateSessionToken(token, g.tokens)
	if err != nil {
		return Session{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	now := g.clock().UTC()
	locked, err := g.lockedOut(ctx, claims.UserID, now)
	if err != nil {
		return Session{}, err
	}
	if locked {
		return Session{}, apperrors.New(apperrors.CodeSessionLockedOut, fmt.Sprintf("user %s is locked out", claims.UserID))
	}

	record, err := g.sessions.GetSession(ctx, claims.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, apperrors.New(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s not found", claims.SessionID))
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	current, err := fromRecord(record)
	if err != nil {
		return Session{}, err
	}
	if current.UserID != claims.UserID {
		return Session{}, apperrors.New(apperrors.CodeSessionTokenInvalid, "session token user mismatch")
	}

	switch current.Status {
	case StatusLoggedOut:
		return Session{}, apperrors.New(apperrors.CodeSessionLoggedOut, fmt.Sprintf("session %s is logged out", current.ID))
	case StatusLockedOut:
		return Session{}, apperrors.New(apperrors.CodeSessionLockedOut, fmt.Sprintf("session %s is locked out", current.ID))
	case StatusExpired:
		return Session{}, apperrors.New(apperrors.CodeSessionExpired, fmt.Sprintf("session %s is expired", current.ID))
	}

	// A session idle for exactly the timeout is still good; one
	// millisecond past is not. Same rule at the absolute cap.
	if now.After(current.ExpiresAt) || now.Sub(current.LastActivityAt) > g.policy.IdleTimeout {
		current.Status = StatusExpired
		if err := g.sessions.PutSession(ctx, toRecord(current)); err != nil {
			return Session{}, fmt.Errorf("store expired session: %w", err)
		}
		return Session{}, apperrors.New(apperrors.CodeSessionExpired, fmt.Sprintf("session %s is expired", current.ID))
	}

	current.LastActivityAt = now
	if err := g.sessions.PutSession(ctx, toRecord(current)); err != nil {
		return Session{}, fmt.Errorf("refresh session activity: %w", err)
	}
	return current, nil
}

// Logout ends a session explicitly. Logging out an already-terminal
// session is a no-op.
func (g *Guard) Logout(ctx context.Context, sessionID string) error {
	if g == nil || g.sessions == nil {
		return errors.New("guard is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	record, err := g.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.New(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s not found", sessionID))
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	current, err := fromRecord(record)
	if err != nil {
		return err
	}
	if current.Status != StatusActive {
		return nil
	}
	current.Status = StatusLoggedOut
	if err := g.sessions.PutSession(ctx, toRecord(current)); err != nil {
		return fmt.Errorf("store logged out session: %w", err)
	}
	return nil
}

// RecordFailedAttempt counts a failed authentication attempt. Reaching
// the attempt limit within the window locks the user out for the
// cooldown period.
func (g *Guard) RecordFailedAttempt(ctx context.Context, userID string) error {
	if g == nil || g.lockouts == nil {
		return errors.New("guard is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	now := g.clock().UTC()
	record, err := g.lockouts.GetLockout(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		record = storage.LockoutRecord{UserID: userID}
	} else if err != nil {
		return fmt.Errorf("load lockout: %w", err)
	}

	if record.FailedAttempts == 0 || now.Sub(record.WindowStartedAt) > g.policy.AttemptWindow {
		record.FailedAttempts = 1
		record.WindowStartedAt = now
	} else {
		record.FailedAttempts++
	}
	if record.FailedAttempts >= g.policy.MaxFailedAttempts {
		lockedUntil := now.Add(g.policy.LockoutCooldown)
		record.LockedUntil = &lockedUntil
	}
	record.UpdatedAt = now
	if err := g.lockouts.PutLockout(ctx, record); err != nil {
		return fmt.Errorf("store lockout: %w", err)
	}
	return nil
}

// RecordSuccess resets the failed-attempt counter. An active lockout is
// not cleared: correct credentials do not shorten the cooldown.
func (g *Guard) RecordSuccess(ctx context.Context, userID string) error {
	if g == nil || g.lockouts == nil {
		return errors.New("guard is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	record, err := g.lockouts.GetLockout(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load lockout: %w", err)
	}
	// The window timestamp stays as stored: with the counter at zero the
	// next failed attempt starts a fresh window regardless.
	record.FailedAttempts = 0
	record.UpdatedAt = g.clock().UTC()
	if err := g.lockouts.PutLockout(ctx, record); err != nil {
		return fmt.Errorf("store lockout: %w", err)
	}
	return nil
}

// IsLockedOut reports whether the user is currently in a lockout cooldown.
func (g *Guard) IsLockedOut(ctx context.Context, userID string) (bool, error) {
	if g == nil || g.lockouts == nil {
		return false, errors.New("guard is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()
	return g.lockedOut(ctx, strings.TrimSpace(userID), g.clock().UTC())
}

func (g *Guard) lockedOut(ctx context.Context, userID string, now time.Time) (bool, error) {
	record, err := g.lockouts.GetLockout(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load lockout: %w", err)
	}
	return record.LockedUntil != nil && now.Before(*record.LockedUntil), nil
}

func toRecord(s Session) storage.SessionRecord {
	return storage.SessionRecord{
		ID:             s.ID,
		UserID:         s.UserID,
		Status:         string(s.Status),
		StartedAt:      s.StartedAt,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
	}
}

func fromRecord(r storage.SessionRecord) (Session, error) {
	status, err := ParseStatus(r.Status)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", r.ID, err)
	}
	return Session{
		ID:             r.ID,
		UserID:         r.UserID,
		Status:         status,
		StartedAt:      r.StartedAt,
		ExpiresAt:      r.ExpiresAt,
		LastActivityAt: r.LastActivityAt,
	}, nil
}
