// Package gateway orchestrates governance for each AI interaction:
// session policy, budget admission, and content moderation, in that
// order, with one audit record per decision. The actual AI call happens
// outside this package; the gateway only admits it beforehand and
// settles it afterwards.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/platform/errors/i18n"
	"github.com/brightward/brightward/internal/services/governance/audit"
	"github.com/brightward/brightward/internal/services/governance/budget"
	"github.com/brightward/brightward/internal/services/governance/moderation"
	"github.com/brightward/brightward/internal/services/governance/session"
)

// DefaultHandleGrace is how long an admitted interaction may stay
// uncompleted before its reservation is reclaimed.
const DefaultHandleGrace = 2 * time.Minute

// Request is one proposed AI interaction.
type Request struct {
	UserID        string
	SessionToken  string
	Category      budget.Category
	InputText     string
	EstimatedCost budget.Amount
	Locale        string
}

// Decision is the outcome of Authorize. Denials carry the machine
// reason plus a child-friendly message ready to show the player.
type Decision struct {
	Allowed      bool
	Handle       string
	Reason       apperrors.Code
	Message      string
	AuditEventID string
}

// Completion is the outcome of Complete. UseFallback tells the caller
// to discard the provider output and show a safe canned response.
type Completion struct {
	OutputSafe   bool
	UseFallback  bool
	LowPedagogy  bool
	AuditEventID string
}

// Gateway is the governance facade.
type Gateway struct {
	guard       *session.Guard
	ledger      *budget.Ledger
	moderator   *moderation.Moderator
	recorder    *audit.Recorder
	handles     *handleRegistry
	handleGrace time.Duration
	logger      zerolog.Logger
	clock       func() time.Time
}

// NewGateway wires the governance components together.
func NewGateway(guard *session.Guard, ledger *budget.Ledger, moderator *moderation.Moderator, recorder *audit.Recorder, logger zerolog.Logger) (*Gateway, error) {
	if guard == nil {
		return nil, errors.New("session guard is required")
	}
	if ledger == nil {
		return nil, errors.New("cost ledger is required")
	}
	if moderator == nil {
		return nil, errors.New("moderator is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	return &Gateway{
		guard:       guard,
		ledger:      ledger,
		moderator:   moderator,
		recorder:    recorder,
		handles:     newHandleRegistry(),
		handleGrace: DefaultHandleGrace,
		logger:      logger,
		clock:       time.Now,
	}, nil
}

// Authorize decides whether one interaction may proceed. Checks run in
// order (session, budget, input moderation) and the first failure
// short-circuits. Every decision, admit or deny, lands in the audit
// trail before the caller hears about it; if the audit write fails the
// interaction is not admitted.
func (g *Gateway) Authorize(ctx context.Context, req Request) (Decision, error) {
	if g == nil || g.recorder == nil {
		return Decision{}, errors.New("gateway is not configured")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return Decision{}, errors.New("user id is required")
	}

	sess, err := g.guard.Authorize(ctx, req.SessionToken)
	if err != nil {
		return g.denySession(ctx, userID, req.Locale, err)
	}
	if sess.UserID != userID {
		denial := apperrors.New(apperrors.CodeSessionTokenInvalid, "session token user mismatch")
		return g.denySession(ctx, userID, req.Locale, denial)
	}

	reservation, err := g.ledger.Reserve(ctx, userID, req.Category, req.EstimatedCost)
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeBudgetExceeded {
			return Decision{}, err
		}
		return g.deny(ctx, denial{
			userID:      userID,
			locale:      req.Locale,
			code:        apperrors.CodeBudgetExceeded,
			eventType:   audit.EventBudgetExceeded,
			severity:    audit.SeverityMedium,
			description: "daily budget reached",
			metadata:    apperrors.MetadataOf(err),
		})
	}

	verdict := g.moderator.Evaluate(req.InputText)
	if !verdict.Safe {
		g.ledger.Release(reservation)
		return g.deny(ctx, denial{
			userID:      userID,
			locale:      req.Locale,
			code:        apperrors.CodeContentRejected,
			eventType:   audit.EventPolicyViolation,
			severity:    audit.SeverityHigh,
			description: "input text matched a prohibited term",
			metadata: map[string]string{
				"MatchedPolicy": string(verdict.MatchedPolicy),
				"MatchedTerm":   verdict.MatchedTerm,
			},
		})
	}

	handleID, err := g.handles.create(reservation, g.clock().UTC())
	if err != nil {
		g.ledger.Release(reservation)
		return Decision{}, err
	}

	if verdict.LowPedagogy {
		// Recorded, not blocking: the text is safe but carries no
		// educational tone.
		if _, err := g.recorder.Append(ctx, audit.Event{
			UserID:      userID,
			Type:        audit.EventPolicyViolation,
			Severity:    audit.SeverityInfo,
			Description: "input text has low pedagogical value",
		}); err != nil {
			g.abortAdmit(handleID, reservation)
			return Decision{}, err
		}
	}

	eventID, err := g.recorder.Append(ctx, audit.Event{
		UserID:      userID,
		Type:        audit.EventNormalInteraction,
		Severity:    audit.SeverityInfo,
		Description: "interaction authorized",
		Details: map[string]string{
			"Category": string(req.Category),
			"Estimate": req.EstimatedCost.String(),
		},
	})
	if err != nil {
		g.abortAdmit(handleID, reservation)
		return Decision{}, err
	}

	decision := Decision{Allowed: true, Handle: handleID, AuditEventID: eventID}
	if verdict.LowPedagogy {
		// An admit, but with a nudge the caller can surface.
		decision.Message = i18n.GetCatalog(req.Locale).Format(string(apperrors.CodeLowPedagogy), nil)
	}

	g.logger.Info().
		Str("user_id", userID).
		Str("category", string(req.Category)).
		Str("handle", handleID).
		Msg("interaction authorized")
	return decision, nil
}

// Complete settles an admitted interaction: the actual cost is always
// committed (the call happened and must be paid for), then the provider
// output is moderated. Unsafe output is discarded and replaced by a
// fallback signal. Completing the same handle twice returns the first
// result without double-committing.
func (g *Gateway) Complete(ctx context.Context, handleID, outputText string, actualCost budget.Amount) (Completion, error) {
	if g == nil || g.recorder == nil {
		return Completion{}, errors.New("gateway is not configured")
	}
	handleID = strings.TrimSpace(handleID)
	if handleID == "" {
		return Completion{}, apperrors.New(apperrors.CodeReservationInvalid, "reservation handle is required")
	}

	reservation, replay, pending, consumed, err := g.handles.take(handleID)
	if errors.Is(err, errUnknownHandle) {
		return Completion{}, apperrors.New(apperrors.CodeReservationInvalid, fmt.Sprintf("reservation handle %s is unknown", handleID))
	}
	if err != nil {
		return Completion{}, err
	}
	if consumed {
		return g.replayCompletion(ctx, handleID, replay, pending)
	}

	if err := g.ledger.Commit(ctx, reservation, actualCost); err != nil {
		// Nothing durable happened yet; the caller may retry.
		g.handles.unconsume(handleID)
		return Completion{}, err
	}

	verdict := g.moderator.Evaluate(outputText)
	event := audit.Event{
		UserID:   reservation.UserID,
		Severity: audit.SeverityInfo,
		Details: map[string]string{
			"Category": string(reservation.Category),
			"Actual":   actualCost.String(),
		},
	}
	completion := Completion{OutputSafe: verdict.Safe, LowPedagogy: verdict.LowPedagogy}
	if verdict.Safe {
		event.Type = audit.EventNormalInteraction
		event.Description = "interaction completed"
		if verdict.LowPedagogy {
			event.Details["LowPedagogy"] = "true"
		}
	} else {
		event.Type = audit.EventContentFlagged
		event.Severity = audit.SeverityHigh
		event.Description = "provider output matched a prohibited term"
		event.Details["MatchedPolicy"] = string(verdict.MatchedPolicy)
		event.Details["MatchedTerm"] = verdict.MatchedTerm
		event.ActionTaken = true
		event.ActionDescription = "output discarded, fallback response substituted"
		completion.UseFallback = true
	}

	eventID, err := g.recorder.Append(ctx, event)
	if err != nil {
		// Cost is already committed, so a retry must not commit again.
		// The event rides along with the stored result and a replay
		// retries the append until it lands.
		g.handles.storePending(handleID, completion, event)
		return Completion{}, err
	}
	completion.AuditEventID = eventID
	g.handles.storeCompletion(handleID, completion)

	g.logger.Info().
		Str("user_id", reservation.UserID).
		Str("handle", handleID).
		Bool("output_safe", verdict.Safe).
		Msg("interaction completed")
	return completion, nil
}

// replayCompletion settles a repeated Complete on an already consumed
// handle. A finished completion is returned as-is. One with a pending
// audit event retries the append, so the flag the first attempt built
// is recorded rather than lost; until that lands the result stays
// unreturned. A handle with neither is still being completed by the
// first caller.
func (g *Gateway) replayCompletion(ctx context.Context, handleID string, replay Completion, pending *audit.Event) (Completion, error) {
	if replay.AuditEventID != "" {
		return replay, nil
	}
	if pending == nil {
		return Completion{}, apperrors.New(apperrors.CodeReservationConsumed, fmt.Sprintf("reservation handle %s is being completed", handleID))
	}
	eventID, err := g.recorder.Append(ctx, *pending)
	if err != nil {
		return Completion{}, err
	}
	replay.AuditEventID = eventID
	g.handles.storeCompletion(handleID, replay)
	return replay, nil
}

// denial describes one refused interaction.
type denial struct {
	userID      string
	locale      string
	code        apperrors.Code
	eventType   audit.EventType
	severity    audit.Severity
	description string
	metadata    map[string]string
}

// deny audits a refusal and renders its player-facing message. The
// audit write must land first: a denial the trail never saw is reported
// as governance unavailable instead.
func (g *Gateway) deny(ctx context.Context, d denial) (Decision, error) {
	eventID, err := g.recorder.Append(ctx, audit.Event{
		UserID:            d.userID,
		Type:              d.eventType,
		Severity:          d.severity,
		Description:       d.description,
		Details:           d.metadata,
		ActionTaken:       true,
		ActionDescription: "request denied",
	})
	if err != nil {
		return Decision{}, err
	}

	message := i18n.GetCatalog(d.locale).Format(string(d.code), d.metadata)
	g.logger.Info().
		Str("user_id", d.userID).
		Str("reason", string(d.code)).
		Msg("interaction denied")
	return Decision{Reason: d.code, Message: message, AuditEventID: eventID}, nil
}

// denySession maps a guard denial to its audit shape. Unexpected errors
// pass through untouched.
func (g *Gateway) denySession(ctx context.Context, userID, locale string, cause error) (Decision, error) {
	code := apperrors.CodeOf(cause)
	d := denial{
		userID:   userID,
		locale:   locale,
		code:     code,
		metadata: apperrors.MetadataOf(cause),
	}
	switch code {
	case apperrors.CodeSessionExpired, apperrors.CodeSessionLoggedOut:
		d.eventType = audit.EventSessionTimeout
		d.severity = audit.SeverityLow
		d.description = "session is no longer active"
	case apperrors.CodeSessionLockedOut:
		d.eventType = audit.EventUnauthorizedAccess
		d.severity = audit.SeverityMedium
		d.description = "user is locked out"
	case apperrors.CodeSessionNotFound, apperrors.CodeSessionTokenInvalid:
		d.eventType = audit.EventUnauthorizedAccess
		d.severity = audit.SeverityMedium
		d.description = "session token was rejected"
	default:
		return Decision{}, cause
	}
	return g.deny(ctx, d)
}

// abortAdmit unwinds an admit whose audit write failed.
func (g *Gateway) abortAdmit(handleID string, reservation budget.Reservation) {
	g.handles.release(handleID)
	g.ledger.Release(reservation)
}

// SweepAbandoned reclaims reservations whose handles were never
// completed within the grace period. Returns how many were released.
func (g *Gateway) SweepAbandoned() int {
	if g == nil || g.handles == nil {
		return 0
	}
	abandoned := g.handles.sweep(g.clock().UTC(), g.handleGrace)
	for _, reservation := range abandoned {
		g.ledger.Release(reservation)
		g.logger.Warn().
			Str("user_id", reservation.UserID).
			Str("reservation", reservation.ID).
			Msg("abandoned reservation released")
	}
	return len(abandoned)
}

// RunJanitor sweeps abandoned reservations until the context ends.
func (g *Gateway) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHandleGrace
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.SweepAbandoned()
		}
	}
}
