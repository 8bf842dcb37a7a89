package gateway

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/services/governance/audit"
	"github.com/brightward/brightward/internal/services/governance/budget"
	"github.com/brightward/brightward/internal/services/governance/moderation"
	"github.com/brightward/brightward/internal/services/governance/secret"
	"github.com/brightward/brightward/internal/services/governance/session"
	"github.com/brightward/brightward/internal/services/governance/storage"
	"github.com/brightward/brightward/internal/services/governance/storage/sqlite"
)

// flakyAuditStore injects append failures over a real store, for paths
// that must survive an audit outage.
type flakyAuditStore struct {
	storage.AuditEventStore

	mu       sync.Mutex
	failures int
}

func (s *flakyAuditStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *flakyAuditStore) AppendAuditEvent(ctx context.Context, record storage.AuditEventRecord) (string, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return "", errors.New("audit store unavailable")
	}
	s.mu.Unlock()
	return s.AuditEventStore.AppendAuditEvent(ctx, record)
}

type gatewayFixture struct {
	gateway    *Gateway
	guard      *session.Guard
	ledger     *budget.Ledger
	recorder   *audit.Recorder
	auditStore *flakyAuditStore
	priv       ed25519.PrivateKey

	mu  sync.Mutex
	now time.Time
}

func (f *gatewayFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *gatewayFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "governance.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fixture := &gatewayFixture{
		now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fixture.priv = priv

	vault, err := secret.NewVault(store, bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatalf("NewVault returned error: %v", err)
	}
	if _, err := vault.CreateKey(context.Background(), audit.KeyName, secret.AlgorithmAESGCM); err != nil {
		t.Fatalf("CreateKey returned error: %v", err)
	}

	fixture.auditStore = &flakyAuditStore{AuditEventStore: store}
	recorder, err := audit.NewRecorder(fixture.auditStore, vault)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	fixture.recorder = recorder

	limit, err := budget.ParseAmount("0.08")
	if err != nil {
		t.Fatalf("parse limit: %v", err)
	}
	ledger, err := budget.NewLedger(store, limit)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}
	fixture.ledger = ledger

	tokens := session.TokenConfig{
		Issuer:   "issuer",
		Audience: "governance",
		Key:      pub,
		Now:      fixture.clock,
	}
	guard, err := session.NewGuard(store, store, tokens, session.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewGuard returned error: %v", err)
	}
	fixture.guard = guard

	moderator, err := moderation.NewModerator(moderation.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewModerator returned error: %v", err)
	}

	gw, err := NewGateway(guard, ledger, moderator, recorder, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGateway returned error: %v", err)
	}
	fixture.gateway = gw
	return fixture
}

// startSession mints a session and its token, the way the
// authentication boundary would after verifying credentials.
func (f *gatewayFixture) startSession(t *testing.T, userID string) string {
	t.Helper()

	created, err := f.guard.StartSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("StartSession returned error: %v", err)
	}

	headerJSON, err := json.Marshal(map[string]any{"alg": "EdDSA", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payloadJSON, err := json.Marshal(map[string]any{
		"iss": "issuer",
		"aud": []string{"governance"},
		"exp": f.clock().Add(24 * time.Hour).Unix(),
		"jti": created.ID,
		"sub": userID,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	encodedHeader := base64.RawURLEncoding.EncodeToString(headerJSON)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := encodedHeader + "." + encodedPayload
	signature := ed25519.Sign(f.priv, []byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature)
}

func mustAmount(t *testing.T, value string) budget.Amount {
	t.Helper()
	amount, err := budget.ParseAmount(value)
	if err != nil {
		t.Fatalf("ParseAmount(%q) returned error: %v", value, err)
	}
	return amount
}

func (f *gatewayFixture) lastEvents(t *testing.T, userID string) []audit.Event {
	t.Helper()
	page, err := f.recorder.Query(context.Background(), audit.Query{UserID: userID})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	return page.Events
}

func TestGatewayAuthorizeAllows(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "help me practice counting to ten",
		EstimatedCost: mustAmount(t, "0.05"),
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allow, got denial %s: %s", decision.Reason, decision.Message)
	}
	if decision.Handle == "" {
		t.Error("expected a reservation handle")
	}
	if decision.AuditEventID == "" {
		t.Error("expected an audit event id")
	}

	events := fixture.lastEvents(t, "user-1")
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Type != audit.EventNormalInteraction || events[0].Severity != audit.SeverityInfo {
		t.Errorf("event = %s/%s, want %s/%s", events[0].Type, events[0].Severity, audit.EventNormalInteraction, audit.SeverityInfo)
	}
}

func TestGatewayAuthorizeDeniesExpiredSession(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	fixture.advance(session.DefaultPolicy().IdleTimeout + time.Minute)

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "hello",
		EstimatedCost: mustAmount(t, "0.01"),
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial for expired session")
	}
	if decision.Reason != apperrors.CodeSessionExpired {
		t.Errorf("reason = %s, want %s", decision.Reason, apperrors.CodeSessionExpired)
	}
	if decision.Message == "" {
		t.Error("expected a player-facing message")
	}

	events := fixture.lastEvents(t, "user-1")
	if len(events) != 1 || events[0].Type != audit.EventSessionTimeout {
		t.Fatalf("expected one session timeout event, got %+v", events)
	}
}

func TestGatewayAuthorizeDeniesOverBudget(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	// Spend 0.06 of the 0.08 budget through a full admit/complete cycle.
	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "let's learn about shapes",
		EstimatedCost: mustAmount(t, "0.06"),
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("first Authorize = %+v, %v", decision, err)
	}
	if _, err := fixture.gateway.Complete(ctx, decision.Handle, "a square has four equal sides to count", mustAmount(t, "0.06")); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	denied, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "more learning please",
		EstimatedCost: mustAmount(t, "0.05"),
	})
	if err != nil {
		t.Fatalf("second Authorize returned error: %v", err)
	}
	if denied.Allowed {
		t.Fatal("expected denial over budget")
	}
	if denied.Reason != apperrors.CodeBudgetExceeded {
		t.Errorf("reason = %s, want %s", denied.Reason, apperrors.CodeBudgetExceeded)
	}

	events := fixture.lastEvents(t, "user-1")
	last := events[len(events)-1]
	if last.Type != audit.EventBudgetExceeded || last.Severity != audit.SeverityMedium {
		t.Errorf("event = %s/%s, want %s/%s", last.Type, last.Severity, audit.EventBudgetExceeded, audit.SeverityMedium)
	}
}

func TestGatewayAuthorizeDeniesUnsafeInput(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "I hate this, it's stupid",
		EstimatedCost: mustAmount(t, "0.01"),
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial for unsafe input")
	}
	if decision.Reason != apperrors.CodeContentRejected {
		t.Errorf("reason = %s, want %s", decision.Reason, apperrors.CodeContentRejected)
	}

	events := fixture.lastEvents(t, "user-1")
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	event := events[0]
	if event.Type != audit.EventPolicyViolation || event.Severity != audit.SeverityHigh {
		t.Errorf("event = %s/%s, want %s/%s", event.Type, event.Severity, audit.EventPolicyViolation, audit.SeverityHigh)
	}
	if event.Details["MatchedPolicy"] != string(moderation.CategoryNegativity) {
		t.Errorf("matched policy = %q, want %q", event.Details["MatchedPolicy"], moderation.CategoryNegativity)
	}

	// The denied request holds no budget.
	spend, err := fixture.ledger.DailySpend(ctx, "user-1")
	if err != nil {
		t.Fatalf("DailySpend returned error: %v", err)
	}
	if spend.TotalCost != 0 {
		t.Errorf("total cost = %s, want 0", spend.TotalCost)
	}
}

func TestGatewayCompleteFlagsUnsafeOutput(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "tell me a story about reading",
		EstimatedCost: mustAmount(t, "0.02"),
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("Authorize = %+v, %v", decision, err)
	}

	completion, err := fixture.gateway.Complete(ctx, decision.Handle, "the knight drew his gun and attacked", mustAmount(t, "0.03"))
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if completion.OutputSafe {
		t.Error("expected output to be flagged")
	}
	if !completion.UseFallback {
		t.Error("expected fallback signal")
	}

	// The call happened; its cost is committed regardless.
	spend, err := fixture.ledger.DailySpend(ctx, "user-1")
	if err != nil {
		t.Fatalf("DailySpend returned error: %v", err)
	}
	if want := mustAmount(t, "0.03"); spend.TotalCost != want {
		t.Errorf("total cost = %s, want %s", spend.TotalCost, want)
	}

	events := fixture.lastEvents(t, "user-1")
	last := events[len(events)-1]
	if last.Type != audit.EventContentFlagged || last.Severity != audit.SeverityHigh {
		t.Errorf("event = %s/%s, want %s/%s", last.Type, last.Severity, audit.EventContentFlagged, audit.SeverityHigh)
	}
	if !last.ActionTaken {
		t.Error("expected action taken on flagged output")
	}
}

func TestGatewayCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "let's count together",
		EstimatedCost: mustAmount(t, "0.02"),
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("Authorize = %+v, %v", decision, err)
	}

	first, err := fixture.gateway.Complete(ctx, decision.Handle, "one two three, counting is great", mustAmount(t, "0.02"))
	if err != nil {
		t.Fatalf("first Complete returned error: %v", err)
	}
	second, err := fixture.gateway.Complete(ctx, decision.Handle, "one two three, counting is great", mustAmount(t, "0.02"))
	if err != nil {
		t.Fatalf("second Complete returned error: %v", err)
	}
	if second != first {
		t.Errorf("second completion %+v differs from first %+v", second, first)
	}

	// Cost is committed exactly once.
	spend, err := fixture.ledger.DailySpend(ctx, "user-1")
	if err != nil {
		t.Fatalf("DailySpend returned error: %v", err)
	}
	if want := mustAmount(t, "0.02"); spend.TotalCost != want {
		t.Errorf("total cost = %s, want %s", spend.TotalCost, want)
	}
	if spend.AICalls != 1 {
		t.Errorf("ai calls = %d, want 1", spend.AICalls)
	}

	// And exactly one completion event was written.
	events := fixture.lastEvents(t, "user-1")
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events (admit, complete), got %d", len(events))
	}
}

func TestGatewayCompleteRetriesAuditOnReplay(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "let's count together",
		EstimatedCost: mustAmount(t, "0.02"),
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("Authorize = %+v, %v", decision, err)
	}

	// The cost commit lands but the completion event does not.
	fixture.auditStore.failNext(1)
	if _, err := fixture.gateway.Complete(ctx, decision.Handle, "one two three, counting is great", mustAmount(t, "0.02")); err == nil {
		t.Fatal("expected error when the audit write fails")
	}

	// The retry appends the missed event and returns a full result.
	completion, err := fixture.gateway.Complete(ctx, decision.Handle, "one two three, counting is great", mustAmount(t, "0.02"))
	if err != nil {
		t.Fatalf("retry Complete returned error: %v", err)
	}
	if completion.AuditEventID == "" {
		t.Error("expected audit event id on the retried completion")
	}
	if !completion.OutputSafe {
		t.Error("expected safe output verdict to survive the retry")
	}

	// Cost was committed exactly once across both attempts.
	spend, err := fixture.ledger.DailySpend(ctx, "user-1")
	if err != nil {
		t.Fatalf("DailySpend returned error: %v", err)
	}
	if want := mustAmount(t, "0.02"); spend.TotalCost != want {
		t.Errorf("total cost = %s, want %s", spend.TotalCost, want)
	}
	if spend.AICalls != 1 {
		t.Errorf("ai calls = %d, want 1", spend.AICalls)
	}

	// The completion event made it into the trail after all.
	events := fixture.lastEvents(t, "user-1")
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events (admit, complete), got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != audit.EventNormalInteraction {
		t.Errorf("event type = %s, want %s", last.Type, audit.EventNormalInteraction)
	}
	if last.ID != completion.AuditEventID {
		t.Errorf("event id = %q, want %q", last.ID, completion.AuditEventID)
	}

	// Further replays return the stored result without re-appending.
	again, err := fixture.gateway.Complete(ctx, decision.Handle, "one two three, counting is great", mustAmount(t, "0.02"))
	if err != nil {
		t.Fatalf("replay Complete returned error: %v", err)
	}
	if again != completion {
		t.Errorf("replay %+v differs from retried completion %+v", again, completion)
	}
	if events := fixture.lastEvents(t, "user-1"); len(events) != 2 {
		t.Fatalf("expected still 2 audit events, got %d", len(events))
	}
}

func TestGatewayCompleteReportsHandleInFlight(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "let's count together",
		EstimatedCost: mustAmount(t, "0.02"),
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("Authorize = %+v, %v", decision, err)
	}

	// Another caller holds the handle mid-completion: consumed, but no
	// result stored yet.
	if _, _, _, _, err := fixture.gateway.handles.take(decision.Handle); err != nil {
		t.Fatalf("take returned error: %v", err)
	}

	_, err = fixture.gateway.Complete(ctx, decision.Handle, "one two three", mustAmount(t, "0.02"))
	if apperrors.CodeOf(err) != apperrors.CodeReservationConsumed {
		t.Fatalf("expected reservation consumed error, got %v", err)
	}
}

func TestGatewayCompleteUnknownHandle(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)

	_, err := fixture.gateway.Complete(ctx, "no-such-handle", "output", mustAmount(t, "0.01"))
	if apperrors.CodeOf(err) != apperrors.CodeReservationInvalid {
		t.Fatalf("expected reservation invalid error, got %v", err)
	}
}

func TestGatewaySweepReleasesAbandonedReservations(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	fixture.gateway.clock = fixture.clock
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "teach me spelling",
		EstimatedCost: mustAmount(t, "0.06"),
	})
	if err != nil || !decision.Allowed {
		t.Fatalf("Authorize = %+v, %v", decision, err)
	}

	// The caller crashed: Complete never arrives. Until the grace
	// period passes, the hold still counts against the budget.
	if released := fixture.gateway.SweepAbandoned(); released != 0 {
		t.Fatalf("expected no releases inside grace period, got %d", released)
	}

	fixture.advance(DefaultHandleGrace + time.Second)
	if released := fixture.gateway.SweepAbandoned(); released != 1 {
		t.Fatalf("expected 1 release after grace period, got %d", released)
	}

	// Headroom is restored; no cost was ever debited.
	token2 := fixture.startSession(t, "user-1")
	again, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token2,
		Category:      budget.CategoryAI,
		InputText:     "teach me spelling",
		EstimatedCost: mustAmount(t, "0.06"),
	})
	if err != nil {
		t.Fatalf("Authorize after sweep returned error: %v", err)
	}
	if !again.Allowed {
		t.Fatalf("expected allow after sweep, got %s", again.Reason)
	}

	// The abandoned handle is gone for good.
	if _, err := fixture.gateway.Complete(ctx, decision.Handle, "late output", mustAmount(t, "0.01")); apperrors.CodeOf(err) != apperrors.CodeReservationInvalid {
		t.Fatalf("expected reservation invalid for swept handle, got %v", err)
	}
}

func TestGatewayAuthorizeRecordsLowPedagogyNote(t *testing.T) {
	ctx := context.Background()
	fixture := newGatewayFixture(t)
	token := fixture.startSession(t, "user-1")

	decision, err := fixture.gateway.Authorize(ctx, Request{
		UserID:        "user-1",
		SessionToken:  token,
		Category:      budget.CategoryAI,
		InputText:     "the weather outside is grey and cloudy today",
		EstimatedCost: mustAmount(t, "0.01"),
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allow despite low pedagogy, got %s", decision.Reason)
	}

	events := fixture.lastEvents(t, "user-1")
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events (note, admit), got %d", len(events))
	}
	note := events[0]
	if note.Type != audit.EventPolicyViolation || note.Severity != audit.SeverityInfo {
		t.Errorf("note = %s/%s, want %s/%s", note.Type, note.Severity, audit.EventPolicyViolation, audit.SeverityInfo)
	}

	// The admit carries a nudge the player can be shown.
	if decision.Message == "" {
		t.Error("expected a player-facing message on a low-pedagogy admit")
	}
}
