// Package budget enforces the per-user daily spending limit for AI,
// speech, and moderation calls.
//
// Admission is a two-phase reserve/commit: Reserve checks the day's spend
// plus in-flight reservations against the limit before any external call
// happens, and Commit debits the actual cost afterwards. Completed work is
// always paid for, even when it lands over budget; only future reserves
// are refused.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
	"github.com/brightward/brightward/internal/platform/id"
	"github.com/brightward/brightward/internal/platform/timeouts"
	"github.com/brightward/brightward/internal/services/governance/storage"
)

// Category identifies which metered service a charge belongs to.
type Category string

const (
	CategoryAI         Category = "ai"
	CategorySpeech     Category = "speech"
	CategoryModeration Category = "moderation"
)

// ErrInvalidCategory indicates an unknown charge category.
var ErrInvalidCategory = errors.New("category is invalid")

// ParseCategory validates and normalizes a category value.
func ParseCategory(value string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(value))) {
	case CategoryAI:
		return CategoryAI, nil
	case CategorySpeech:
		return CategorySpeech, nil
	case CategoryModeration:
		return CategoryModeration, nil
	default:
		return "", ErrInvalidCategory
	}
}

// dayKey formats a UTC day for storage keys.
const dayKey = "2006-01-02"

// Reservation is a provisional hold on budget headroom. It is not a
// debit: releasing or abandoning it leaves the day's record untouched.
type Reservation struct {
	ID        string
	UserID    string
	Category  Category
	Estimate  Amount
	CreatedAt time.Time
}

// DailySpend reports one user's spend for the current UTC day.
type DailySpend struct {
	Day             string
	AICalls         int64
	SpeechCalls     int64
	ModerationCalls int64
	AICost          Amount
	SpeechCost      Amount
	ModerationCost  Amount
	TotalCost       Amount
}

// Ledger tracks per-user daily spend against a fixed budget.
type Ledger struct {
	store       storage.CostStore
	limit       Amount
	clock       func() time.Time
	idGenerator func() (string, error)

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]map[string]Reservation // userID -> reservation ID -> reservation
}

// NewLedger creates a cost ledger with the given daily limit per user.
func NewLedger(store storage.CostStore, limit Amount) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("cost store is required")
	}
	if limit <= 0 {
		return nil, errors.New("daily limit must be greater than zero")
	}
	return &Ledger{
		store:       store,
		limit:       limit,
		clock:       time.Now,
		idGenerator: id.NewID,
		locks:       map[string]*sync.Mutex{},
		pending:     map[string]map[string]Reservation{},
	}, nil
}

// userLock returns the serialization point for one user's budget state.
// Locks are per user so concurrent requests for different users never
// contend with each other.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

func (l *Ledger) pendingTotal(userID string) Amount {
	var total Amount
	for _, res := range l.pending[userID] {
		total += res.Estimate
	}
	return total
}

// Reserve checks whether a call with the given estimated cost fits under
// today's budget, counting other in-flight reservations. On success the
// estimate is held until Commit or Release. Denial mutates nothing.
func (l *Ledger) Reserve(ctx context.Context, userID string, category Category, estimate Amount) (Reservation, error) {
	if l == nil || l.store == nil {
		return Reservation{}, errors.New("ledger is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Reservation{}, errors.New("user id is required")
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return Reservation{}, err
	}
	if estimate < 0 {
		return Reservation{}, errors.New("estimated cost must not be negative")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock().UTC()
	record, err := l.dayRecord(ctx, userID, now)
	if err != nil {
		return Reservation{}, err
	}

	spent := Amount(record.TotalCost())
	held := l.pendingTotal(userID)
	if spent+held+estimate > l.limit {
		return Reservation{}, apperrors.WithMetadata(
			apperrors.CodeBudgetExceeded,
			fmt.Sprintf("daily budget reached for user %s", userID),
			map[string]string{
				"Limit": l.limit.String(),
				"Spent": spent.String(),
			},
		)
	}

	resID, err := l.idGenerator()
	if err != nil {
		return Reservation{}, fmt.Errorf("generate reservation id: %w", err)
	}
	reservation := Reservation{
		ID:        resID,
		UserID:    userID,
		Category:  category,
		Estimate:  estimate,
		CreatedAt: now,
	}
	if l.pending[userID] == nil {
		l.pending[userID] = map[string]Reservation{}
	}
	l.pending[userID][resID] = reservation
	return reservation, nil
}

// Commit debits the actual cost of a completed call and releases the hold.
// The debit always succeeds even if it lands the day over budget: work
// already performed is never retroactively refused, it only gates future
// reserves.
func (l *Ledger) Commit(ctx context.Context, reservation Reservation, actual Amount) error {
	if l == nil || l.store == nil {
		return errors.New("ledger is not configured")
	}
	userID := strings.TrimSpace(reservation.UserID)
	if userID == "" {
		return errors.New("reservation user id is required")
	}
	category, err := ParseCategory(string(reservation.Category))
	if err != nil {
		return err
	}
	if actual < 0 {
		return errors.New("actual cost must not be negative")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	l.dropPending(userID, reservation.ID)

	now := l.clock().UTC()
	record, err := l.dayRecord(ctx, userID, now)
	if err != nil {
		return err
	}
	switch category {
	case CategoryAI:
		record.AICalls++
		record.AICost += int64(actual)
	case CategorySpeech:
		record.SpeechCalls++
		record.SpeechCost += int64(actual)
	case CategoryModeration:
		record.ModerationCalls++
		record.ModerationCost += int64(actual)
	}
	record.UpdatedAt = now
	if err := l.store.PutCostRecord(ctx, record); err != nil {
		return fmt.Errorf("commit cost: %w", err)
	}
	return nil
}

// Release drops a reservation without debiting anything, for calls that
// failed, were cancelled, or were abandoned.
func (l *Ledger) Release(reservation Reservation) {
	if l == nil {
		return
	}
	userID := strings.TrimSpace(reservation.UserID)
	if userID == "" {
		return
	}
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	l.dropPending(userID, reservation.ID)
}

func (l *Ledger) dropPending(userID, reservationID string) {
	if held, ok := l.pending[userID]; ok {
		delete(held, reservationID)
		if len(held) == 0 {
			delete(l.pending, userID)
		}
	}
}

// IsOverDailyLimit reports whether the user has reached or exceeded
// today's budget.
func (l *Ledger) IsOverDailyLimit(ctx context.Context, userID string) (bool, error) {
	spend, err := l.DailySpend(ctx, userID)
	if err != nil {
		return false, err
	}
	return spend.TotalCost >= l.limit, nil
}

// DailySpend returns the user's committed spend for the current UTC day.
// In-flight reservations are not included: they are holds, not debits.
func (l *Ledger) DailySpend(ctx context.Context, userID string) (DailySpend, error) {
	if l == nil || l.store == nil {
		return DailySpend{}, errors.New("ledger is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DailySpend{}, errors.New("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.StorageOp)
	defer cancel()

	record, err := l.dayRecord(ctx, userID, l.clock().UTC())
	if err != nil {
		return DailySpend{}, err
	}
	return DailySpend{
		Day:             record.Day,
		AICalls:         record.AICalls,
		SpeechCalls:     record.SpeechCalls,
		ModerationCalls: record.ModerationCalls,
		AICost:          Amount(record.AICost),
		SpeechCost:      Amount(record.SpeechCost),
		ModerationCost:  Amount(record.ModerationCost),
		TotalCost:       Amount(record.TotalCost()),
	}, nil
}

// dayRecord loads the user's record for the given instant's UTC day,
// returning a zeroed record when none exists yet.
func (l *Ledger) dayRecord(ctx context.Context, userID string, now time.Time) (storage.CostRecord, error) {
	day := now.UTC().Format(dayKey)
	record, err := l.store.GetCostRecord(ctx, userID, day)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.CostRecord{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return storage.CostRecord{}, fmt.Errorf("load cost record: %w", err)
	}
	return record, nil
}
