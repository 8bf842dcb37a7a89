package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brightward/brightward/internal/platform/id"
	"github.com/brightward/brightward/internal/services/governance/audit"
	"github.com/brightward/brightward/internal/services/governance/budget"
)

// reservationHandle tracks one authorized interaction between Authorize
// and Complete. Handles are single-owner: the caller that received one
// is the only party expected to complete it. pending holds an audit
// event whose append failed after the cost was committed; a replay
// retries it before the stored completion is returned.
type reservationHandle struct {
	id          string
	reservation budget.Reservation
	createdAt   time.Time
	consumed    bool
	completion  Completion
	pending     *audit.Event
}

// handleRegistry holds outstanding reservation handles. Abandoned
// handles (caller crashed or timed out before Complete) are swept after
// a grace period so their budget holds do not linger.
type handleRegistry struct {
	mu          sync.Mutex
	handles     map[string]*reservationHandle
	idGenerator func() (string, error)
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{
		handles:     map[string]*reservationHandle{},
		idGenerator: id.NewID,
	}
}

func (r *handleRegistry) create(reservation budget.Reservation, now time.Time) (string, error) {
	handleID, err := r.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate handle id: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[handleID] = &reservationHandle{
		id:          handleID,
		reservation: reservation,
		createdAt:   now,
	}
	return handleID, nil
}

var errUnknownHandle = errors.New("unknown reservation handle")

// take returns the handle's reservation for completion, or the stored
// completion (plus any pending audit event) if the handle was already
// consumed. The handle is marked consumed on first take so a concurrent
// or repeated Complete cannot commit twice.
func (r *handleRegistry) take(handleID string) (budget.Reservation, Completion, *audit.Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.handles[handleID]
	if !ok {
		return budget.Reservation{}, Completion{}, nil, false, errUnknownHandle
	}
	if handle.consumed {
		return budget.Reservation{}, handle.completion, handle.pending, true, nil
	}
	handle.consumed = true
	return handle.reservation, Completion{}, nil, false, nil
}

// storeCompletion records the result of a consumed handle for
// idempotent replays. The audit event is on record, so any pending
// event is cleared.
func (r *handleRegistry) storeCompletion(handleID string, completion Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[handleID]; ok {
		handle.completion = completion
		handle.pending = nil
	}
}

// storePending records a completion whose audit event has not landed.
// The cost is already committed, so a replay must not commit again; it
// retries the append instead.
func (r *handleRegistry) storePending(handleID string, completion Completion, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[handleID]; ok {
		handle.completion = completion
		handle.pending = &event
	}
}

// unconsume reverts a take whose completion work failed before any
// durable effect, so the caller may retry.
func (r *handleRegistry) unconsume(handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[handleID]; ok {
		handle.consumed = false
	}
}

// release drops an unconsumed handle, for admits that failed after the
// handle was created.
func (r *handleRegistry) release(handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, handleID)
}

// sweep removes handles older than the grace period and returns the
// reservations of the abandoned (never completed) ones so their budget
// holds can be released. Consumed handles past the grace period are
// simply forgotten.
func (r *handleRegistry) sweep(now time.Time, grace time.Duration) []budget.Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var abandoned []budget.Reservation
	for handleID, handle := range r.handles {
		if now.Sub(handle.createdAt) <= grace {
			continue
		}
		if !handle.consumed {
			abandoned = append(abandoned, handle.reservation)
		}
		delete(r.handles, handleID)
	}
	return abandoned
}
