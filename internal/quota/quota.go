// Package quota tracks per-worker daily addition counters. Each worker has a
// daily limit; reservations atomically consume one unit of today's allowance
// and fail once the limit is reached.
//
// The daily reset is lazy: every access compares the worker's stored reset
// date with the current calendar date and zeroes the counter at most once per
// day. There is no background timer, so a process that was offline across a
// day boundary catches up on first access after restart instead of
// accumulating missed resets.
package quota

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

// resetDateLayout is the calendar-date format stored in LastResetDate.
const resetDateLayout = "2006-01-02"

// Tracker manages daily quota counters for all workers. It serializes
// reserve/refund mutations with an internal mutex so that two concurrent
// dispatch cycles can never both consume a worker's last unit.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewTracker constructs a Tracker. now is the clock source; pass nil to use
// time.Now (tests inject a simulated clock).
func NewTracker(db *gorm.DB, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{db: db, now: now}
}

// ResetIfNewDay zeroes the worker's daily counter when the calendar date has
// changed since the last reset. The reset happens at most once per day and is
// idempotent; calling it on every access is the intended usage.
func (t *Tracker) ResetIfNewDay(ctx context.Context, w *domain.Worker) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetLocked(ctx, w)
}

// Remaining returns the number of additions the worker may still perform
// today, after applying any pending day-boundary reset.
func (t *Tracker) Remaining(ctx context.Context, w *domain.Worker) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.resetLocked(ctx, w); err != nil {
		return 0, err
	}
	r := w.DailyLimit - w.DailyCount
	if r < 0 {
		r = 0
	}
	return r, nil
}

// Reserve atomically consumes one unit of the worker's daily allowance.
// It returns false without side effects when the limit is already reached.
func (t *Tracker) Reserve(ctx context.Context, w *domain.Worker) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.resetLocked(ctx, w); err != nil {
		return false, err
	}
	if w.DailyCount >= w.DailyLimit {
		return false, nil
	}
	w.DailyCount++
	if err := repo.UpdateWorker(ctx, t.db, w); err != nil {
		w.DailyCount--
		return false, err
	}
	return true, nil
}

// Refund returns one previously reserved unit. Used when a reserved attempt
// never consumed platform capacity (rate-limited before the addition, or the
// worker's session turned out to be invalid).
func (t *Tracker) Refund(ctx context.Context, w *domain.Worker) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w.DailyCount == 0 {
		return nil
	}
	w.DailyCount--
	return repo.UpdateWorker(ctx, t.db, w)
}

// resetLocked performs the lazy day-boundary reset. Caller holds t.mu.
func (t *Tracker) resetLocked(ctx context.Context, w *domain.Worker) error {
	today := t.now().Format(resetDateLayout)
	if w.LastResetDate == today {
		return nil
	}
	w.DailyCount = 0
	w.LastResetDate = today
	return repo.UpdateWorker(ctx, t.db, w)
}
