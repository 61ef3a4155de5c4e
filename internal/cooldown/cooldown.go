// Package cooldown records platform-imposed temporary suspension windows for
// workers. A cooldown encodes a flood-control penalty without marking the
// worker permanently unhealthy: the worker is simply unavailable until the
// window elapses.
//
// Expiry is lazy. Availability is computed on read against the clock; nothing
// ever proactively clears a cooldown.
package cooldown

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

// Registry answers availability questions and records new suspension
// windows. It holds no state of its own beside the clock; the persisted
// worker row is the single source of truth.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRegistry constructs a Registry. Pass nil for now to use time.Now.
func NewRegistry(db *gorm.DB, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{db: db, now: now}
}

// IsAvailable reports whether the worker is outside any suspension window:
// true iff CooldownUntil is unset or in the past.
func (r *Registry) IsAvailable(w *domain.Worker) bool {
	return w.CooldownUntil == nil || !w.CooldownUntil.After(r.now())
}

// Suspend places the worker in a suspension window ending at until and marks
// its health as Cooling. The worker returns to Active lazily, the next time
// the pool observes the window has elapsed.
func (r *Registry) Suspend(ctx context.Context, w *domain.Worker, until time.Time) error {
	w.CooldownUntil = &until
	w.Health = domain.WorkerCooling
	return repo.UpdateWorker(ctx, r.db, w)
}

// EarliestExpiry returns the soonest future cooldown expiry among the given
// workers, or nil when none is pending.
func (r *Registry) EarliestExpiry(workers []domain.Worker) *time.Time {
	now := r.now()
	var earliest *time.Time
	for i := range workers {
		cu := workers[i].CooldownUntil
		if cu == nil || !cu.After(now) {
			continue
		}
		if earliest == nil || cu.Before(*earliest) {
			t := *cu
			earliest = &t
		}
	}
	return earliest
}
