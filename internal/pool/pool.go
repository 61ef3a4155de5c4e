// Package pool provides the health and eligibility view over all configured
// worker sessions and picks which worker performs the next attempt.
//
// Selection policy: among workers that are Active, outside any cooldown
// window, past their post-attempt delay, and with daily quota remaining,
// pick the least-recently-used one (the worker that least recently completed
// an attempt), breaking ties by ascending ID. Spreading attempts evenly
// across workers is the primary defense against platform abuse heuristics
// that key on burstiness from a single account.
package pool

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/cooldown"
	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/quota"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

// busySettle is how long NextWake defers re-checking a worker whose attempt
// is still in flight. The attempt's end time is unknown, so waiters poll at
// this interval instead of spinning.
const busySettle = 200 * time.Millisecond

// Pool selects eligible workers and tracks per-worker dispatch state that is
// deliberately not persisted: the post-attempt hold window and the "busy"
// mark that keeps two concurrent dispatch cycles off the same worker.
//
// Pool is safe for concurrent use.
type Pool struct {
	db        *gorm.DB
	quota     *quota.Tracker
	cooldowns *cooldown.Registry
	now       func() time.Time

	mu        sync.Mutex
	busy      map[uint]struct{}
	holdUntil map[uint]time.Time
}

// New constructs a Pool over the given trackers. Pass nil for now to use
// time.Now.
func New(db *gorm.DB, q *quota.Tracker, cd *cooldown.Registry, now func() time.Time) *Pool {
	if now == nil {
		now = time.Now
	}
	return &Pool{
		db:        db,
		quota:     q,
		cooldowns: cd,
		now:       now,
		busy:      make(map[uint]struct{}),
		holdUntil: make(map[uint]time.Time),
	}
}

// Select returns the least-recently-used eligible worker, marking it busy so
// no other cycle can select it until Release or Hold is called. roleFilter
// restricts eligibility to domain.RoleAdmin or domain.RoleUser; "" allows
// any role. It returns (nil, nil) when no worker is currently eligible.
//
// A worker whose cooldown window has elapsed is flipped back from Cooling to
// Active here; there is no explicit reconnect step.
func (p *Pool) Select(ctx context.Context, roleFilter string) (*domain.Worker, error) {
	workers, err := repo.ListWorkers(ctx, p.db)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	var best *domain.Worker
	for i := range workers {
		w := &workers[i]
		if w.Role != domain.RoleAdmin && w.Role != domain.RoleUser {
			continue
		}
		if roleFilter != "" && w.Role != roleFilter {
			continue
		}
		if w.Health == domain.WorkerDisconnected {
			continue
		}
		if !p.cooldowns.IsAvailable(w) {
			continue
		}
		if w.Health == domain.WorkerCooling {
			// Window elapsed: recover automatically.
			w.Health = domain.WorkerActive
			if err := repo.UpdateWorker(ctx, p.db, w); err != nil {
				return nil, err
			}
		}
		if _, taken := p.busy[w.ID]; taken {
			continue
		}
		if hold, held := p.holdUntil[w.ID]; held && hold.After(now) {
			continue
		}
		remaining, err := p.quota.Remaining(ctx, w)
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			continue
		}
		if best == nil || lessRecentlyUsed(w, best) {
			best = w
		}
	}
	if best == nil {
		return nil, nil
	}
	p.busy[best.ID] = struct{}{}
	return best, nil
}

// lessRecentlyUsed reports whether a should be preferred over b: older
// LastUsedAt wins, a never-used worker beats any used one, and ties fall
// back to ascending ID.
func lessRecentlyUsed(a, b *domain.Worker) bool {
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt == nil:
		return a.ID < b.ID
	case a.LastUsedAt == nil:
		return true
	case b.LastUsedAt == nil:
		return false
	case a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.ID < b.ID
	default:
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
}

// Release clears the busy mark without imposing a hold window. Used when a
// selected worker performed no attempt (e.g., the quota reservation lost a
// race or the run was cancelled before dispatch).
func (p *Pool) Release(workerID uint) {
	p.mu.Lock()
	delete(p.busy, workerID)
	p.mu.Unlock()
}

// Hold clears the busy mark and keeps the worker ineligible until the given
// instant. This is the per-worker post-attempt delay: other workers proceed
// concurrently while this one waits out its configured pause.
func (p *Pool) Hold(workerID uint, until time.Time) {
	p.mu.Lock()
	p.holdUntil[workerID] = until
	delete(p.busy, workerID)
	p.mu.Unlock()
}

// MarkUsed stamps the worker's LastUsedAt with the current time, moving it
// to the back of the least-recently-used order.
func (p *Pool) MarkUsed(ctx context.Context, w *domain.Worker) error {
	at := p.now().UTC()
	w.LastUsedAt = &at
	return repo.UpdateWorker(ctx, p.db, w)
}

// MarkDisconnected records a remote session-validity failure. Disconnected
// is terminal for the worker until it is re-authenticated externally.
func (p *Pool) MarkDisconnected(ctx context.Context, w *domain.Worker) error {
	w.Health = domain.WorkerDisconnected
	return repo.UpdateWorker(ctx, p.db, w)
}

// NextWake returns the earliest future instant at which some currently
// ineligible worker could become eligible again: the end of a hold window,
// a cooldown expiry, or the next day boundary for a quota-exhausted worker.
// It returns nil when no such instant exists (every worker is disconnected),
// meaning the pool is permanently exhausted.
func (p *Pool) NextWake(ctx context.Context, roleFilter string) (*time.Time, error) {
	workers, err := repo.ListWorkers(ctx, p.db)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	var earliest *time.Time
	consider := func(t time.Time) {
		if !t.After(now) {
			t = now
		}
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}

	for i := range workers {
		w := &workers[i]
		if roleFilter != "" && w.Role != roleFilter {
			continue
		}
		if w.Health == domain.WorkerDisconnected {
			continue
		}
		if !p.cooldowns.IsAvailable(w) {
			consider(*w.CooldownUntil)
			continue
		}
		if _, taken := p.busy[w.ID]; taken {
			// An attempt is in flight; its end time is unknown, so report
			// a short settle interval rather than immediate eligibility,
			// which would have waiters spin for the whole remote call.
			consider(now.Add(busySettle))
			continue
		}
		if hold, held := p.holdUntil[w.ID]; held && hold.After(now) {
			consider(hold)
			continue
		}
		remaining, err := p.quota.Remaining(ctx, w)
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			// Quota resets at the next local day boundary.
			consider(startOfNextDay(now))
			continue
		}
		// Eligible right now.
		consider(now)
	}
	return earliest, nil
}

// startOfNextDay returns midnight of the day after t, in t's location.
func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
