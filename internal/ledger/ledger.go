// Package ledger owns the lifecycle of queued phone numbers: FIFO claiming of
// pending entries and the status state machine applied after each remote
// attempt.
//
// Status transitions are the only ones permitted:
//
//	Pending  -> Added        (success; terminal)
//	Pending  -> Invited      (invite-link fallback delivered; terminal)
//	Pending  -> Pending      (rate-limited or invalid worker session)
//	Pending  -> Blacklisted  (permanent per-number denial; terminal)
//	Pending  -> Failed       (transient error with the retry budget spent)
//	Pending  -> Pending      (transient error, attempts < retry limit)
//
// Claims are tracked in memory so that two concurrent dispatch cycles can
// never both pick the same number. A claim is released either by recording an
// outcome or explicitly via Release (when the attempt never reached the
// platform). After a restart the claim set is naturally empty; persisted
// statuses alone determine what is still pending, which is what makes a run
// resumable.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

// DefaultRetryLimit bounds automatic retries of transient per-number faults.
const DefaultRetryLimit = 3

// Outcome classifies the result of one remote addition attempt.
type Outcome int

const (
	// OutcomeAdded: the number was added to the destination.
	OutcomeAdded Outcome = iota
	// OutcomeInvited: the invite-link fallback message was delivered.
	OutcomeInvited
	// OutcomeRateLimited: the platform imposed a temporary penalty on the
	// worker; the number itself is untouched and stays pending.
	OutcomeRateLimited
	// OutcomeBlacklisted: the number is permanently excluded (privacy
	// restriction or equivalent per-number denial).
	OutcomeBlacklisted
	// OutcomeTransient: a retryable per-number fault.
	OutcomeTransient
	// OutcomeSessionInvalid: the worker's session was rejected; the number
	// stays pending and is retried with a different worker.
	OutcomeSessionInvalid
)

// String returns the snake_case outcome name used in logs and events.
func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeInvited:
		return "invited"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeBlacklisted:
		return "blacklisted"
	case OutcomeTransient:
		return "transient_error"
	case OutcomeSessionInvalid:
		return "session_invalid"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result carries an Outcome plus its human-readable reason (blacklist cause
// or transient error detail).
type Result struct {
	Outcome Outcome
	Reason  string
}

// Ledger is the single point of truth for claiming pending numbers and
// recording attempt outcomes. It is safe for concurrent use.
type Ledger struct {
	db         *gorm.DB
	retryLimit int
	now        func() time.Time

	mu      sync.Mutex
	claimed map[uint]struct{}
}

// New constructs a Ledger. retryLimit <= 0 selects DefaultRetryLimit; a nil
// now uses time.Now.
func New(db *gorm.DB, retryLimit int, now func() time.Time) *Ledger {
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		db:         db,
		retryLimit: retryLimit,
		now:        now,
		claimed:    make(map[uint]struct{}),
	}
}

// ClaimNext atomically claims the oldest pending phone number that is not
// already claimed by another cycle. It returns (nil, nil) when nothing is
// claimable.
func (l *Ledger) ClaimNext(ctx context.Context) (*domain.PhoneNumber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exclude := make([]uint, 0, len(l.claimed))
	for id := range l.claimed {
		exclude = append(exclude, id)
	}
	rows, err := repo.NextPendingPhones(ctx, l.db, 1, exclude)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := rows[0]
	l.claimed[p.ID] = struct{}{}
	return &p, nil
}

// Release drops a claim without recording an outcome. Used when the attempt
// never consumed platform capacity (e.g., quota reservation lost a race).
func (l *Ledger) Release(id uint) {
	l.mu.Lock()
	delete(l.claimed, id)
	l.mu.Unlock()
}

// InFlight returns the number of currently claimed phone numbers.
func (l *Ledger) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claimed)
}

// PendingCount returns how many numbers are persisted as pending, including
// any currently claimed ones.
func (l *Ledger) PendingCount(ctx context.Context) (int64, error) {
	return repo.CountPhones(ctx, l.db, domain.PhonePending)
}

// RetryLimit returns the configured automatic retry bound.
func (l *Ledger) RetryLimit() int { return l.retryLimit }

// RecordOutcome applies the state machine to a claimed phone number,
// persists the transition, and releases the claim. Terminal statuses
// (Added, Invited, Blacklisted) are never modified again; calling
// RecordOutcome for a number that already left Pending is a programming
// error and returns ErrNotPending.
func (l *Ledger) RecordOutcome(ctx context.Context, p *domain.PhoneNumber, res Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Status != domain.PhonePending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, p.Value, p.Status)
	}

	at := l.now().UTC()
	p.LastAttemptAt = &at

	switch res.Outcome {
	case OutcomeAdded:
		p.Status = domain.PhoneAdded
		p.LastError = ""
	case OutcomeInvited:
		p.Status = domain.PhoneInvited
		p.LastError = ""
	case OutcomeRateLimited, OutcomeSessionInvalid:
		// Not a per-number fault: stays pending, no attempt counted.
	case OutcomeBlacklisted:
		p.Status = domain.PhoneBlacklisted
		p.BlacklistReason = res.Reason
		p.LastError = res.Reason
	case OutcomeTransient:
		p.AttemptCount++
		p.LastError = res.Reason
		if p.AttemptCount >= l.retryLimit {
			p.Status = domain.PhoneFailed
		}
		// Below the limit the number simply stays pending and re-enters
		// the FIFO at its original position.
	default:
		return fmt.Errorf("ledger: unhandled outcome %v", res.Outcome)
	}

	if err := repo.UpdatePhone(ctx, l.db, p); err != nil {
		return err
	}
	delete(l.claimed, p.ID)
	return nil
}
