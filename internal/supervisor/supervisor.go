// Package supervisor implements the automated addition supervisor: the
// scheduler that decides, cycle by cycle, which pending phone number is
// attempted next, which worker session performs the attempt, how long each
// worker waits before its next attempt, and how platform penalties feed back
// into worker and number state.
//
// One Supervisor instance owns the registry of runs (at most one active run
// per destination). Each run dispatches through a pool of concurrent slots;
// the shared quota tracker, cooldown registry, and status ledger are the
// synchronization points, so two slots can never claim the same number or
// spend the same worker's last unit of quota. The remote call itself runs
// outside any lock.
//
// Stopping a run never aborts an in-flight remote call; it only prevents the
// next dispatch. Worker exhaustion never ends a run by itself: quotas reset
// at the day boundary, so an exhausted run sleeps until the earliest wake
// instant and resumes without re-import.
package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/cooldown"
	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/ledger"
	"github.com/abinet508/go-adder-backend/internal/platform"
	"github.com/abinet508/go-adder-backend/internal/pool"
	"github.com/abinet508/go-adder-backend/internal/quota"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

// Policy holds the supervisor-level scheduling constants, loaded from
// application configuration and fixed for the process lifetime.
type Policy struct {
	// MinDelay / MaxDelay bound the per-worker post-attempt delay a run
	// may configure.
	MinDelay time.Duration
	MaxDelay time.Duration
	// RetryLimit bounds automatic retries of transient per-number faults.
	RetryLimit int
	// DefaultDailyLimit is applied when a run omits its per-worker cap.
	DefaultDailyLimit int
	// DefaultBatchSize is applied when a run omits its batch size.
	DefaultBatchSize int
}

// RunConfig is the caller-supplied configuration for one run. It is
// validated by Start and immutable afterwards.
type RunConfig struct {
	DestinationID string        `json:"destination_id"`
	Delay         time.Duration `json:"delay"`
	BatchSize     int           `json:"batch_size"`
	DailyLimit    int           `json:"daily_limit"`
	InviteMessage string        `json:"invite_message,omitempty"`
	RoleFilter    string        `json:"role_filter,omitempty"`
}

// Supervisor coordinates all runs. It is safe for concurrent use.
type Supervisor struct {
	db     *gorm.DB
	client platform.Client
	policy Policy
	now    func() time.Time

	quota     *quota.Tracker
	cooldowns *cooldown.Registry
	pool      *pool.Pool
	ledger    *ledger.Ledger

	mu     sync.Mutex
	byDest map[string]*runHandle
	byID   map[string]*runHandle
}

// runHandle is the in-memory state of one run.
type runHandle struct {
	delay  time.Duration
	cancel context.CancelFunc
	events *broadcaster

	mu     sync.Mutex
	cond   *sync.Cond
	run    *domain.Run
	joined map[uint]struct{} // workers joined to the destination this run
}

// New constructs a Supervisor and its internal trackers over the shared
// database handle. Pass nil for now to use time.Now.
func New(db *gorm.DB, client platform.Client, policy Policy, now func() time.Time) *Supervisor {
	if now == nil {
		now = time.Now
	}
	if policy.RetryLimit <= 0 {
		policy.RetryLimit = ledger.DefaultRetryLimit
	}
	if policy.DefaultDailyLimit <= 0 {
		policy.DefaultDailyLimit = 80
	}
	if policy.DefaultBatchSize <= 0 {
		policy.DefaultBatchSize = 5
	}
	q := quota.NewTracker(db, now)
	cd := cooldown.NewRegistry(db, now)
	return &Supervisor{
		db:        db,
		client:    client,
		policy:    policy,
		now:       now,
		quota:     q,
		cooldowns: cd,
		pool:      pool.New(db, q, cd, now),
		ledger:    ledger.New(db, policy.RetryLimit, now),
		byDest:    make(map[string]*runHandle),
		byID:      make(map[string]*runHandle),
	}
}

// RecoverOrphans marks runs persisted as running or paused by a previous
// process as stopped. Call once at startup, before accepting new runs; the
// queue itself needs no repair since pending statuses alone drive resumption.
func (s *Supervisor) RecoverOrphans(ctx context.Context) error {
	orphans, err := repo.ActiveRuns(ctx, s.db)
	if err != nil {
		return err
	}
	for i := range orphans {
		r := &orphans[i]
		at := s.now().UTC()
		r.Status = domain.RunStopped
		r.EndedAt = &at
		r.LastError = "interrupted by restart"
		if err := repo.UpdateRun(ctx, s.db, r); err != nil {
			return err
		}
		log.Warn().Str("run_id", r.ID).Str("destination", r.DestinationID).
			Msg("stopped orphaned run from previous process")
	}
	return nil
}

// Start validates the configuration, persists a new run, and launches its
// dispatch slots. It returns ErrRunActive when a run is already running or
// paused against the same destination.
func (s *Supervisor) Start(ctx context.Context, cfg RunConfig) (*domain.Run, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = s.policy.DefaultBatchSize
	}
	if cfg.DailyLimit == 0 {
		cfg.DailyLimit = s.policy.DefaultDailyLimit
	}
	if err := s.validate(cfg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.byDest[cfg.DestinationID]; busy {
		return nil, ErrRunActive
	}

	run := &domain.Run{
		ID:            uuid.NewString(),
		DestinationID: cfg.DestinationID,
		DelaySeconds:  int(cfg.Delay / time.Second),
		BatchSize:     cfg.BatchSize,
		DailyLimit:    cfg.DailyLimit,
		InviteMessage: cfg.InviteMessage,
		RoleFilter:    cfg.RoleFilter,
		Status:        domain.RunRunning,
		StartedAt:     s.now().UTC(),
	}
	if err := repo.CreateRun(ctx, s.db, run); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{
		delay:  cfg.Delay,
		cancel: cancel,
		events: newBroadcaster(),
		run:    run,
		joined: make(map[uint]struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	s.byDest[run.DestinationID] = h
	s.byID[run.ID] = h
	runsActive.Inc()

	log.Info().Str("run_id", run.ID).Str("destination", run.DestinationID).
		Int("batch_size", run.BatchSize).Int("delay_seconds", run.DelaySeconds).
		Str("role_filter", run.RoleFilter).Msg("run started")

	for slot := 0; slot < cfg.BatchSize; slot++ {
		go s.dispatch(runCtx, h)
	}
	snapshot := *run
	return &snapshot, nil
}

// validate enforces the configuration error taxonomy. Invalid values are
// rejected here and never reach the dispatch loop.
func (s *Supervisor) validate(cfg RunConfig) error {
	if strings.TrimSpace(cfg.DestinationID) == "" {
		return ErrNoDestination
	}
	if cfg.Delay < s.policy.MinDelay || cfg.Delay > s.policy.MaxDelay {
		return ErrDelayOutOfRange
	}
	if cfg.BatchSize < 1 {
		return ErrBatchSize
	}
	if cfg.DailyLimit < 1 {
		return ErrDailyLimit
	}
	switch cfg.RoleFilter {
	case "", domain.RoleAdmin, domain.RoleUser:
	default:
		return ErrBadRoleFilter
	}
	return nil
}

// Stop cancels the run. In-flight remote calls finish and their outcomes are
// still recorded; only further dispatch is prevented.
func (s *Supervisor) Stop(id string) error {
	h := s.handle(id)
	if h == nil {
		if _, err := repo.GetRun(context.Background(), s.db, id); err != nil {
			return ErrRunNotFound
		}
		return ErrRunEnded
	}
	return s.endRun(h, domain.RunStopped, "")
}

// Pause suspends dispatch without releasing the destination slot. In-flight
// attempts complete normally.
func (s *Supervisor) Pause(id string) error {
	h := s.handle(id)
	if h == nil {
		if _, err := repo.GetRun(context.Background(), s.db, id); err != nil {
			return ErrRunNotFound
		}
		return ErrRunEnded
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run.Status != domain.RunRunning {
		if h.run.Status == domain.RunPaused {
			return nil
		}
		return ErrRunEnded
	}
	h.run.Status = domain.RunPaused
	if err := repo.UpdateRun(context.Background(), s.db, h.run); err != nil {
		h.run.Status = domain.RunRunning
		return err
	}
	log.Info().Str("run_id", h.run.ID).Msg("run paused")
	return nil
}

// Resume moves a paused run back to running and wakes its dispatch slots.
func (s *Supervisor) Resume(id string) error {
	h := s.handle(id)
	if h == nil {
		if _, err := repo.GetRun(context.Background(), s.db, id); err != nil {
			return ErrRunNotFound
		}
		return ErrRunEnded
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run.Status != domain.RunPaused {
		if h.run.Status == domain.RunRunning {
			return ErrNotPaused
		}
		return ErrRunEnded
	}
	h.run.Status = domain.RunRunning
	if err := repo.UpdateRun(context.Background(), s.db, h.run); err != nil {
		h.run.Status = domain.RunPaused
		return err
	}
	h.cond.Broadcast()
	log.Info().Str("run_id", h.run.ID).Msg("run resumed")
	return nil
}

// Progress returns a snapshot of the run's state, live or archived.
func (s *Supervisor) Progress(ctx context.Context, id string) (*domain.Run, error) {
	if h := s.handle(id); h != nil {
		h.mu.Lock()
		snapshot := *h.run
		h.mu.Unlock()
		return &snapshot, nil
	}
	r, err := repo.GetRun(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return r, nil
}

// Subscribe returns the run's progress-event stream. The cancel function
// must be called when the consumer disconnects. Subscribing to an ended run
// returns ErrRunEnded.
func (s *Supervisor) Subscribe(id string) (<-chan Event, func(), error) {
	h := s.handle(id)
	if h == nil {
		if _, err := repo.GetRun(context.Background(), s.db, id); err != nil {
			return nil, nil, ErrRunNotFound
		}
		return nil, nil, ErrRunEnded
	}
	ch, cancel := h.events.subscribe()
	return ch, cancel, nil
}

// handle resolves a live run by ID.
func (s *Supervisor) handle(id string) *runHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// dispatch is one concurrent slot of the run's scheduling loop. Several
// slots run this function at once; the ledger, quota tracker, and pool keep
// them from colliding on the same number or worker.
func (s *Supervisor) dispatch(ctx context.Context, h *runHandle) {
	for {
		if !h.waitRunning(ctx) {
			return
		}

		w, err := s.pool.Select(ctx, h.roleFilter())
		if err != nil {
			s.failRun(h, err)
			return
		}
		if w == nil {
			pending, err := s.ledger.PendingCount(ctx)
			if err != nil {
				s.failRun(h, err)
				return
			}
			if pending == 0 && s.ledger.InFlight() == 0 {
				s.endRun(h, domain.RunCompleted, "")
				return
			}
			wake, err := s.pool.NextWake(ctx, h.roleFilter())
			if err != nil {
				s.failRun(h, err)
				return
			}
			if wake == nil {
				// Every worker is disconnected: no quota reset or cooldown
				// expiry will ever make progress possible again.
				s.endRun(h, domain.RunCompleted, "all workers disconnected")
				return
			}
			if !s.sleepUntil(ctx, *wake) {
				return
			}
			continue
		}

		p, err := s.ledger.ClaimNext(ctx)
		if err != nil {
			s.pool.Release(w.ID)
			s.failRun(h, err)
			return
		}
		if p == nil {
			s.pool.Release(w.ID)
			if s.ledger.InFlight() == 0 {
				s.endRun(h, domain.RunCompleted, "")
				return
			}
			// Another slot's attempt may still requeue its number; settle.
			if !s.sleepFor(ctx, 200*time.Millisecond) {
				return
			}
			continue
		}

		reserved, err := s.quota.Reserve(ctx, w)
		if err != nil {
			s.ledger.Release(p.ID)
			s.pool.Release(w.ID)
			s.failRun(h, err)
			return
		}
		if !reserved {
			// Lost the reservation race; retry worker selection.
			s.ledger.Release(p.ID)
			s.pool.Release(w.ID)
			continue
		}

		s.attempt(ctx, h, w, p)
		s.pool.Hold(w.ID, s.now().Add(h.delay))
	}
}

// attempt performs one remote addition and feeds the outcome back into the
// ledger, cooldown registry, quota tracker, and run counters. The remote
// call uses a context detached from the run's cancellation so that stopping
// the run never aborts it mid-call.
func (s *Supervisor) attempt(ctx context.Context, h *runHandle, w *domain.Worker, p *domain.PhoneNumber) {
	callCtx := context.WithoutCancel(ctx)
	dest := h.destination()
	lg := log.With().
		Str("run_id", h.runID()).
		Str("destination", dest).
		Uint("worker_id", w.ID).
		Str("worker", w.Name).
		Str("phone", maskPhone(p.Value)).
		Logger()

	// Each worker joins the destination once per run before its first add.
	if !h.hasJoined(w.ID) {
		if err := s.client.JoinDestination(callCtx, w, dest); err != nil {
			s.ledger.Release(p.ID)
			_ = s.quota.Refund(callCtx, w)
			switch {
			case errors.Is(err, platform.ErrForbidden), errors.Is(err, platform.ErrNotFound):
				// The destination is unreachable for good: systemic.
				lg.Error().Err(err).Msg("destination unreachable")
				s.failRun(h, err)
			case errors.Is(err, platform.ErrInvalidSession):
				lg.Warn().Msg("worker session invalid during join")
				_ = s.pool.MarkDisconnected(callCtx, w)
			default:
				lg.Warn().Err(err).Msg("join failed, will retry")
			}
			return
		}
		h.markJoined(w.ID)
	}

	err := s.client.AddMember(callCtx, w, dest, p.Value)

	var res ledger.Result
	refund := false
	if rl, ok := platform.AsRateLimited(err); ok {
		until := s.now().Add(rl.Wait)
		if serr := s.cooldowns.Suspend(callCtx, w, until); serr != nil {
			s.failRun(h, serr)
			return
		}
		res = ledger.Result{Outcome: ledger.OutcomeRateLimited}
		refund = true
		lg.Warn().Dur("wait", rl.Wait).Msg("worker rate limited")
	} else {
		switch {
		case err == nil:
			res = ledger.Result{Outcome: ledger.OutcomeAdded}
		case errors.Is(err, platform.ErrPrivacyRestricted):
			res = s.inviteFallback(callCtx, h, w, p, lg)
		case errors.Is(err, platform.ErrInvalidSession):
			if derr := s.pool.MarkDisconnected(callCtx, w); derr != nil {
				s.failRun(h, derr)
				return
			}
			res = ledger.Result{Outcome: ledger.OutcomeSessionInvalid}
			refund = true
			lg.Warn().Msg("worker session invalid, number requeued")
		default:
			res = ledger.Result{Outcome: ledger.OutcomeTransient, Reason: err.Error()}
			lg.Warn().Err(err).Msg("transient add failure")
		}
	}

	if refund {
		if rerr := s.quota.Refund(callCtx, w); rerr != nil {
			s.failRun(h, rerr)
			return
		}
	}
	if lerr := s.ledger.RecordOutcome(callCtx, p, res); lerr != nil {
		s.failRun(h, lerr)
		return
	}
	if uerr := s.pool.MarkUsed(callCtx, w); uerr != nil {
		s.failRun(h, uerr)
		return
	}

	attemptsTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == ledger.OutcomeAdded {
		lg.Info().Int("daily_count", w.DailyCount).Msg("number added")
	}
	s.applyOutcome(callCtx, h, w, p, res)
}

// inviteFallback handles a privacy-restricted number: one invite-message
// attempt when the run carries an invite text, blacklisting otherwise (or
// when delivery fails too).
func (s *Supervisor) inviteFallback(ctx context.Context, h *runHandle, w *domain.Worker, p *domain.PhoneNumber, lg zerolog.Logger) ledger.Result {
	msg := h.inviteMessage()
	if msg == "" {
		return ledger.Result{Outcome: ledger.OutcomeBlacklisted, Reason: "privacy restricted"}
	}
	if err := s.client.SendInvite(ctx, w, p.Value, msg); err != nil {
		lg.Warn().Err(err).Msg("invite delivery failed")
		return ledger.Result{Outcome: ledger.OutcomeBlacklisted, Reason: "privacy restricted, invite undeliverable"}
	}
	lg.Info().Msg("invite message delivered")
	return ledger.Result{Outcome: ledger.OutcomeInvited}
}

// applyOutcome updates run counters, persists the run row, and publishes a
// progress event. Processed counts only grow when a number reaches a
// terminal status, so the progress stream is monotonically non-decreasing.
func (s *Supervisor) applyOutcome(ctx context.Context, h *runHandle, w *domain.Worker, p *domain.PhoneNumber, res ledger.Result) {
	pending, err := s.ledger.PendingCount(ctx)
	if err != nil {
		s.failRun(h, err)
		return
	}

	h.mu.Lock()
	switch {
	case res.Outcome == ledger.OutcomeAdded:
		h.run.ProcessedCount++
		h.run.SuccessCount++
	case res.Outcome == ledger.OutcomeInvited:
		h.run.ProcessedCount++
		h.run.InvitedCount++
	case res.Outcome == ledger.OutcomeBlacklisted,
		res.Outcome == ledger.OutcomeTransient && p.Status == domain.PhoneFailed:
		h.run.ProcessedCount++
		h.run.FailureCount++
	}
	ev := h.eventLocked(pending)
	ev.Phone = maskPhone(p.Value)
	ev.Outcome = res.Outcome.String()
	ev.WorkerID = w.ID
	ev.WorkerName = w.Name
	ev.WorkerDaily = w.DailyCount
	run := *h.run
	h.mu.Unlock()

	if err := repo.UpdateRun(ctx, s.db, &run); err != nil {
		s.failRun(h, err)
		return
	}
	h.events.publish(ev)
}

// endRun moves the run to a terminal status exactly once, releases the
// destination slot, and closes the event stream.
func (s *Supervisor) endRun(h *runHandle, status string, detail string) error {
	h.mu.Lock()
	if !h.run.Active() {
		h.mu.Unlock()
		return ErrRunEnded
	}
	at := s.now().UTC()
	h.run.Status = status
	h.run.EndedAt = &at
	if detail != "" && h.run.LastError == "" {
		h.run.LastError = detail
	}
	run := *h.run
	pendingLeft, _ := s.ledger.PendingCount(context.Background())
	final := h.eventLocked(pendingLeft)
	h.cond.Broadcast()
	h.mu.Unlock()

	if err := repo.UpdateRun(context.Background(), s.db, &run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("persisting terminal run state failed")
	}

	s.mu.Lock()
	delete(s.byDest, run.DestinationID)
	delete(s.byID, run.ID)
	s.mu.Unlock()

	h.cancel()
	h.events.publish(final)
	h.events.close()
	runsEndedTotal.WithLabelValues(status).Inc()
	runsActive.Dec()

	log.Info().Str("run_id", run.ID).Str("status", status).
		Int("processed", run.ProcessedCount).Int("success", run.SuccessCount).
		Int("invited", run.InvitedCount).Int("failed", run.FailureCount).
		Msg("run ended")
	return nil
}

// failRun stops the run with an error recorded in its state. Only systemic
// faults (persistence or capability unreachable) take this path; per-number
// and per-worker errors are absorbed by the outcome table.
func (s *Supervisor) failRun(h *runHandle, err error) {
	h.mu.Lock()
	if !h.run.Active() {
		// The run already ended; a sibling slot observed the cancelled
		// context. Nothing to record.
		h.mu.Unlock()
		return
	}
	if h.run.LastError == "" {
		h.run.LastError = err.Error()
	}
	h.mu.Unlock()
	log.Error().Err(err).Str("run_id", h.runID()).Msg("run failed")
	_ = s.endRun(h, domain.RunStopped, err.Error())
}

// sleepUntil blocks until the given instant, run cancellation, or a resume
// broadcast. It reports false when the run context ended.
func (s *Supervisor) sleepUntil(ctx context.Context, t time.Time) bool {
	d := t.Sub(s.now())
	if d < 0 {
		d = 0
	}
	return s.sleepFor(ctx, d)
}

// sleepFor blocks for d or until run cancellation, reporting false when the
// run context ended.
func (s *Supervisor) sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ---- runHandle accessors ----

// waitRunning blocks while the run is paused and reports whether dispatch
// may proceed. It returns false once the run context is cancelled or the
// run left the running state for good.
func (h *runHandle) waitRunning(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.run.Status == domain.RunPaused && ctx.Err() == nil {
		h.cond.Wait()
	}
	return ctx.Err() == nil && h.run.Status == domain.RunRunning
}

func (h *runHandle) runID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.ID
}

func (h *runHandle) destination() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.DestinationID
}

func (h *runHandle) roleFilter() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.RoleFilter
}

func (h *runHandle) inviteMessage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.InviteMessage
}

func (h *runHandle) hasJoined(workerID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.joined[workerID]
	return ok
}

func (h *runHandle) markJoined(workerID uint) {
	h.mu.Lock()
	h.joined[workerID] = struct{}{}
	h.mu.Unlock()
}

// eventLocked builds a progress event from the current counters. Caller
// holds h.mu.
func (h *runHandle) eventLocked(pendingLeft int64) Event {
	total := int64(h.run.ProcessedCount) + pendingLeft
	pct := 100.0
	if total > 0 {
		pct = float64(h.run.ProcessedCount) / float64(total) * 100
	}
	return Event{
		RunID:         h.run.ID,
		DestinationID: h.run.DestinationID,
		Status:        h.run.Status,
		Processed:     h.run.ProcessedCount,
		Success:       h.run.SuccessCount,
		Invited:       h.run.InvitedCount,
		Failed:        h.run.FailureCount,
		PendingLeft:   pendingLeft,
		Percent:       pct,
		At:            time.Now().UTC(),
	}
}

// maskPhone hides the middle digits of a phone number for logs and events.
func maskPhone(v string) string {
	if len(v) <= 6 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-6) + v[len(v)-2:]
}
