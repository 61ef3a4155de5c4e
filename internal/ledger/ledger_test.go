package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

func newLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("ledger_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.PhoneNumber{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedPhones(t *testing.T, db *gorm.DB, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		p, err := repo.CreatePhone(context.Background(), db, fmt.Sprintf("+1555333%04d", i))
		if err != nil {
			t.Fatalf("seed phone %d: %v", i, err)
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func TestClaimNext_FIFOAndNoDoubleClaim(t *testing.T) {
	db := newLedgerDB(t)
	l := New(db, 3, nil)
	ctx := context.Background()
	ids := seedPhones(t, db, 3)

	first, err := l.ClaimNext(ctx)
	if err != nil || first == nil {
		t.Fatalf("ClaimNext: %v, %v", first, err)
	}
	if first.ID != ids[0] {
		t.Fatalf("expected oldest pending %d, got %d", ids[0], first.ID)
	}

	second, err := l.ClaimNext(ctx)
	if err != nil || second == nil {
		t.Fatalf("second ClaimNext: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("same number claimed twice")
	}
	if second.ID != ids[1] {
		t.Fatalf("claims out of FIFO order: %d", second.ID)
	}
	if l.InFlight() != 2 {
		t.Fatalf("InFlight = %d, want 2", l.InFlight())
	}

	// Release returns the number to the front of the queue.
	l.Release(first.ID)
	again, err := l.ClaimNext(ctx)
	if err != nil || again == nil || again.ID != first.ID {
		t.Fatalf("released number not reclaimable: %v, %v", again, err)
	}
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	db := newLedgerDB(t)
	l := New(db, 3, nil)

	p, err := l.ClaimNext(context.Background())
	if err != nil || p != nil {
		t.Fatalf("expected (nil, nil) on empty queue, got (%v, %v)", p, err)
	}
}

func TestClaimNext_ConcurrentClaimsAreDistinct(t *testing.T) {
	db := newLedgerDB(t)
	l := New(db, 3, nil)
	ctx := context.Background()
	seedPhones(t, db, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[uint]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.ClaimNext(ctx)
			if err != nil || p == nil {
				t.Errorf("ClaimNext: %v, %v", p, err)
				return
			}
			mu.Lock()
			seen[p.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 10 {
		t.Fatalf("expected 10 distinct claims, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("number %d claimed %d times", id, n)
		}
	}
}

func TestRecordOutcome_TerminalTransitions(t *testing.T) {
	cases := []struct {
		name       string
		res        Result
		wantStatus string
	}{
		{"added", Result{Outcome: OutcomeAdded}, domain.PhoneAdded},
		{"invited", Result{Outcome: OutcomeInvited}, domain.PhoneInvited},
		{"blacklisted", Result{Outcome: OutcomeBlacklisted, Reason: "privacy restricted"}, domain.PhoneBlacklisted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newLedgerDB(t)
			l := New(db, 3, nil)
			ctx := context.Background()
			seedPhones(t, db, 1)

			p, _ := l.ClaimNext(ctx)
			if err := l.RecordOutcome(ctx, p, tc.res); err != nil {
				t.Fatalf("RecordOutcome: %v", err)
			}
			if p.Status != tc.wantStatus || p.LastAttemptAt == nil {
				t.Fatalf("in-memory state: %+v", p)
			}
			if l.InFlight() != 0 {
				t.Fatalf("claim not released")
			}

			got, err := repo.GetPhone(ctx, db, p.ID)
			if err != nil || got.Status != tc.wantStatus {
				t.Fatalf("persisted status = %q, %v", got.Status, err)
			}
			if tc.res.Outcome == OutcomeBlacklisted && got.BlacklistReason != "privacy restricted" {
				t.Fatalf("blacklist reason not persisted: %+v", got)
			}

			// Terminal entries never reappear in the queue.
			next, _ := l.ClaimNext(ctx)
			if next != nil {
				t.Fatalf("terminal number reclaimed: %+v", next)
			}
		})
	}
}

func TestRecordOutcome_RateLimitedAndSessionInvalidStayPending(t *testing.T) {
	for _, out := range []Outcome{OutcomeRateLimited, OutcomeSessionInvalid} {
		t.Run(out.String(), func(t *testing.T) {
			db := newLedgerDB(t)
			l := New(db, 3, nil)
			ctx := context.Background()
			seedPhones(t, db, 1)

			p, _ := l.ClaimNext(ctx)
			if err := l.RecordOutcome(ctx, p, Result{Outcome: out}); err != nil {
				t.Fatalf("RecordOutcome: %v", err)
			}
			if p.Status != domain.PhonePending || p.AttemptCount != 0 {
				t.Fatalf("worker-side fault must not touch number state: %+v", p)
			}

			// The number re-enters the FIFO at its original position.
			again, err := l.ClaimNext(ctx)
			if err != nil || again == nil || again.ID != p.ID {
				t.Fatalf("number not requeued: %v, %v", again, err)
			}
		})
	}
}

func TestRecordOutcome_TransientRetriesThenFails(t *testing.T) {
	db := newLedgerDB(t)
	l := New(db, 3, nil)
	ctx := context.Background()
	seedPhones(t, db, 1)

	for attempt := 1; attempt <= 3; attempt++ {
		p, err := l.ClaimNext(ctx)
		if err != nil || p == nil {
			t.Fatalf("ClaimNext attempt %d: %v", attempt, err)
		}
		if err := l.RecordOutcome(ctx, p, Result{Outcome: OutcomeTransient, Reason: "peer flood"}); err != nil {
			t.Fatalf("RecordOutcome attempt %d: %v", attempt, err)
		}
		if p.AttemptCount != attempt {
			t.Fatalf("AttemptCount = %d after attempt %d", p.AttemptCount, attempt)
		}
		if attempt < 3 && p.Status != domain.PhonePending {
			t.Fatalf("number left pending early: %+v", p)
		}
	}

	got, err := repo.GetPhone(ctx, db, 1)
	if err != nil || got.Status != domain.PhoneFailed || got.LastError != "peer flood" {
		t.Fatalf("retry budget spent: %+v, %v", got, err)
	}
	if next, _ := l.ClaimNext(ctx); next != nil {
		t.Fatalf("failed number reclaimed: %+v", next)
	}
}

func TestRecordOutcome_RejectsNonPending(t *testing.T) {
	db := newLedgerDB(t)
	l := New(db, 3, nil)
	ctx := context.Background()
	seedPhones(t, db, 1)

	p, _ := l.ClaimNext(ctx)
	if err := l.RecordOutcome(ctx, p, Result{Outcome: OutcomeAdded}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	err := l.RecordOutcome(ctx, p, Result{Outcome: OutcomeAdded})
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestNew_DefaultRetryLimit(t *testing.T) {
	l := New(nil, 0, nil)
	if l.RetryLimit() != DefaultRetryLimit {
		t.Fatalf("RetryLimit = %d, want %d", l.RetryLimit(), DefaultRetryLimit)
	}
}
