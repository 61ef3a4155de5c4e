package quota

import (
	"context"
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

func newQuotaDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("quota_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.Worker{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fixedClock is a mutable simulated clock shared with the tracker under test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func seedWorker(t *testing.T, db *gorm.DB, limit int) *domain.Worker {
	t.Helper()
	w, err := repo.CreateWorker(context.Background(), db, fmt.Sprintf("w-%d", time.Now().UnixNano()), domain.RoleUser, limit)
	if err != nil {
		t.Fatalf("seed worker: %v", err)
	}
	return w
}

func TestReserve_ConsumesUntilLimit(t *testing.T) {
	db := newQuotaDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	tr := NewTracker(db, clock.now)
	w := seedWorker(t, db, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := tr.Reserve(ctx, w)
		if err != nil || !ok {
			t.Fatalf("Reserve %d = (%v, %v)", i, ok, err)
		}
	}
	ok, err := tr.Reserve(ctx, w)
	if err != nil {
		t.Fatalf("Reserve over limit: %v", err)
	}
	if ok {
		t.Fatalf("reservation must fail once the limit is reached")
	}

	rem, err := tr.Remaining(ctx, w)
	if err != nil || rem != 0 {
		t.Fatalf("Remaining = (%d, %v), want 0", rem, err)
	}

	// Persisted, not just in memory.
	got, err := repo.GetWorker(ctx, db, w.ID)
	if err != nil || got.DailyCount != 2 {
		t.Fatalf("persisted DailyCount = %d, %v", got.DailyCount, err)
	}
}

func TestRefund_ReturnsOneUnit(t *testing.T) {
	db := newQuotaDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	tr := NewTracker(db, clock.now)
	w := seedWorker(t, db, 1)
	ctx := context.Background()

	if ok, _ := tr.Reserve(ctx, w); !ok {
		t.Fatalf("initial reserve failed")
	}
	if ok, _ := tr.Reserve(ctx, w); ok {
		t.Fatalf("limit of 1 should be exhausted")
	}
	if err := tr.Refund(ctx, w); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if ok, _ := tr.Reserve(ctx, w); !ok {
		t.Fatalf("reserve after refund must succeed")
	}

	// Refund at zero is a no-op, never negative.
	w2 := seedWorker(t, db, 1)
	if err := tr.Refund(ctx, w2); err != nil {
		t.Fatalf("Refund at zero: %v", err)
	}
	if w2.DailyCount != 0 {
		t.Fatalf("DailyCount went negative: %d", w2.DailyCount)
	}
}

func TestDayBoundary_ResetsOnceAndSurvivesRestart(t *testing.T) {
	db := newQuotaDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)}
	tr := NewTracker(db, clock.now)
	w := seedWorker(t, db, 1)
	ctx := context.Background()

	if ok, _ := tr.Reserve(ctx, w); !ok {
		t.Fatalf("reserve on day one failed")
	}
	if ok, _ := tr.Reserve(ctx, w); ok {
		t.Fatalf("limit must be reached on day one")
	}

	// Cross midnight: the counter resets lazily on next access.
	clock.advance(20 * time.Minute)
	rem, err := tr.Remaining(ctx, w)
	if err != nil || rem != 1 {
		t.Fatalf("Remaining after midnight = (%d, %v), want 1", rem, err)
	}
	if w.LastResetDate != "2026-03-11" {
		t.Fatalf("LastResetDate = %q, want 2026-03-11", w.LastResetDate)
	}

	// A second access the same day must not reset again.
	if ok, _ := tr.Reserve(ctx, w); !ok {
		t.Fatalf("reserve on day two failed")
	}
	rem, _ = tr.Remaining(ctx, w)
	if rem != 0 {
		t.Fatalf("reset applied twice: remaining = %d", rem)
	}

	// Simulated restart: a fresh tracker over the same DB sees the persisted
	// counter and reset date, so no double reset and no lost consumption.
	got, err := repo.GetWorker(ctx, db, w.ID)
	if err != nil {
		t.Fatalf("reload worker: %v", err)
	}
	tr2 := NewTracker(db, clock.now)
	rem, err = tr2.Remaining(ctx, got)
	if err != nil || rem != 0 {
		t.Fatalf("Remaining after restart = (%d, %v), want 0", rem, err)
	}
	if got.LastResetDate != "2026-03-11" {
		t.Fatalf("LastResetDate after restart = %q", got.LastResetDate)
	}
}

func TestReserve_ConcurrentNeverOversubscribes(t *testing.T) {
	db := newQuotaDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	tr := NewTracker(db, clock.now)
	w := seedWorker(t, db, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tr.Reserve(ctx, w)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 5 {
		t.Fatalf("granted %d reservations for a limit of 5", granted)
	}
}
