package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

func TestOpenSQLite_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adder.db")

	db, err := OpenSQLite(path, false)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// All three tables must be usable after migration.
	ctx := context.Background()
	if _, err := CreatePhone(ctx, db, "+15550001111"); err != nil {
		t.Fatalf("insert phone after migrate: %v", err)
	}
	if _, err := CreateWorker(ctx, db, "w", domain.RoleUser, 80); err != nil {
		t.Fatalf("insert worker after migrate: %v", err)
	}
	if err := CreateRun(ctx, db, &domain.Run{ID: "r1", DestinationID: "-1", Status: domain.RunRunning}); err != nil {
		t.Fatalf("insert run after migrate: %v", err)
	}
}

func TestOpenSQLite_BadPath(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "missing", "sub", "adder.db"), false); err == nil {
		t.Fatalf("expected error opening database in nonexistent directory")
	}
}
