// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from the supervisor
// or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

// PhonesStats returns aggregate metadata for the phone queue: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the queue is empty, the returned count is 0 and maxUpdatedAt is nil.
func PhonesStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.PhoneNumber{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// WorkerUsage is one worker's quota consumption snapshot for dashboards.
type WorkerUsage struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Health     string `json:"health"`
	DailyCount int    `json:"daily_count"`
	DailyLimit int    `json:"daily_limit"`
}

// WorkerUsages returns per-worker daily quota usage ordered by ascending ID.
func WorkerUsages(ctx context.Context, db *gorm.DB) ([]WorkerUsage, error) {
	var out []WorkerUsage
	err := db.WithContext(ctx).
		Model(&domain.Worker{}).
		Select("id, name, health, daily_count, daily_limit").
		Order("id asc").
		Scan(&out).Error
	return out, err
}
