// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Run model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

// CreateRun inserts a new run row. The caller is responsible for assigning
// the UUID primary key and validating the configuration beforehand.
func CreateRun(ctx context.Context, db *gorm.DB, r *domain.Run) error {
	return db.WithContext(ctx).Create(r).Error
}

// GetRun fetches a run by ID, or ErrNotFound if missing.
func GetRun(ctx context.Context, db *gorm.DB, id string) (*domain.Run, error) {
	var r domain.Run
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRun persists the mutable state fields of a run. Configuration
// fields are immutable after CreateRun and are deliberately not touched.
func UpdateRun(ctx context.Context, db *gorm.DB, r *domain.Run) error {
	return db.WithContext(ctx).
		Model(&domain.Run{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"status":          r.Status,
			"ended_at":        r.EndedAt,
			"processed_count": r.ProcessedCount,
			"success_count":   r.SuccessCount,
			"invited_count":   r.InvitedCount,
			"failure_count":   r.FailureCount,
			"last_error":      r.LastError,
		}).Error
}

// CountRuns returns the total number of runs for pagination.
func CountRuns(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Run{}).Count(&total).Error
	return total, err
}

// ListRunsPage returns a page of runs ordered by start time descending
// (most recent first).
func ListRunsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Run, error) {
	var out []domain.Run
	err := db.WithContext(ctx).
		Order("started_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ActiveRuns returns runs persisted as running or paused. Used at startup to
// mark runs orphaned by a crash as stopped before accepting new work.
func ActiveRuns(ctx context.Context, db *gorm.DB) ([]domain.Run, error) {
	var out []domain.Run
	err := db.WithContext(ctx).
		Where("status IN ?", []string{domain.RunRunning, domain.RunPaused}).
		Find(&out).Error
	return out, err
}
