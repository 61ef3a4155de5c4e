// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Worker
// model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

// CreateWorker inserts a new worker session record in Active health with a
// zeroed daily counter. The name must be unique.
func CreateWorker(ctx context.Context, db *gorm.DB, name, role string, dailyLimit int) (*domain.Worker, error) {
	w := &domain.Worker{
		Name:       name,
		Role:       role,
		Health:     domain.WorkerActive,
		DailyLimit: dailyLimit,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorker fetches a worker by ID, or ErrNotFound if missing.
func GetWorker(ctx context.Context, db *gorm.DB, id uint) (*domain.Worker, error) {
	var w domain.Worker
	if err := db.WithContext(ctx).First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns all workers ordered by ascending ID. The stable order
// is what makes least-recently-used tie-breaking deterministic.
func ListWorkers(ctx context.Context, db *gorm.DB) ([]domain.Worker, error) {
	var out []domain.Worker
	err := db.WithContext(ctx).Order("id asc").Find(&out).Error
	return out, err
}

// UpdateWorker persists the mutable scheduling fields of a worker.
func UpdateWorker(ctx context.Context, db *gorm.DB, w *domain.Worker) error {
	return db.WithContext(ctx).
		Model(&domain.Worker{}).
		Where("id = ?", w.ID).
		Updates(map[string]any{
			"role":            w.Role,
			"health":          w.Health,
			"daily_count":     w.DailyCount,
			"daily_limit":     w.DailyLimit,
			"last_reset_date": w.LastResetDate,
			"cooldown_until":  w.CooldownUntil,
			"last_used_at":    w.LastUsedAt,
		}).Error
}
