// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the PhoneNumber
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a phone number is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the supervisor layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePhone inserts a new phone number in Pending status. The value must
// be unique; a duplicate insert returns the underlying constraint error.
func CreatePhone(ctx context.Context, db *gorm.DB, value string) (*domain.PhoneNumber, error) {
	p := &domain.PhoneNumber{
		Value:     value,
		Status:    domain.PhonePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// NextPendingPhones returns up to limit pending phone numbers in FIFO order
// (ascending ID, i.e. original insertion order), excluding the given IDs.
// Exclusion lets the caller skip numbers already claimed by an in-flight
// attempt without mutating their persisted status.
func NextPendingPhones(ctx context.Context, db *gorm.DB, limit int, excludeIDs []uint) ([]domain.PhoneNumber, error) {
	q := db.WithContext(ctx).
		Where("status = ?", domain.PhonePending).
		Order("id asc").
		Limit(limit)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	var out []domain.PhoneNumber
	err := q.Find(&out).Error
	return out, err
}

// GetPhone fetches a single phone number by ID, or ErrNotFound if missing.
func GetPhone(ctx context.Context, db *gorm.DB, id uint) (*domain.PhoneNumber, error) {
	var p domain.PhoneNumber
	if err := db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePhone persists the mutable outcome fields of a phone number.
func UpdatePhone(ctx context.Context, db *gorm.DB, p *domain.PhoneNumber) error {
	return db.WithContext(ctx).
		Model(&domain.PhoneNumber{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"status":           p.Status,
			"attempt_count":    p.AttemptCount,
			"last_attempt_at":  p.LastAttemptAt,
			"last_error":       p.LastError,
			"blacklist_reason": p.BlacklistReason,
		}).Error
}

// CountPhones returns the total number of phone numbers, optionally filtered
// by status ("" counts all).
func CountPhones(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.PhoneNumber{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListPhonesPage returns a paginated slice of phone numbers in FIFO order.
// Use CountPhones to obtain the total for pagination metadata.
func ListPhonesPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.PhoneNumber, error) {
	q := db.WithContext(ctx).Order("id asc").Offset(offset).Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.PhoneNumber
	err := q.Find(&out).Error
	return out, err
}

// DeletePhone removes a phone number by ID. The delete is unscoped: a
// soft-deleted row would keep occupying the unique index on value and block
// the same number from ever being enqueued again. Returns ErrNotFound when
// no row was affected.
func DeletePhone(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Unscoped().Delete(&domain.PhoneNumber{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAllPhones removes every phone number and returns the number of rows
// removed. Unscoped for the same reason as DeletePhone.
func DeleteAllPhones(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Where("1 = 1").Unscoped().Delete(&domain.PhoneNumber{})
	return res.RowsAffected, res.Error
}

// PhoneStatusCounts returns the number of phone numbers per status.
// Statuses with no rows are absent from the map.
func PhoneStatusCounts(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.PhoneNumber{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
