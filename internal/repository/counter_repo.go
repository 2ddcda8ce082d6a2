package repository

import (
	"context"

	"gorm.io/gorm"
)

// CounterRepository hands out per-day sequence values for document numbers.
type CounterRepository interface {
	// Next increments and returns the counter for (scope, day). It must run in
	// the transaction that persists the numbered document.
	Next(ctx context.Context, tx *gorm.DB, scope, day string) (int, error)
}

type counterRepo struct{ db *gorm.DB }

// NewCounterRepository returns a gorm-backed CounterRepository.
func NewCounterRepository(db *gorm.DB) CounterRepository { return &counterRepo{db: db} }

func (r *counterRepo) Next(ctx context.Context, tx *gorm.DB, scope, day string) (int, error) {
	var value int
	err := pick(r.db, tx).WithContext(ctx).Raw(`
INSERT INTO daily_counters (scope, day, value) VALUES (?, ?, 1)
ON CONFLICT (scope, day) DO UPDATE SET value = daily_counters.value + 1
RETURNING value`, scope, day).Scan(&value).Error
	return value, err
}
