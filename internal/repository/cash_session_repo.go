package repository

import (
	"context"
	"time"

	"evapos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CashSessionRepository persists cash sessions and their movements.
type CashSessionRepository interface {
	DB() *gorm.DB
	Create(ctx context.Context, tx *gorm.DB, s *model.CashSession) error
	FindOpen(ctx context.Context, tx *gorm.DB) (*model.CashSession, error)
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.CashSession, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.CashSession, error)
	// Close writes the closing snapshot only if the session is still open.
	Close(ctx context.Context, tx *gorm.DB, s *model.CashSession) (bool, error)
	List(ctx context.Context, page, limit int) ([]model.CashSession, int64, error)
	CreateMovement(ctx context.Context, tx *gorm.DB, m *model.CashMovement) error
	ListMovements(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]model.CashMovement, error)
}

type cashSessionRepo struct{ db *gorm.DB }

// NewCashSessionRepository returns a gorm-backed CashSessionRepository.
func NewCashSessionRepository(db *gorm.DB) CashSessionRepository {
	return &cashSessionRepo{db: db}
}

func (r *cashSessionRepo) DB() *gorm.DB { return r.db }

func (r *cashSessionRepo) Create(ctx context.Context, tx *gorm.DB, s *model.CashSession) error {
	return pick(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *cashSessionRepo) FindOpen(ctx context.Context, tx *gorm.DB) (*model.CashSession, error) {
	var s model.CashSession
	err := pick(r.db, tx).WithContext(ctx).Where("closed_at IS NULL").First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *cashSessionRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.CashSession, error) {
	var s model.CashSession
	err := pick(r.db, tx).WithContext(ctx).
		Preload("Movements", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *cashSessionRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.CashSession, error) {
	var s model.CashSession
	err := pick(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *cashSessionRepo) Close(ctx context.Context, tx *gorm.DB, s *model.CashSession) (bool, error) {
	closedAt := time.Now()
	if s.ClosedAt != nil {
		closedAt = *s.ClosedAt
	}
	res := pick(r.db, tx).WithContext(ctx).Model(&model.CashSession{}).
		Where("id = ? AND closed_at IS NULL", s.ID).
		Updates(map[string]any{
			"closing_cash":  s.ClosingCash,
			"closing_card":  s.ClosingCard,
			"closing_alt":   s.ClosingAlt,
			"expected_cash": s.ExpectedCash,
			"difference":    s.Difference,
			"closing_notes": s.ClosingNotes,
			"closed_at":     closedAt,
			"open_slot":     gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *cashSessionRepo) List(ctx context.Context, page, limit int) ([]model.CashSession, int64, error) {
	var sessions []model.CashSession
	var total int64
	q := r.db.WithContext(ctx).Model(&model.CashSession{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("opened_at DESC").Offset(pageOffset(page, limit)).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}

func (r *cashSessionRepo) CreateMovement(ctx context.Context, tx *gorm.DB, m *model.CashMovement) error {
	return pick(r.db, tx).WithContext(ctx).Create(m).Error
}

func (r *cashSessionRepo) ListMovements(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]model.CashMovement, error) {
	var movs []model.CashMovement
	err := pick(r.db, tx).WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&movs).Error
	return movs, err
}
