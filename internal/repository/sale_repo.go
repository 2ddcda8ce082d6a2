package repository

import (
	"context"

	"evapos/internal/dto"
	"evapos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaleRepository persists sales with their lines and tenders.
type SaleRepository interface {
	Create(ctx context.Context, tx *gorm.DB, s *model.Sale) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sale, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sale, error)
	FindByNumber(ctx context.Context, number string) (*model.Sale, error)
	FindByOfflineID(ctx context.Context, offlineID string) (*model.Sale, error)
	// MarkVoided flips COMPLETED -> VOIDED; false when the sale was not COMPLETED.
	MarkVoided(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) (bool, error)
	ApplyRefund(ctx context.Context, tx *gorm.DB, id uuid.UUID, refunded decimal.Decimal, status model.SaleStatus) error
	// AddRefundedQuantity advances an item's refunded quantity without exceeding the sold quantity.
	AddRefundedQuantity(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (bool, error)
	MarkTicketPrinted(ctx context.Context, id uuid.UUID) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, statuses []model.SaleStatus) ([]model.Sale, error)
	List(ctx context.Context, filter dto.SaleFilter) ([]model.Sale, int64, error)
}

type saleRepo struct{ db *gorm.DB }

// NewSaleRepository returns a gorm-backed SaleRepository.
func NewSaleRepository(db *gorm.DB) SaleRepository { return &saleRepo{db: db} }

func orderedItems(db *gorm.DB) *gorm.DB { return db.Order("name ASC, id ASC") }

func (r *saleRepo) Create(ctx context.Context, tx *gorm.DB, s *model.Sale) error {
	return pick(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *saleRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := pick(r.db, tx).WithContext(ctx).Preload("Items", orderedItems).First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := pick(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	if err := pick(r.db, tx).WithContext(ctx).Where("sale_id = ?", id).Order("name ASC, id ASC").Find(&s.Items).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) FindByNumber(ctx context.Context, number string) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).Preload("Items", orderedItems).Where("number = ?", number).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) FindByOfflineID(ctx context.Context, offlineID string) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).Preload("Items", orderedItems).Where("offline_id = ?", offlineID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) MarkVoided(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) (bool, error) {
	res := pick(r.db, tx).WithContext(ctx).Model(&model.Sale{}).
		Where("id = ? AND status = ?", id, model.SaleCompleted).
		Updates(map[string]any{"status": model.SaleVoided, "void_reason": reason})
	return res.RowsAffected == 1, res.Error
}

func (r *saleRepo) ApplyRefund(ctx context.Context, tx *gorm.DB, id uuid.UUID, refunded decimal.Decimal, status model.SaleStatus) error {
	return pick(r.db, tx).WithContext(ctx).Model(&model.Sale{}).
		Where("id = ?", id).
		Updates(map[string]any{"refunded_amount": refunded, "status": status}).Error
}

func (r *saleRepo) AddRefundedQuantity(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, qty int) (bool, error) {
	res := pick(r.db, tx).WithContext(ctx).Model(&model.SaleItem{}).
		Where("id = ? AND refunded_quantity + ? <= quantity", itemID, qty).
		Update("refunded_quantity", gorm.Expr("refunded_quantity + ?", qty))
	return res.RowsAffected == 1, res.Error
}

func (r *saleRepo) MarkTicketPrinted(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&model.Sale{}).Where("id = ?", id).Update("ticket_printed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *saleRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, statuses []model.SaleStatus) ([]model.Sale, error) {
	var sales []model.Sale
	q := pick(r.db, tx).WithContext(ctx).Where("session_id = ?", sessionID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("created_at ASC").Find(&sales).Error
	return sales, err
}

func (r *saleRepo) List(ctx context.Context, filter dto.SaleFilter) ([]model.Sale, int64, error) {
	var sales []model.Sale
	var total int64

	q := r.db.WithContext(ctx).Model(&model.Sale{})
	if filter.Status != "" && filter.Status != "all" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Date != "" {
		q = q.Where("DATE(created_at) = ?", filter.Date)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := q.Preload("Items", orderedItems).
		Order("created_at DESC").
		Offset(pageOffset(filter.Page, filter.Limit)).Limit(filter.Limit).
		Find(&sales).Error
	return sales, total, err
}
