package repository

import (
	"context"

	"evapos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefundRepository has no update or delete: refunds are append-only.
type RefundRepository interface {
	Create(ctx context.Context, tx *gorm.DB, r *model.Refund) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Refund, error)
	ListBySale(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) ([]model.Refund, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Refund, error)
	SumBySale(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) (decimal.Decimal, error)

	CreateVoucher(ctx context.Context, tx *gorm.DB, v *model.Voucher) error
	FindVoucher(ctx context.Context, tx *gorm.DB, code string) (*model.Voucher, error)
	LockVoucher(ctx context.Context, tx *gorm.DB, code string) (*model.Voucher, error)
	UpdateVoucherBalance(ctx context.Context, tx *gorm.DB, v *model.Voucher) error
}

type refundRepo struct{ db *gorm.DB }

// NewRefundRepository returns a gorm-backed RefundRepository.
func NewRefundRepository(db *gorm.DB) RefundRepository { return &refundRepo{db: db} }

func (r *refundRepo) Create(ctx context.Context, tx *gorm.DB, ref *model.Refund) error {
	return pick(r.db, tx).WithContext(ctx).Create(ref).Error
}

func (r *refundRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Refund, error) {
	var ref model.Refund
	if err := r.db.WithContext(ctx).Preload("Items").First(&ref, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *refundRepo) ListBySale(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) ([]model.Refund, error) {
	var refs []model.Refund
	err := pick(r.db, tx).WithContext(ctx).Preload("Items").
		Where("sale_id = ?", saleID).
		Order("created_at ASC").
		Find(&refs).Error
	return refs, err
}

func (r *refundRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Refund, error) {
	var refs []model.Refund
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&refs).Error
	return refs, err
}

// SumBySale adds amounts in Go so the result keeps decimal precision on every driver.
func (r *refundRepo) SumBySale(ctx context.Context, tx *gorm.DB, saleID uuid.UUID) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := pick(r.db, tx).WithContext(ctx).Model(&model.Refund{}).
		Where("sale_id = ?", saleID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum, nil
}

func (r *refundRepo) CreateVoucher(ctx context.Context, tx *gorm.DB, v *model.Voucher) error {
	return pick(r.db, tx).WithContext(ctx).Create(v).Error
}

func (r *refundRepo) FindVoucher(ctx context.Context, tx *gorm.DB, code string) (*model.Voucher, error) {
	var v model.Voucher
	if err := pick(r.db, tx).WithContext(ctx).Where("code = ?", code).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *refundRepo) LockVoucher(ctx context.Context, tx *gorm.DB, code string) (*model.Voucher, error) {
	var v model.Voucher
	err := pick(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *refundRepo) UpdateVoucherBalance(ctx context.Context, tx *gorm.DB, v *model.Voucher) error {
	return pick(r.db, tx).WithContext(ctx).Model(&model.Voucher{}).
		Where("id = ?", v.ID).
		Updates(map[string]any{"balance": v.Balance, "status": v.Status, "redeemed_at": v.RedeemedAt}).Error
}
