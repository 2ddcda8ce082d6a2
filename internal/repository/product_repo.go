package repository

import (
	"context"

	"evapos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductRepository is the narrow slice of the catalog tables the stock
// adapter is allowed to touch.
type ProductRepository interface {
	Create(ctx context.Context, p *model.Product) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Product, error)
	FindVariant(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.ProductVariant, error)
	// AdjustStock applies delta to a product (or variant when variantID is set).
	// A negative delta only applies when enough stock is available; the
	// returned bool is false when the guarded update matched no row.
	AdjustStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, delta int) (bool, error)
	StockOf(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) (int, error)
	CreateMovement(ctx context.Context, tx *gorm.DB, m *model.StockMovement) error
	ListMovements(ctx context.Context, productID uuid.UUID, limit int) ([]model.StockMovement, error)
}

type productRepo struct{ db *gorm.DB }

// NewProductRepository returns a gorm-backed ProductRepository.
func NewProductRepository(db *gorm.DB) ProductRepository { return &productRepo{db: db} }

func (r *productRepo) Create(ctx context.Context, p *model.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *productRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	if err := pick(r.db, tx).WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) FindVariant(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.ProductVariant, error) {
	var v model.ProductVariant
	if err := pick(r.db, tx).WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *productRepo) AdjustStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, delta int) (bool, error) {
	q := pick(r.db, tx).WithContext(ctx)
	if variantID != nil {
		q = q.Model(&model.ProductVariant{}).Where("id = ? AND product_id = ?", *variantID, productID)
	} else {
		q = q.Model(&model.Product{}).Where("id = ?", productID)
	}
	if delta < 0 {
		q = q.Where("stock >= ?", -delta)
	}
	res := q.Update("stock", gorm.Expr("stock + ?", delta))
	return res.RowsAffected == 1, res.Error
}

func (r *productRepo) StockOf(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) (int, error) {
	var stock int
	q := pick(r.db, tx).WithContext(ctx)
	var err error
	if variantID != nil {
		err = q.Model(&model.ProductVariant{}).Where("id = ?", *variantID).Select("stock").Scan(&stock).Error
	} else {
		err = q.Model(&model.Product{}).Where("id = ?", productID).Select("stock").Scan(&stock).Error
	}
	return stock, err
}

func (r *productRepo) CreateMovement(ctx context.Context, tx *gorm.DB, m *model.StockMovement) error {
	return pick(r.db, tx).WithContext(ctx).Create(m).Error
}

func (r *productRepo) ListMovements(ctx context.Context, productID uuid.UUID, limit int) ([]model.StockMovement, error) {
	var movs []model.StockMovement
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Limit(limit).
		Find(&movs).Error
	return movs, err
}
