// Package stock is the boundary toward the catalog's stock counts. Sales and
// refunds never touch stock columns directly; they go through a Ledger so the
// decrement or increment runs inside their own transaction.
package stock

import (
	"context"
	"fmt"

	"evapos/internal/apierror"
	"evapos/internal/model"
	"evapos/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInsufficientStock = apierror.NewError(apierror.CodeInsufficientStock, "Stock insuficiente")
	ErrItemNotFound      = apierror.NewError(apierror.CodeNotFound, "Artículo no encontrado")
)

// ItemRef identifies a stock-keeping unit: a product or one of its variants.
type ItemRef struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
}

func (r ItemRef) String() string {
	if r.VariantID != nil {
		return r.ProductID.String() + "/" + r.VariantID.String()
	}
	return r.ProductID.String()
}

// Movement describes why stock moved, for the audit trail.
type Movement struct {
	Kind        string // "sale" | "void" | "refund"
	Reason      string
	ReferenceID uuid.UUID
}

// Ledger is atomic per call and joins the caller's transaction when tx is set.
type Ledger interface {
	Decrement(ctx context.Context, tx *gorm.DB, ref ItemRef, qty int, mv Movement) error
	Increment(ctx context.Context, tx *gorm.DB, ref ItemRef, qty int, mv Movement) error
}

type gormLedger struct {
	products repository.ProductRepository
}

// NewLedger returns the Ledger backed by the catalog tables.
func NewLedger(products repository.ProductRepository) Ledger {
	return &gormLedger{products: products}
}

func (l *gormLedger) Decrement(ctx context.Context, tx *gorm.DB, ref ItemRef, qty int, mv Movement) error {
	if qty <= 0 {
		return fmt.Errorf("stock: decrement quantity must be positive, got %d", qty)
	}
	return l.apply(ctx, tx, ref, -qty, mv)
}

func (l *gormLedger) Increment(ctx context.Context, tx *gorm.DB, ref ItemRef, qty int, mv Movement) error {
	if qty <= 0 {
		return fmt.Errorf("stock: increment quantity must be positive, got %d", qty)
	}
	return l.apply(ctx, tx, ref, qty, mv)
}

func (l *gormLedger) apply(ctx context.Context, tx *gorm.DB, ref ItemRef, delta int, mv Movement) error {
	ok, err := l.products.AdjustStock(ctx, tx, ref.ProductID, ref.VariantID, delta)
	if err != nil {
		return fmt.Errorf("stock: adjust %s: %w", ref, err)
	}
	if !ok {
		if err := l.exists(ctx, tx, ref); err != nil {
			return err
		}
		return ErrInsufficientStock.WithMessage(fmt.Sprintf("Stock insuficiente para %s", ref))
	}

	after, err := l.products.StockOf(ctx, tx, ref.ProductID, ref.VariantID)
	if err != nil {
		return fmt.Errorf("stock: read %s: %w", ref, err)
	}
	refID := mv.ReferenceID
	return l.products.CreateMovement(ctx, tx, &model.StockMovement{
		ProductID:   ref.ProductID,
		VariantID:   ref.VariantID,
		Kind:        mv.Kind,
		Quantity:    delta,
		StockBefore: after - delta,
		StockAfter:  after,
		Reason:      mv.Reason,
		ReferenceID: &refID,
	})
}

func (l *gormLedger) exists(ctx context.Context, tx *gorm.DB, ref ItemRef) error {
	var err error
	if ref.VariantID != nil {
		var v *model.ProductVariant
		v, err = l.products.FindVariant(ctx, tx, *ref.VariantID)
		if err == nil && v.ProductID != ref.ProductID {
			err = gorm.ErrRecordNotFound
		}
	} else {
		_, err = l.products.FindByID(ctx, tx, ref.ProductID)
	}
	if repository.IsNotFound(err) {
		return ErrItemNotFound.WithMessage(fmt.Sprintf("Artículo %s no encontrado", ref))
	}
	return err
}
