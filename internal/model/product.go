package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is owned by the catalog service. The ledger only reads it and moves
// its stock through the stock adapter.
type Product struct {
	Entity
	SKU       string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name      string          `gorm:"index;not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Stock     int             `gorm:"not null;default:0"`
	Active    bool            `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Variants []ProductVariant `gorm:"foreignKey:ProductID"`
}

// ProductVariant is a size/colour variant with its own stock.
type ProductVariant struct {
	Entity
	ProductID uuid.UUID `gorm:"type:uuid;not null;index"`
	SKU       string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Stock     int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockMovement records each stock change performed by the ledger.
type StockMovement struct {
	Entity
	ProductID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	VariantID   *uuid.UUID `gorm:"type:uuid;index"`
	Kind        string     `gorm:"type:varchar(20);not null"` // "sale" | "void" | "refund"
	Quantity    int        `gorm:"not null"`                  // positive = in, negative = out
	StockBefore int        `gorm:"not null"`
	StockAfter  int        `gorm:"not null"`
	Reason      string
	ReferenceID *uuid.UUID `gorm:"type:uuid"` // sale or refund id
	CreatedAt   time.Time
}
