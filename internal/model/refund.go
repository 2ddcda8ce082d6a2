package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Refund is an append-only monetary return against a Sale.
type Refund struct {
	Entity
	Number      string          `gorm:"type:varchar(32);uniqueIndex;not null"`
	SaleID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	SessionID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Method      RefundMethod    `gorm:"type:varchar(10);not null"`
	Reason      *string
	VoucherCode *string   `gorm:"type:varchar(16)"`
	ProcessedBy uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt   time.Time

	Items []RefundItem `gorm:"foreignKey:RefundID"`
}

// RefundItem records which sale lines (and how many units) a refund returned.
type RefundItem struct {
	Entity
	RefundID   uuid.UUID `gorm:"type:uuid;not null;index"`
	SaleItemID uuid.UUID `gorm:"type:uuid;not null;index"`
	Quantity   int       `gorm:"not null"`
}

// Voucher is store credit issued 1:1 with a voucher-method Refund.
type Voucher struct {
	Entity
	Code       string          `gorm:"type:varchar(16);uniqueIndex;not null"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Balance    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	RefundID   uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null"`
	Status     VoucherStatus   `gorm:"type:varchar(12);not null"`
	ExpiresAt  time.Time       `gorm:"not null"`
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

func (v *Voucher) Expired(now time.Time) bool { return !now.Before(v.ExpiresAt) }
