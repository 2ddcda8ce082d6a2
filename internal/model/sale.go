package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sale is one completed checkout. Only Status, RefundedAmount and
// TicketPrinted change after creation.
type Sale struct {
	Entity
	Number    string          `gorm:"type:varchar(32);uniqueIndex;not null"`
	SessionID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Discount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	Tender       TenderMethod    `gorm:"type:varchar(10);not null"`
	CashReceived decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	ChangeGiven  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CardAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	AltAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`

	CustomerName  *string `gorm:"type:varchar(160)"`
	CustomerEmail *string `gorm:"type:varchar(160)"`
	CustomerTaxID *string `gorm:"type:varchar(20)"`
	CustomerPhone *string `gorm:"type:varchar(32)"`

	Status         SaleStatus      `gorm:"type:varchar(20);not null;index"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TicketPrinted  bool            `gorm:"not null;default:false"`
	VoidReason     *string
	OfflineID      *string   `gorm:"type:varchar(64);uniqueIndex"`
	OperatorID     uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time

	Items []SaleItem `gorm:"foreignKey:SaleID"`
}

// CashPortion is the cash that stayed in the drawer: received minus change.
func (s *Sale) CashPortion() decimal.Decimal {
	if !s.Tender.HandlesCash() {
		return decimal.Zero
	}
	return s.CashReceived.Sub(s.ChangeGiven)
}

// RefundableBalance is what can still be returned against this sale.
func (s *Sale) RefundableBalance() decimal.Decimal {
	return s.Total.Sub(s.RefundedAmount)
}

// SaleItem is one line of a Sale.
type SaleItem struct {
	Entity
	SaleID           uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID        uuid.UUID       `gorm:"type:uuid;not null"`
	VariantID        *uuid.UUID      `gorm:"type:uuid"`
	Name             string          `gorm:"not null"`
	SKU              *string         `gorm:"type:varchar(64)"`
	Quantity         int             `gorm:"not null"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	LineDiscount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	LineTotal        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	RefundedQuantity int             `gorm:"not null;default:0"`
}

func (i *SaleItem) RefundableQuantity() int { return i.Quantity - i.RefundedQuantity }

// DailyCounter backs the PREFIX-YYYYMMDD-NNNN numbering of sales and refunds.
// The row is bumped inside the same transaction that commits the document,
// so a rolled-back creation never consumes a number seen by anyone else.
type DailyCounter struct {
	Scope string `gorm:"type:varchar(16);primaryKey"`
	Day   string `gorm:"type:char(8);primaryKey"`
	Value int    `gorm:"not null"`
}
