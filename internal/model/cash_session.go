package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpenSlotTaken is the only value OpenSlot holds while a session is open.
// The unique index on open_slot turns a concurrent second open into a
// constraint violation.
const OpenSlotTaken int16 = 1

// CashSession represents the lifecycle of a cash register shift.
type CashSession struct {
	Entity
	OperatorID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	OperatorName  string          `gorm:"type:varchar(120);not null"`
	OpeningAmount decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	OpeningNotes  *string
	OpenedAt      time.Time `gorm:"not null"`

	// Closing snapshot, nil until closed
	ClosingCash  *decimal.Decimal `gorm:"type:decimal(12,2)"`
	ClosingCard  *decimal.Decimal `gorm:"type:decimal(12,2)"`
	ClosingAlt   *decimal.Decimal `gorm:"type:decimal(12,2)"`
	ExpectedCash *decimal.Decimal `gorm:"type:decimal(12,2)"`
	Difference   *decimal.Decimal `gorm:"type:decimal(12,2)"`
	ClosingNotes *string
	ClosedAt     *time.Time `gorm:"index"`

	OpenSlot *int16 `gorm:"uniqueIndex:uq_cash_sessions_open_slot"`

	Movements []CashMovement `gorm:"foreignKey:SessionID"`
}

func (s *CashSession) IsOpen() bool { return s.ClosedAt == nil }

// CashMovement is an immutable paid-in / paid-out entry.
type CashMovement struct {
	Entity
	SessionID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Type      MovementType    `gorm:"type:varchar(8);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Reason    string          `gorm:"not null"`
	CreatedBy uuid.UUID       `gorm:"type:uuid;not null"`
	// RefundID links automatic cash-out entries to the refund that caused them
	RefundID  *uuid.UUID `gorm:"type:uuid"`
	CreatedAt time.Time
}
