package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FiscalRecord is one link of the Verifactu hash chain.
// Amounts, hashes and the invoice number are frozen once Status leaves PENDING.
type FiscalRecord struct {
	Entity
	Sequence      int64       `gorm:"not null;uniqueIndex"`
	InvoiceNumber string      `gorm:"type:varchar(40);not null;uniqueIndex"`
	InvoiceDate   time.Time   `gorm:"not null"`
	InvoiceType   InvoiceType `gorm:"type:varchar(16);not null"`

	IssuerTaxID    string  `gorm:"type:varchar(20);not null"`
	IssuerName     string  `gorm:"type:varchar(160);not null"`
	RecipientTaxID *string `gorm:"type:varchar(20)"`
	RecipientName  *string `gorm:"type:varchar(160)"`

	BaseAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TaxRate     decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	// PreviousHash is unique: two records claiming the same predecessor is a fork.
	PreviousHash string    `gorm:"type:char(64);not null;uniqueIndex"`
	CurrentHash  string    `gorm:"type:char(64);not null;uniqueIndex"`
	HashInput    string    `gorm:"type:text;not null"`
	HashVersion  string    `gorm:"type:varchar(8);not null"`
	GeneratedAt  time.Time `gorm:"not null"`
	QRPayload    string    `gorm:"type:text;not null"`

	Status          FiscalStatus `gorm:"type:varchar(12);not null;index"`
	ResponsePayload *string      `gorm:"type:text"`
	ErrorCode       *string      `gorm:"type:varchar(40)"`
	ErrorMessage    *string      `gorm:"type:text"`
	SubmittedAt     *time.Time
	RetryCount      int        `gorm:"not null;default:0"`
	NextRetryAt     *time.Time `gorm:"index"`
	CancelReason    *string
	CancelledAt     *time.Time

	SaleID              *uuid.UUID `gorm:"type:uuid;uniqueIndex"` // standard records only
	RectifiedRecordID   *uuid.UUID `gorm:"type:uuid;index"`
	RectificationReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FiscalChainState persists the integrity halt flag per issuer. While Halted
// is true no record may be appended until an operator resumes the chain.
type FiscalChainState struct {
	IssuerTaxID string `gorm:"type:varchar(20);primaryKey"`
	Halted      bool   `gorm:"not null;default:false"`
	HaltReason  *string
	HaltedAt    *time.Time
	ResumedAt   *time.Time
	ResumeNote  *string
	UpdatedAt   time.Time
}
