package model

import "fmt"

// TenderMethod is how a sale was paid.
type TenderMethod string

const (
	TenderCash  TenderMethod = "cash"
	TenderCard  TenderMethod = "card"
	TenderAlt   TenderMethod = "alt" // Bizum, transfer, gift card
	TenderMixed TenderMethod = "mixed"
)

func (t TenderMethod) IsValid() bool {
	switch t {
	case TenderCash, TenderCard, TenderAlt, TenderMixed:
		return true
	}
	return false
}

// HandlesCash reports whether the tender can involve cash and therefore change.
func (t TenderMethod) HandlesCash() bool {
	return t == TenderCash || t == TenderMixed
}

func ParseTenderMethod(v string) (TenderMethod, error) {
	t := TenderMethod(v)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid tender method %q", v)
	}
	return t, nil
}

// RefundMethod is how money goes back to the customer.
type RefundMethod string

const (
	RefundCash    RefundMethod = "cash"
	RefundCard    RefundMethod = "card"
	RefundVoucher RefundMethod = "voucher"
)

func (m RefundMethod) IsValid() bool {
	switch m {
	case RefundCash, RefundCard, RefundVoucher:
		return true
	}
	return false
}

func ParseRefundMethod(v string) (RefundMethod, error) {
	m := RefundMethod(v)
	if !m.IsValid() {
		return "", fmt.Errorf("invalid refund method %q", v)
	}
	return m, nil
}

// SaleStatus: COMPLETED -> PARTIAL_REFUND -> REFUNDED, or COMPLETED -> VOIDED.
type SaleStatus string

const (
	SaleCompleted     SaleStatus = "COMPLETED"
	SalePartialRefund SaleStatus = "PARTIAL_REFUND"
	SaleRefunded      SaleStatus = "REFUNDED"
	SaleVoided        SaleStatus = "VOIDED"
)

func (s SaleStatus) IsValid() bool {
	switch s {
	case SaleCompleted, SalePartialRefund, SaleRefunded, SaleVoided:
		return true
	}
	return false
}

// CountsTowardCash is true for every status whose cash stayed in the drawer.
// Refunds paid in cash are booked separately as outgoing movements.
func (s SaleStatus) CountsTowardCash() bool {
	switch s {
	case SaleCompleted, SalePartialRefund, SaleRefunded:
		return true
	case SaleVoided:
		return false
	}
	return false
}

// CashCountedStatuses lists the statuses read by the session close computation.
var CashCountedStatuses = []SaleStatus{SaleCompleted, SalePartialRefund, SaleRefunded}

// MovementType is the direction of a manual cash movement.
type MovementType string

const (
	MovementIn  MovementType = "in"
	MovementOut MovementType = "out"
)

func (m MovementType) IsValid() bool {
	return m == MovementIn || m == MovementOut
}

// FiscalStatus: PENDING -> SUBMITTED -> {ACCEPTED, REJECTED}; ACCEPTED -> CANCELLED.
type FiscalStatus string

const (
	FiscalPending   FiscalStatus = "PENDING"
	FiscalSubmitted FiscalStatus = "SUBMITTED"
	FiscalAccepted  FiscalStatus = "ACCEPTED"
	FiscalRejected  FiscalStatus = "REJECTED"
	FiscalCancelled FiscalStatus = "CANCELLED"
)

var AllFiscalStatuses = []FiscalStatus{FiscalPending, FiscalSubmitted, FiscalAccepted, FiscalRejected, FiscalCancelled}

func (s FiscalStatus) IsValid() bool {
	switch s {
	case FiscalPending, FiscalSubmitted, FiscalAccepted, FiscalRejected, FiscalCancelled:
		return true
	}
	return false
}

// Sealed reports whether the chained fields of a record may no longer change.
func (s FiscalStatus) Sealed() bool {
	return s != FiscalPending
}

// InvoiceType distinguishes ordinary invoices from rectifications.
type InvoiceType string

const (
	InvoiceStandard      InvoiceType = "standard"
	InvoiceRectification InvoiceType = "rectification"
)

func (t InvoiceType) IsValid() bool {
	return t == InvoiceStandard || t == InvoiceRectification
}

// VoucherStatus tracks store credit redemption.
type VoucherStatus string

const (
	VoucherActive   VoucherStatus = "ACTIVE"
	VoucherRedeemed VoucherStatus = "REDEEMED"
	// VoucherExpired is never stored; it is reported for ACTIVE vouchers past ExpiresAt.
	VoucherExpired VoucherStatus = "EXPIRED"
)
