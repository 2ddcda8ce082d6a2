package dto

import "github.com/shopspring/decimal"

// ─── Filter / List ──────────────────────────────────────────────────────────

// SaleFilter is bound from query string of GET /v1/sales.
type SaleFilter struct {
	Date      string `form:"date"`   // YYYY-MM-DD; empty = any day
	Status    string `form:"status"` // COMPLETED | PARTIAL_REFUND | REFUNDED | VOIDED | all
	SessionID string `form:"session_id" validate:"omitempty,uuid"`
	Page      int    `form:"page,default=1"   validate:"min=1"`
	Limit     int    `form:"limit,default=50" validate:"min=1,max=200"`
}

type SaleListResponse struct {
	Data  []SaleResponse `json:"data"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// ─── Request DTOs ────────────────────────────────────────────────────────────

type SaleItemRequest struct {
	ProductID    string          `json:"product_id"    validate:"required,uuid"`
	VariantID    *string         `json:"variant_id"    validate:"omitempty,uuid"`
	Name         string          `json:"name"          validate:"required,max=200"`
	SKU          *string         `json:"sku"`
	Quantity     int             `json:"quantity"      validate:"required,min=1"`
	UnitPrice    decimal.Decimal `json:"unit_price"    validate:"min=0"`
	LineDiscount decimal.Decimal `json:"line_discount" validate:"min=0"`
}

// TenderRequest carries the per-tender amounts. For card/alt only sales the
// amount defaults to the sale total when omitted.
type TenderRequest struct {
	Method       string           `json:"method"        validate:"required,oneof=cash card alt mixed"`
	CashReceived *decimal.Decimal `json:"cash_received"`
	CardAmount   *decimal.Decimal `json:"card_amount"`
	AltAmount    *decimal.Decimal `json:"alt_amount"`
}

type CustomerRequest struct {
	Name  *string `json:"name"   validate:"omitempty,max=160"`
	Email *string `json:"email"  validate:"omitempty,email"`
	TaxID *string `json:"tax_id" validate:"omitempty,max=20"`
	Phone *string `json:"phone"  validate:"omitempty,max=32"`
}

type CreateSaleRequest struct {
	Items     []SaleItemRequest `json:"items"      validate:"required,min=1,dive"`
	Tender    TenderRequest     `json:"tender"     validate:"required"`
	Discount  decimal.Decimal   `json:"discount"   validate:"min=0"`
	Customer  *CustomerRequest  `json:"customer"`
	OfflineID *string           `json:"offline_id" validate:"omitempty,max=64"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=200"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SaleItemResponse struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	VariantID        *string         `json:"variant_id,omitempty"`
	Name             string          `json:"name"`
	SKU              *string         `json:"sku,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineDiscount     decimal.Decimal `json:"line_discount"`
	LineTotal        decimal.Decimal `json:"line_total"`
	RefundedQuantity int             `json:"refunded_quantity"`
}

// FiscalOutcome tells the terminal what happened on the fiscal side of a sale.
// Status is a record status, "disabled" or "error"; a sale is committed either way.
type FiscalOutcome struct {
	Status        string  `json:"status"`
	RecordID      *string `json:"record_id,omitempty"`
	InvoiceNumber *string `json:"invoice_number,omitempty"`
	QRPayload     *string `json:"qr_payload,omitempty"`
	Error         *string `json:"error,omitempty"`
}

type SaleResponse struct {
	ID             string             `json:"id"`
	Number         string             `json:"number"`
	SessionID      string             `json:"session_id"`
	Items          []SaleItemResponse `json:"items"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	Discount       decimal.Decimal    `json:"discount"`
	Total          decimal.Decimal    `json:"total"`
	Tender         string             `json:"tender"`
	CashReceived   decimal.Decimal    `json:"cash_received"`
	Change         decimal.Decimal    `json:"change"`
	CardAmount     decimal.Decimal    `json:"card_amount"`
	AltAmount      decimal.Decimal    `json:"alt_amount"`
	Customer       *CustomerRequest   `json:"customer,omitempty"`
	Status         string             `json:"status"`
	RefundedAmount decimal.Decimal    `json:"refunded_amount"`
	TicketPrinted  bool               `json:"ticket_printed"`
	OfflineID      *string            `json:"offline_id,omitempty"`
	CreatedAt      string             `json:"created_at"`
	Fiscal         *FiscalOutcome     `json:"fiscal,omitempty"`
}
