package dto

import "github.com/shopspring/decimal"

type RefundItemRequest struct {
	SaleItemID string `json:"sale_item_id" validate:"required,uuid"`
	Quantity   int    `json:"quantity"     validate:"required,min=1"`
}

type CreateRefundRequest struct {
	Amount decimal.Decimal     `json:"amount" validate:"required,gt=0"`
	Method string              `json:"method" validate:"required,oneof=cash card voucher"`
	Reason *string             `json:"reason" validate:"omitempty,max=300"`
	Items  []RefundItemRequest `json:"items"  validate:"omitempty,dive"`
}

type RedeemVoucherRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type RefundItemResponse struct {
	SaleItemID string `json:"sale_item_id"`
	Quantity   int    `json:"quantity"`
}

type VoucherResponse struct {
	Code       string          `json:"code"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	Status     string          `json:"status"`
	RefundID   string          `json:"refund_id"`
	ExpiresAt  string          `json:"expires_at"`
	RedeemedAt *string         `json:"redeemed_at,omitempty"`
}

type RefundResponse struct {
	ID          string               `json:"id"`
	Number      string               `json:"number"`
	SaleID      string               `json:"sale_id"`
	SessionID   string               `json:"session_id"`
	Amount      decimal.Decimal      `json:"amount"`
	Method      string               `json:"method"`
	Reason      *string              `json:"reason,omitempty"`
	Items       []RefundItemResponse `json:"items,omitempty"`
	Voucher     *VoucherResponse     `json:"voucher,omitempty"`
	ProcessedBy string               `json:"processed_by"`
	CreatedAt   string               `json:"created_at"`
	// SaleStatus is the sale status after this refund.
	SaleStatus string `json:"sale_status"`
	// FiscalRecordID is set when the sale has a fiscal record; the caller
	// decides whether to request a rectification for it.
	FiscalRecordID *string `json:"fiscal_record_id,omitempty"`
}
