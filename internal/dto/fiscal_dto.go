package dto

import "github.com/shopspring/decimal"

// FiscalRecordFilter is bound from query string of GET /v1/fiscal-records.
type FiscalRecordFilter struct {
	Status      string `form:"status"       validate:"omitempty,oneof=PENDING SUBMITTED ACCEPTED REJECTED CANCELLED"`
	InvoiceType string `form:"invoice_type" validate:"omitempty,oneof=standard rectification"`
	From        string `form:"from"` // YYYY-MM-DD
	To          string `form:"to"`   // YYYY-MM-DD
	Page        int    `form:"page,default=1"   validate:"min=1"`
	Limit       int    `form:"limit,default=50" validate:"min=1,max=200"`
}

type CreateFiscalRecordRequest struct {
	SaleID string `json:"sale_id" validate:"required,uuid"`
}

type CancelFiscalRecordRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type RectificationRequest struct {
	Reason    string           `json:"reason"     validate:"required,min=3,max=500"`
	NewAmount *decimal.Decimal `json:"new_amount"`
}

type ResumeChainRequest struct {
	Note string `json:"note" validate:"required,min=3,max=500"`
}

type FiscalRecordResponse struct {
	ID                  string          `json:"id"`
	Sequence            int64           `json:"sequence"`
	InvoiceNumber       string          `json:"invoice_number"`
	InvoiceDate         string          `json:"invoice_date"`
	InvoiceType         string          `json:"invoice_type"`
	IssuerTaxID         string          `json:"issuer_tax_id"`
	IssuerName          string          `json:"issuer_name"`
	RecipientTaxID      *string         `json:"recipient_tax_id,omitempty"`
	RecipientName       *string         `json:"recipient_name,omitempty"`
	BaseAmount          decimal.Decimal `json:"base_amount"`
	TaxRate             decimal.Decimal `json:"tax_rate"`
	TaxAmount           decimal.Decimal `json:"tax_amount"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	PreviousHash        string          `json:"previous_hash"`
	CurrentHash         string          `json:"current_hash"`
	HashInput           string          `json:"hash_input"`
	HashVersion         string          `json:"hash_version"`
	QRPayload           string          `json:"qr_payload"`
	Status              string          `json:"status"`
	ResponsePayload     *string         `json:"response_payload,omitempty"`
	ErrorCode           *string         `json:"error_code,omitempty"`
	ErrorMessage        *string         `json:"error_message,omitempty"`
	SubmittedAt         *string         `json:"submitted_at,omitempty"`
	RetryCount          int             `json:"retry_count"`
	CancelReason        *string         `json:"cancel_reason,omitempty"`
	SaleID              *string         `json:"sale_id,omitempty"`
	RectifiedRecordID   *string         `json:"rectified_record_id,omitempty"`
	RectificationReason *string         `json:"rectification_reason,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

type FiscalRecordListResponse struct {
	Data  []FiscalRecordResponse `json:"data"`
	Total int64                  `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

type FiscalStatsResponse struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	Halted   bool             `json:"halted"`
}

type ChainVerificationResponse struct {
	Valid         bool    `json:"valid"`
	Checked       int     `json:"checked"`
	BrokenAt      *string `json:"broken_at,omitempty"` // invoice number of the first bad link
	Reason        *string `json:"reason,omitempty"`
	Halted        bool    `json:"halted"`
	TailHash      string  `json:"tail_hash"`
	TailInvoiceNo *string `json:"tail_invoice_number,omitempty"`
}

type CertificateStatusResponse struct {
	Valid     bool     `json:"valid"`
	Subject   string   `json:"subject,omitempty"`
	Serial    string   `json:"serial,omitempty"`
	NotBefore *string  `json:"not_before,omitempty"`
	NotAfter  *string  `json:"not_after,omitempty"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
}
