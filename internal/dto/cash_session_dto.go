package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenSessionRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount" validate:"min=0"`
	Notes         *string         `json:"notes"          validate:"omitempty,max=500"`
}

type CashMovementRequest struct {
	Type   string          `json:"type"   validate:"required,oneof=in out"`
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Reason string          `json:"reason" validate:"required,min=3,max=200"`
}

type CloseSessionRequest struct {
	CountedCash decimal.Decimal  `json:"counted_cash" validate:"min=0"`
	CountedCard decimal.Decimal  `json:"counted_card" validate:"min=0"`
	CountedAlt  *decimal.Decimal `json:"counted_alt"`
	Notes       *string          `json:"notes"        validate:"omitempty,max=500"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CashMovementResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	RefundID  *string         `json:"refund_id,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type CashSessionResponse struct {
	ID            string                 `json:"id"`
	OperatorID    string                 `json:"operator_id"`
	OperatorName  string                 `json:"operator_name"`
	OpeningAmount decimal.Decimal        `json:"opening_amount"`
	OpeningNotes  *string                `json:"opening_notes"`
	OpenedAt      string                 `json:"opened_at"`
	Status        string                 `json:"status"` // open | closed
	ClosingCash   *decimal.Decimal       `json:"closing_cash"`
	ClosingCard   *decimal.Decimal       `json:"closing_card"`
	ClosingAlt    *decimal.Decimal       `json:"closing_alt"`
	ExpectedCash  *decimal.Decimal       `json:"expected_cash"`
	Difference    *decimal.Decimal       `json:"difference"`
	ClosingNotes  *string                `json:"closing_notes"`
	ClosedAt      *string                `json:"closed_at"`
	Movements     []CashMovementResponse `json:"movements,omitempty"`
}

// TenderTotals splits money by tender for reporting.
type TenderTotals struct {
	Cash decimal.Decimal `json:"cash"`
	Card decimal.Decimal `json:"card"`
	Alt  decimal.Decimal `json:"alt"`
}

type SessionSummaryResponse struct {
	SessionID       string                     `json:"session_id"`
	SalesCount      int                        `json:"sales_count"`
	VoidedCount     int                        `json:"voided_count"`
	SalesTotal      decimal.Decimal            `json:"sales_total"`
	ByTender        TenderTotals               `json:"by_tender"`
	MovementsIn     decimal.Decimal            `json:"movements_in"`
	MovementsOut    decimal.Decimal            `json:"movements_out"`
	RefundsTotal    decimal.Decimal            `json:"refunds_total"`
	RefundsByMethod map[string]decimal.Decimal `json:"refunds_by_method"`
	ExpectedCash    decimal.Decimal            `json:"expected_cash"`
}

type CloseSessionResponse struct {
	Session      CashSessionResponse `json:"session"`
	ExpectedCash decimal.Decimal     `json:"expected_cash"`
	Difference   decimal.Decimal     `json:"difference"`
	// Classification is "balanced" | "over" | "short"
	Classification string `json:"classification"`
}

type CashSessionListResponse struct {
	Data  []CashSessionResponse `json:"data"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

// PageQuery is bound from ?page=&limit= on list endpoints.
type PageQuery struct {
	Page  int `form:"page,default=1"   validate:"min=1"`
	Limit int `form:"limit,default=50" validate:"min=1,max=200"`
}

// CashSessionDetailResponse is GET /v1/cash-sessions/:id.
type CashSessionDetailResponse struct {
	Session CashSessionResponse    `json:"session"`
	Summary SessionSummaryResponse `json:"summary"`
}
