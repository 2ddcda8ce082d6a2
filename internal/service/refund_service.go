package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"evapos/internal/dto"
	"evapos/internal/metrics"
	"evapos/internal/model"
	"evapos/internal/repository"
	"evapos/internal/stock"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	refundCounterScope = "refund"
	voucherPrefix      = "VC-"
	voucherCodeLen     = 8
	// no 0/O, 1/I to keep codes readable over the phone
	voucherAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RefundService issues refunds and store-credit vouchers.
type RefundService interface {
	Create(ctx context.Context, actor Actor, saleID uuid.UUID, req dto.CreateRefundRequest) (*dto.RefundResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.RefundResponse, error)
	ListBySale(ctx context.Context, saleID uuid.UUID) ([]dto.RefundResponse, error)
	GetVoucher(ctx context.Context, code string) (*dto.VoucherResponse, error)
	RedeemVoucher(ctx context.Context, actor Actor, code string, req dto.RedeemVoucherRequest) (*dto.VoucherResponse, error)
}

// RefundOptions configures refund policy.
type RefundOptions struct {
	NumberPrefix        string
	Location            *time.Location
	VoucherValidityDays int
}

type refundService struct {
	db       *gorm.DB
	refunds  repository.RefundRepository
	sales    repository.SaleRepository
	counters repository.CounterRepository
	records  repository.FiscalRecordRepository
	sessions CashSessionService
	cash     repository.CashSessionRepository
	stock    stock.Ledger
	metrics  *metrics.Metrics
	opts     RefundOptions
	now      func() time.Time
	newCode  func() (string, error)
}

// NewRefundService creates a RefundService.
func NewRefundService(
	db *gorm.DB,
	refunds repository.RefundRepository,
	sales repository.SaleRepository,
	counters repository.CounterRepository,
	records repository.FiscalRecordRepository,
	sessions CashSessionService,
	cash repository.CashSessionRepository,
	ledger stock.Ledger,
	m *metrics.Metrics,
	opts RefundOptions,
) RefundService {
	if opts.NumberPrefix == "" {
		opts.NumberPrefix = "D"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.VoucherValidityDays <= 0 {
		opts.VoucherValidityDays = 365
	}
	return &refundService{
		db:       db,
		refunds:  refunds,
		sales:    sales,
		counters: counters,
		records:  records,
		sessions: sessions,
		cash:     cash,
		stock:    ledger,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		newCode:  generateVoucherCode,
	}
}

// ── Create ────────────────────────────────────────────────────────────────────
//   1. Lock the sale; VOIDED and REFUNDED sales reject new refunds
//   2. Lock the open session (refund money moves in the current drawer)
//   3. Cumulative amount may not exceed the sale total
//   4. Item quantities advance, stock comes back through the ledger
//   5. Refund + voucher (voucher method) + cash-out movement (cash method)
//   6. Sale status recomputed: PARTIAL_REFUND or REFUNDED
// A fiscalized sale is never rectified implicitly.

func (s *refundService) Create(ctx context.Context, actor Actor, saleID uuid.UUID, req dto.CreateRefundRequest) (*dto.RefundResponse, error) {
	method, err := model.ParseRefundMethod(req.Method)
	if err != nil {
		return nil, validationError("Método de devolución inválido")
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, validationError("El importe de la devolución debe ser positivo")
	}
	wanted, err := parseRefundItems(req.Items)
	if err != nil {
		return nil, err
	}

	var (
		sale    *model.Sale
		refund  *model.Refund
		voucher *model.Voucher
	)
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		sale, err = s.sales.LockByID(ctx, tx, saleID)
		if err != nil {
			return notFound(err, ErrSaleNotFound)
		}
		switch sale.Status {
		case model.SaleVoided:
			return ErrSaleNotRefundable.WithMessage(fmt.Sprintf("La venta %s está anulada", sale.Number))
		case model.SaleRefunded:
			return ErrSaleFullyRefunded
		}

		sess, err := s.sessions.RequireOpen(ctx, tx)
		if err != nil {
			return err
		}

		refunded, err := s.refunds.SumBySale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		cumulative := refunded.Add(amount)
		if cumulative.GreaterThan(sale.Total) {
			return ErrRefundExceeds.WithMessage(fmt.Sprintf(
				"El importe supera el saldo devolvible de la venta (%s)", sale.Total.Sub(refunded).StringFixed(2)))
		}

		now := s.now()
		day := dayKey(now, s.opts.Location)
		n, err := s.counters.Next(ctx, tx, refundCounterScope, day)
		if err != nil {
			return fmt.Errorf("next refund number: %w", err)
		}
		refund = &model.Refund{
			Number:      documentNumber(s.opts.NumberPrefix, day, n),
			SaleID:      sale.ID,
			SessionID:   sess.ID,
			Amount:      amount,
			Method:      method,
			Reason:      trimmed(req.Reason),
			ProcessedBy: actor.ID,
			CreatedAt:   now,
		}

		for _, w := range wanted {
			item := findItem(sale.Items, w.saleItemID)
			if item == nil {
				return validationError(fmt.Sprintf("La línea %s no pertenece a la venta", w.saleItemID))
			}
			ok, err := s.sales.AddRefundedQuantity(ctx, tx, item.ID, w.quantity)
			if err != nil {
				return err
			}
			if !ok {
				return ErrOverRefundItem.WithMessage(fmt.Sprintf(
					"No se pueden devolver %d uds. de %s: quedan %d", w.quantity, item.Name, item.RefundableQuantity()))
			}
			ref := stock.ItemRef{ProductID: item.ProductID, VariantID: item.VariantID}
			mv := stock.Movement{Kind: "refund", Reason: "Devolución " + refund.Number, ReferenceID: sale.ID}
			if err := s.stock.Increment(ctx, tx, ref, w.quantity, mv); err != nil {
				return err
			}
			refund.Items = append(refund.Items, model.RefundItem{SaleItemID: item.ID, Quantity: w.quantity})
		}

		if method == model.RefundVoucher {
			code, err := s.uniqueVoucherCode(ctx, tx)
			if err != nil {
				return err
			}
			refund.VoucherCode = &code
		}
		if err := s.refunds.Create(ctx, tx, refund); err != nil {
			return err
		}

		if refund.VoucherCode != nil {
			voucher = &model.Voucher{
				Code:      *refund.VoucherCode,
				Amount:    amount,
				Balance:   amount,
				RefundID:  refund.ID,
				Status:    model.VoucherActive,
				ExpiresAt: now.AddDate(0, 0, s.opts.VoucherValidityDays),
				CreatedAt: now,
			}
			if err := s.refunds.CreateVoucher(ctx, tx, voucher); err != nil {
				return err
			}
		}

		if method == model.RefundCash {
			refundID := refund.ID
			mov := &model.CashMovement{
				SessionID: sess.ID,
				Type:      model.MovementOut,
				Amount:    amount,
				Reason:    "Devolución " + refund.Number + " (venta " + sale.Number + ")",
				CreatedBy: actor.ID,
				RefundID:  &refundID,
				CreatedAt: now,
			}
			if err := s.cash.CreateMovement(ctx, tx, mov); err != nil {
				return err
			}
		}

		status := model.SalePartialRefund
		if !cumulative.LessThan(sale.Total) {
			status = model.SaleRefunded
		}
		if err := s.sales.ApplyRefund(ctx, tx, sale.ID, cumulative, status); err != nil {
			return err
		}
		sale.RefundedAmount = cumulative
		sale.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RefundCreated(string(method), amount)
	log.Info().
		Str("refund_id", refund.ID.String()).
		Str("number", refund.Number).
		Str("sale", sale.Number).
		Str("amount", amount.StringFixed(2)).
		Str("method", string(method)).
		Str("sale_status", string(sale.Status)).
		Msg("refund created")

	resp := refundToResponse(refund, voucher, s.now())
	resp.SaleStatus = string(sale.Status)
	resp.FiscalRecordID = s.fiscalRecordID(ctx, sale.ID)
	return resp, nil
}

// uniqueVoucherCode draws codes until one is free.
func (s *refundService) uniqueVoucherCode(ctx context.Context, tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("voucher code: %w", err)
		}
		_, err = s.refunds.FindVoucher(ctx, tx, code)
		if repository.IsNotFound(err) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("voucher code: no free code after 5 attempts")
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *refundService) Get(ctx context.Context, id uuid.UUID) (*dto.RefundResponse, error) {
	refund, err := s.refunds.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrRefundNotFound)
	}
	sale, err := s.sales.FindByID(ctx, nil, refund.SaleID)
	if err != nil {
		return nil, err
	}
	resp, err := s.describe(ctx, refund)
	if err != nil {
		return nil, err
	}
	resp.SaleStatus = string(sale.Status)
	resp.FiscalRecordID = s.fiscalRecordID(ctx, sale.ID)
	return resp, nil
}

func (s *refundService) ListBySale(ctx context.Context, saleID uuid.UUID) ([]dto.RefundResponse, error) {
	sale, err := s.sales.FindByID(ctx, nil, saleID)
	if err != nil {
		return nil, notFound(err, ErrSaleNotFound)
	}
	refunds, err := s.refunds.ListBySale(ctx, nil, saleID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.RefundResponse, 0, len(refunds))
	for i := range refunds {
		resp, err := s.describe(ctx, &refunds[i])
		if err != nil {
			return nil, err
		}
		resp.SaleStatus = string(sale.Status)
		out = append(out, *resp)
	}
	return out, nil
}

func (s *refundService) GetVoucher(ctx context.Context, code string) (*dto.VoucherResponse, error) {
	v, err := s.refunds.FindVoucher(ctx, nil, normalizeVoucherCode(code))
	if err != nil {
		return nil, notFound(err, ErrVoucherNotFound)
	}
	resp := voucherToResponse(v, s.now())
	return &resp, nil
}

// RedeemVoucher debits amount from the voucher balance. A voucher spent to
// zero becomes REDEEMED.
func (s *refundService) RedeemVoucher(ctx context.Context, actor Actor, code string, req dto.RedeemVoucherRequest) (*dto.VoucherResponse, error) {
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, validationError("El importe a canjear debe ser positivo")
	}

	var v *model.Voucher
	now := s.now()
	err := runTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		v, err = s.refunds.LockVoucher(ctx, tx, normalizeVoucherCode(code))
		if err != nil {
			return notFound(err, ErrVoucherNotFound)
		}
		if v.Status == model.VoucherRedeemed || !v.Balance.IsPositive() {
			return ErrVoucherExhausted
		}
		if v.Expired(now) {
			return ErrVoucherExpired
		}
		if amount.GreaterThan(v.Balance) {
			return ErrVoucherExhausted.WithMessage(fmt.Sprintf("Saldo disponible del vale: %s", v.Balance.StringFixed(2)))
		}
		v.Balance = v.Balance.Sub(amount)
		if v.Balance.IsZero() {
			v.Status = model.VoucherRedeemed
			v.RedeemedAt = &now
		}
		return s.refunds.UpdateVoucherBalance(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("voucher", v.Code).
		Str("amount", amount.StringFixed(2)).
		Str("balance", v.Balance.StringFixed(2)).
		Str("operator", actor.Name).
		Msg("voucher redeemed")
	resp := voucherToResponse(v, now)
	return &resp, nil
}

func (s *refundService) describe(ctx context.Context, refund *model.Refund) (*dto.RefundResponse, error) {
	var voucher *model.Voucher
	if refund.VoucherCode != nil {
		v, err := s.refunds.FindVoucher(ctx, nil, *refund.VoucherCode)
		if err != nil && !repository.IsNotFound(err) {
			return nil, err
		}
		voucher = v
	}
	return refundToResponse(refund, voucher, s.now()), nil
}

func (s *refundService) fiscalRecordID(ctx context.Context, saleID uuid.UUID) *string {
	if s.records == nil {
		return nil
	}
	rec, err := s.records.FindBySaleID(ctx, nil, saleID)
	if err != nil {
		return nil
	}
	id := rec.ID.String()
	return &id
}

// ── helpers ──────────────────────────────────────────────────────────────────

type wantedItem struct {
	saleItemID uuid.UUID
	quantity   int
}

func parseRefundItems(reqs []dto.RefundItemRequest) ([]wantedItem, error) {
	out := make([]wantedItem, 0, len(reqs))
	seen := make(map[uuid.UUID]bool, len(reqs))
	for i, r := range reqs {
		id, err := uuid.Parse(r.SaleItemID)
		if err != nil {
			return nil, validationError(fmt.Sprintf("items[%d].sale_item_id inválido", i))
		}
		if r.Quantity <= 0 {
			return nil, validationError(fmt.Sprintf("items[%d].quantity debe ser mayor que 0", i))
		}
		if seen[id] {
			return nil, validationError(fmt.Sprintf("items[%d]: línea repetida", i))
		}
		seen[id] = true
		out = append(out, wantedItem{saleItemID: id, quantity: r.Quantity})
	}
	return out, nil
}

func findItem(items []model.SaleItem, id uuid.UUID) *model.SaleItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func generateVoucherCode() (string, error) {
	buf := make([]byte, voucherCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	// 256 is a multiple of len(voucherAlphabet), so the modulo is unbiased
	for i, b := range buf {
		buf[i] = voucherAlphabet[int(b)%len(voucherAlphabet)]
	}
	return voucherPrefix + string(buf), nil
}

func normalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func voucherToResponse(v *model.Voucher, now time.Time) dto.VoucherResponse {
	status := v.Status
	if status == model.VoucherActive && v.Expired(now) {
		status = model.VoucherExpired
	}
	return dto.VoucherResponse{
		Code:       v.Code,
		Amount:     v.Amount,
		Balance:    v.Balance,
		Status:     string(status),
		RefundID:   v.RefundID.String(),
		ExpiresAt:  formatTime(v.ExpiresAt),
		RedeemedAt: formatTimePtr(v.RedeemedAt),
	}
}

func refundToResponse(r *model.Refund, v *model.Voucher, now time.Time) *dto.RefundResponse {
	resp := &dto.RefundResponse{
		ID:          r.ID.String(),
		Number:      r.Number,
		SaleID:      r.SaleID.String(),
		SessionID:   r.SessionID.String(),
		Amount:      r.Amount,
		Method:      string(r.Method),
		Reason:      r.Reason,
		ProcessedBy: r.ProcessedBy.String(),
		CreatedAt:   formatTime(r.CreatedAt),
	}
	for _, item := range r.Items {
		resp.Items = append(resp.Items, dto.RefundItemResponse{
			SaleItemID: item.SaleItemID.String(),
			Quantity:   item.Quantity,
		})
	}
	if v != nil {
		vr := voucherToResponse(v, now)
		resp.Voucher = &vr
	}
	return resp
}
