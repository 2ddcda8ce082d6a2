package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"evapos/internal/dto"
	"evapos/internal/infra"
	"evapos/internal/metrics"
	"evapos/internal/model"
	"evapos/internal/repository"
	"evapos/internal/stock"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const saleCounterScope = "sale"

// SaleService records sales atomically with stock, cash and fiscal effects.
type SaleService interface {
	Create(ctx context.Context, actor Actor, req dto.CreateSaleRequest) (*dto.SaleResponse, error)
	Void(ctx context.Context, actor Actor, id uuid.UUID, req dto.VoidSaleRequest) (*dto.SaleResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.SaleResponse, error)
	GetByNumber(ctx context.Context, number string) (*dto.SaleResponse, error)
	List(ctx context.Context, filter dto.SaleFilter) (*dto.SaleListResponse, error)
	MarkTicketPrinted(ctx context.Context, id uuid.UUID) error
	Ticket(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// SaleOptions carries the numbering and ticket settings from config.
type SaleOptions struct {
	NumberPrefix string
	Location     *time.Location
	StoreName    string
}

type saleService struct {
	db       *gorm.DB
	sales    repository.SaleRepository
	counters repository.CounterRepository
	records  repository.FiscalRecordRepository
	sessions CashSessionService
	stock    stock.Ledger
	fiscal   FiscalService
	metrics  *metrics.Metrics
	opts     SaleOptions
	now      func() time.Time
}

// NewSaleService wires the sale ledger. fiscal may be nil, in which case
// sales are never fiscalized.
func NewSaleService(
	db *gorm.DB,
	sales repository.SaleRepository,
	counters repository.CounterRepository,
	records repository.FiscalRecordRepository,
	sessions CashSessionService,
	ledger stock.Ledger,
	fiscal FiscalService,
	m *metrics.Metrics,
	opts SaleOptions,
) SaleService {
	if opts.NumberPrefix == "" {
		opts.NumberPrefix = "V"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &saleService{
		db:       db,
		sales:    sales,
		counters: counters,
		records:  records,
		sessions: sessions,
		stock:    ledger,
		fiscal:   fiscal,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// ── Create ────────────────────────────────────────────────────────────────────
//   1. An open cash session is required
//   2. Line totals, subtotal and total
//   3. Tender sufficiency
//   4. BEGIN TX: lock session, next daily number, sale + items, stock decrement
//   5. COMMIT
//   6. Fiscal record + submission job; failures never unwind the sale

func (s *saleService) Create(ctx context.Context, actor Actor, req dto.CreateSaleRequest) (*dto.SaleResponse, error) {
	if req.OfflineID != nil && *req.OfflineID != "" {
		if existing, err := s.sales.FindByOfflineID(ctx, *req.OfflineID); err == nil {
			return s.toResponse(ctx, existing), nil
		} else if !repository.IsNotFound(err) {
			return nil, err
		}
	}

	if _, err := s.sessions.RequireOpen(ctx, nil); err != nil {
		return nil, err
	}

	items, subtotal, err := priceLines(req.Items)
	if err != nil {
		return nil, err
	}
	discount := req.Discount.Round(2)
	if discount.IsNegative() {
		return nil, validationError("El descuento no puede ser negativo")
	}
	if discount.GreaterThan(subtotal) {
		return nil, validationError("El descuento supera el subtotal")
	}
	total := subtotal.Sub(discount)

	tender, err := settleTender(req.Tender, total)
	if err != nil {
		return nil, err
	}

	sale := &model.Sale{
		Subtotal:     subtotal,
		Discount:     discount,
		Total:        total,
		Tender:       tender.method,
		CashReceived: tender.cashReceived,
		ChangeGiven:  tender.change,
		CardAmount:   tender.card,
		AltAmount:    tender.alt,
		Status:       model.SaleCompleted,
		OfflineID:    nonEmpty(req.OfflineID),
		OperatorID:   actor.ID,
		Items:        items,
	}
	if c := req.Customer; c != nil {
		sale.CustomerName = trimmed(c.Name)
		sale.CustomerEmail = trimmed(c.Email)
		sale.CustomerTaxID = upperTrimmed(c.TaxID)
		sale.CustomerPhone = trimmed(c.Phone)
	}

	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		sess, err := s.sessions.RequireOpen(ctx, tx)
		if err != nil {
			return err
		}
		sale.SessionID = sess.ID

		now := s.now()
		day := dayKey(now, s.opts.Location)
		n, err := s.counters.Next(ctx, tx, saleCounterScope, day)
		if err != nil {
			return fmt.Errorf("next sale number: %w", err)
		}
		sale.Number = documentNumber(s.opts.NumberPrefix, day, n)
		sale.CreatedAt = now

		if err := s.sales.Create(ctx, tx, sale); err != nil {
			return err
		}
		for _, item := range sale.Items {
			ref := stock.ItemRef{ProductID: item.ProductID, VariantID: item.VariantID}
			mv := stock.Movement{Kind: "sale", Reason: "Venta " + sale.Number, ReferenceID: sale.ID}
			if err := s.stock.Decrement(ctx, tx, ref, item.Quantity, mv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A concurrent replay of the same offline sale lost the race on the unique index
		if sale.OfflineID != nil && repository.IsUniqueViolation(err) {
			if existing, findErr := s.sales.FindByOfflineID(ctx, *sale.OfflineID); findErr == nil {
				return s.toResponse(ctx, existing), nil
			}
		}
		return nil, err
	}

	s.metrics.SaleCreated(string(sale.Tender), sale.Total)
	log.Info().
		Str("sale_id", sale.ID.String()).
		Str("number", sale.Number).
		Str("total", sale.Total.StringFixed(2)).
		Str("tender", string(sale.Tender)).
		Msg("sale created")

	resp := saleToResponse(sale)
	resp.Fiscal = s.fiscalize(ctx, sale)
	return resp, nil
}

// fiscalize chains the committed sale. The sale is final at this point, so
// every failure is logged and reported in the response only.
func (s *saleService) fiscalize(ctx context.Context, sale *model.Sale) *dto.FiscalOutcome {
	if s.fiscal == nil || !s.fiscal.Enabled() {
		return &dto.FiscalOutcome{Status: "disabled"}
	}
	rec, err := s.fiscal.CreateRecordFromSale(ctx, sale.ID)
	if err != nil {
		log.Error().Err(err).
			Str("sale_id", sale.ID.String()).
			Str("number", sale.Number).
			Msg("sale committed but fiscal record failed")
		msg := err.Error()
		return &dto.FiscalOutcome{Status: "error", Error: &msg}
	}
	return &dto.FiscalOutcome{
		Status:        rec.Status,
		RecordID:      &rec.ID,
		InvoiceNumber: &rec.InvoiceNumber,
		QRPayload:     &rec.QRPayload,
	}
}

// ── Void ──────────────────────────────────────────────────────────────────────
// Only COMPLETED sales of a still-open session. Stock comes back in full.

func (s *saleService) Void(ctx context.Context, actor Actor, id uuid.UUID, req dto.VoidSaleRequest) (*dto.SaleResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, validationError("El motivo de anulación es obligatorio")
	}

	var sale *model.Sale
	err := runTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		sale, err = s.sales.LockByID(ctx, tx, id)
		if err != nil {
			return notFound(err, ErrSaleNotFound)
		}
		if sale.Status != model.SaleCompleted {
			return ErrSaleNotVoidable.WithMessage(fmt.Sprintf("La venta %s está en estado %s", sale.Number, sale.Status))
		}
		sess, err := s.sessions.RequireOpen(ctx, tx)
		if err != nil && !errors.Is(err, ErrNoOpenSession) {
			return err
		}
		if sess == nil || sess.ID != sale.SessionID {
			return ErrSaleNotVoidable.WithMessage("La sesión de caja de la venta ya está cerrada")
		}

		ok, err := s.sales.MarkVoided(ctx, tx, id, reason)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSaleNotVoidable
		}
		for _, item := range sale.Items {
			qty := item.RefundableQuantity()
			if qty <= 0 {
				continue
			}
			ref := stock.ItemRef{ProductID: item.ProductID, VariantID: item.VariantID}
			mv := stock.Movement{Kind: "void", Reason: "Anulación " + sale.Number + ": " + reason, ReferenceID: sale.ID}
			if err := s.stock.Increment(ctx, tx, ref, qty, mv); err != nil {
				return err
			}
		}
		sale.Status = model.SaleVoided
		sale.VoidReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SaleVoided()
	log.Info().
		Str("sale_id", sale.ID.String()).
		Str("number", sale.Number).
		Str("voided_by", actor.Name).
		Msg("sale voided")
	return s.toResponse(ctx, sale), nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *saleService) Get(ctx context.Context, id uuid.UUID) (*dto.SaleResponse, error) {
	sale, err := s.sales.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrSaleNotFound)
	}
	return s.toResponse(ctx, sale), nil
}

func (s *saleService) GetByNumber(ctx context.Context, number string) (*dto.SaleResponse, error) {
	sale, err := s.sales.FindByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, notFound(err, ErrSaleNotFound)
	}
	return s.toResponse(ctx, sale), nil
}

// List returns a paginated list of sales, newest first.
func (s *saleService) List(ctx context.Context, filter dto.SaleFilter) (*dto.SaleListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Status != "" && filter.Status != "all" && !model.SaleStatus(filter.Status).IsValid() {
		return nil, validationError("Estado de venta inválido")
	}
	if filter.Date != "" {
		if _, err := time.Parse("2006-01-02", filter.Date); err != nil {
			return nil, validationError("Fecha inválida, use YYYY-MM-DD")
		}
	}

	sales, total, err := s.sales.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	resp := &dto.SaleListResponse{
		Data:  make([]dto.SaleResponse, 0, len(sales)),
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	}
	for i := range sales {
		resp.Data = append(resp.Data, *saleToResponse(&sales[i]))
	}
	return resp, nil
}

func (s *saleService) MarkTicketPrinted(ctx context.Context, id uuid.UUID) error {
	return notFound(s.sales.MarkTicketPrinted(ctx, id), ErrSaleNotFound)
}

// Ticket renders the receipt PDF, with the Verifactu block when fiscalized.
func (s *saleService) Ticket(ctx context.Context, id uuid.UUID) ([]byte, error) {
	sale, err := s.sales.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrSaleNotFound)
	}
	var rec *model.FiscalRecord
	if s.records != nil {
		rec, err = s.records.FindBySaleID(ctx, nil, id)
		if err != nil && !repository.IsNotFound(err) {
			return nil, err
		}
	}
	return infra.RenderTicketPDF(buildTicket(s.opts.StoreName, sale, rec))
}

// toResponse maps a sale and attaches its fiscal record status when one exists.
func (s *saleService) toResponse(ctx context.Context, sale *model.Sale) *dto.SaleResponse {
	resp := saleToResponse(sale)
	if s.records == nil {
		return resp
	}
	rec, err := s.records.FindBySaleID(ctx, nil, sale.ID)
	if err != nil {
		if !repository.IsNotFound(err) {
			log.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("fiscal record lookup failed")
		}
		return resp
	}
	resp.Fiscal = fiscalOutcome(rec)
	return resp
}

// ── helpers ──────────────────────────────────────────────────────────────────

// priceLines computes line totals and the subtotal:
// lineTotal = unitPrice × qty − lineDiscount.
func priceLines(reqs []dto.SaleItemRequest) ([]model.SaleItem, decimal.Decimal, error) {
	if len(reqs) == 0 {
		return nil, decimal.Zero, validationError("La venta debe tener al menos un artículo")
	}
	subtotal := decimal.Zero
	items := make([]model.SaleItem, 0, len(reqs))
	for i, r := range reqs {
		productID, err := uuid.Parse(r.ProductID)
		if err != nil {
			return nil, decimal.Zero, validationError(fmt.Sprintf("items[%d].product_id inválido", i))
		}
		var variantID *uuid.UUID
		if r.VariantID != nil && *r.VariantID != "" {
			v, err := uuid.Parse(*r.VariantID)
			if err != nil {
				return nil, decimal.Zero, validationError(fmt.Sprintf("items[%d].variant_id inválido", i))
			}
			variantID = &v
		}
		if r.Quantity <= 0 {
			return nil, decimal.Zero, validationError(fmt.Sprintf("items[%d].quantity debe ser mayor que 0", i))
		}
		price := r.UnitPrice.Round(2)
		lineDiscount := r.LineDiscount.Round(2)
		if price.IsNegative() || lineDiscount.IsNegative() {
			return nil, decimal.Zero, validationError(fmt.Sprintf("items[%d]: importes negativos", i))
		}
		gross := price.Mul(decimal.NewFromInt(int64(r.Quantity)))
		if lineDiscount.GreaterThan(gross) {
			return nil, decimal.Zero, validationError(fmt.Sprintf("items[%d]: el descuento supera el importe de la línea", i))
		}
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, decimal.Zero, validationError(fmt.Sprintf("items[%d].name es obligatorio", i))
		}
		lineTotal := gross.Sub(lineDiscount)
		subtotal = subtotal.Add(lineTotal)
		items = append(items, model.SaleItem{
			ProductID:    productID,
			VariantID:    variantID,
			Name:         name,
			SKU:          trimmed(r.SKU),
			Quantity:     r.Quantity,
			UnitPrice:    price,
			LineDiscount: lineDiscount,
			LineTotal:    lineTotal,
		})
	}
	return items, subtotal, nil
}

type settledTender struct {
	method       model.TenderMethod
	cashReceived decimal.Decimal
	change       decimal.Decimal
	card         decimal.Decimal
	alt          decimal.Decimal
}

// settleTender checks payment sufficiency and computes change.
// Change is max(0, cash received − total) for cash and mixed tenders alike.
func settleTender(req dto.TenderRequest, total decimal.Decimal) (settledTender, error) {
	method, err := model.ParseTenderMethod(req.Method)
	if err != nil {
		return settledTender{}, validationError("Medio de pago inválido")
	}
	amount := func(d *decimal.Decimal) decimal.Decimal {
		if d == nil {
			return decimal.Zero
		}
		return d.Round(2)
	}
	st := settledTender{
		method:       method,
		cashReceived: amount(req.CashReceived),
		card:         amount(req.CardAmount),
		alt:          amount(req.AltAmount),
		change:       decimal.Zero,
	}
	if st.cashReceived.IsNegative() || st.card.IsNegative() || st.alt.IsNegative() {
		return settledTender{}, validationError("Los importes de pago no pueden ser negativos")
	}

	switch method {
	case model.TenderCash:
		st.card, st.alt = decimal.Zero, decimal.Zero
		if st.cashReceived.LessThan(total) {
			return settledTender{}, ErrInsufficientPayment.WithMessage(
				fmt.Sprintf("Efectivo insuficiente: entregado %s, total %s", st.cashReceived.StringFixed(2), total.StringFixed(2)))
		}
		st.change = st.cashReceived.Sub(total)

	case model.TenderCard, model.TenderAlt:
		paid, given := &st.card, req.CardAmount
		if method == model.TenderAlt {
			paid, given = &st.alt, req.AltAmount
			st.card = decimal.Zero
		} else {
			st.alt = decimal.Zero
		}
		st.cashReceived = decimal.Zero
		if given == nil {
			*paid = total
		}
		if paid.LessThan(total) {
			return settledTender{}, ErrInsufficientPayment
		}
		if paid.GreaterThan(total) {
			return settledTender{}, validationError("El pago electrónico no puede superar el total")
		}

	case model.TenderMixed:
		if st.cashReceived.Add(st.card).Add(st.alt).LessThan(total) {
			return settledTender{}, ErrInsufficientPayment
		}
		st.change = decimal.Max(decimal.Zero, st.cashReceived.Sub(total))
	}
	return st, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func upperTrimmed(s *string) *string {
	v := trimmed(s)
	if v == nil {
		return nil
	}
	u := strings.ToUpper(*v)
	return &u
}

func saleToResponse(s *model.Sale) *dto.SaleResponse {
	resp := &dto.SaleResponse{
		ID:             s.ID.String(),
		Number:         s.Number,
		SessionID:      s.SessionID.String(),
		Items:          make([]dto.SaleItemResponse, 0, len(s.Items)),
		Subtotal:       s.Subtotal,
		Discount:       s.Discount,
		Total:          s.Total,
		Tender:         string(s.Tender),
		CashReceived:   s.CashReceived,
		Change:         s.ChangeGiven,
		CardAmount:     s.CardAmount,
		AltAmount:      s.AltAmount,
		Status:         string(s.Status),
		RefundedAmount: s.RefundedAmount,
		TicketPrinted:  s.TicketPrinted,
		OfflineID:      s.OfflineID,
		CreatedAt:      formatTime(s.CreatedAt),
	}
	if s.CustomerName != nil || s.CustomerEmail != nil || s.CustomerTaxID != nil || s.CustomerPhone != nil {
		resp.Customer = &dto.CustomerRequest{
			Name:  s.CustomerName,
			Email: s.CustomerEmail,
			TaxID: s.CustomerTaxID,
			Phone: s.CustomerPhone,
		}
	}
	for _, item := range s.Items {
		resp.Items = append(resp.Items, dto.SaleItemResponse{
			ID:               item.ID.String(),
			ProductID:        item.ProductID.String(),
			VariantID:        uuidPtrString(item.VariantID),
			Name:             item.Name,
			SKU:              item.SKU,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			LineDiscount:     item.LineDiscount,
			LineTotal:        item.LineTotal,
			RefundedQuantity: item.RefundedQuantity,
		})
	}
	return resp
}

func fiscalOutcome(rec *model.FiscalRecord) *dto.FiscalOutcome {
	id := rec.ID.String()
	number := rec.InvoiceNumber
	qr := rec.QRPayload
	return &dto.FiscalOutcome{
		Status:        string(rec.Status),
		RecordID:      &id,
		InvoiceNumber: &number,
		QRPayload:     &qr,
	}
}

func buildTicket(storeName string, sale *model.Sale, rec *model.FiscalRecord) infra.Ticket {
	t := infra.Ticket{
		StoreName:    storeName,
		Number:       sale.Number,
		IssuedAt:     sale.CreatedAt,
		Subtotal:     sale.Subtotal,
		Discount:     sale.Discount,
		Total:        sale.Total,
		Tender:       string(sale.Tender),
		CashReceived: sale.CashReceived,
		Change:       sale.ChangeGiven,
		CardAmount:   sale.CardAmount,
		AltAmount:    sale.AltAmount,
		Voided:       sale.Status == model.SaleVoided,
	}
	for _, item := range sale.Items {
		t.Lines = append(t.Lines, infra.TicketLine{
			Name:         item.Name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineDiscount: item.LineDiscount,
			LineTotal:    item.LineTotal,
		})
	}
	if rec != nil {
		t.InvoiceNumber = rec.InvoiceNumber
		t.QRPayload = rec.QRPayload
		if n := len(rec.CurrentHash); n >= 8 {
			t.HashSuffix = rec.CurrentHash[n-8:]
		}
	}
	return t
}
