package service

import (
	"context"
	"strings"
	"time"

	"evapos/internal/dto"
	"evapos/internal/metrics"
	"evapos/internal/model"
	"evapos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashSessionService opens, closes and reports on till sessions.
type CashSessionService interface {
	Open(ctx context.Context, actor Actor, req dto.OpenSessionRequest) (*dto.CashSessionResponse, error)
	RecordMovement(ctx context.Context, actor Actor, sessionID uuid.UUID, req dto.CashMovementRequest) (*dto.CashMovementResponse, error)
	Close(ctx context.Context, actor Actor, sessionID uuid.UUID, req dto.CloseSessionRequest) (*dto.CloseSessionResponse, error)
	Current(ctx context.Context) (*dto.CashSessionResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.CashSessionResponse, error)
	Summary(ctx context.Context, id uuid.UUID) (*dto.SessionSummaryResponse, error)
	List(ctx context.Context, q dto.PageQuery) (*dto.CashSessionListResponse, error)
	// RequireOpen returns the open session locked for the life of tx.
	// Sales and refunds call it so a concurrent close waits for them.
	RequireOpen(ctx context.Context, tx *gorm.DB) (*model.CashSession, error)
}

type cashSessionService struct {
	sessions repository.CashSessionRepository
	sales    repository.SaleRepository
	refunds  repository.RefundRepository
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewCashSessionService creates a CashSessionService.
func NewCashSessionService(
	sessions repository.CashSessionRepository,
	sales repository.SaleRepository,
	refunds repository.RefundRepository,
	m *metrics.Metrics,
) CashSessionService {
	return &cashSessionService{
		sessions: sessions,
		sales:    sales,
		refunds:  refunds,
		metrics:  m,
		now:      time.Now,
	}
}

// ── Open ──────────────────────────────────────────────────────────────────────
// The pre-check gives the common case a clean error; the unique open_slot
// index settles the race between two terminals opening at once.

func (s *cashSessionService) Open(ctx context.Context, actor Actor, req dto.OpenSessionRequest) (*dto.CashSessionResponse, error) {
	if req.OpeningAmount.IsNegative() {
		return nil, validationError("El fondo inicial no puede ser negativo")
	}
	if _, err := s.sessions.FindOpen(ctx, nil); err == nil {
		return nil, ErrSessionAlreadyOpen
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	slot := model.OpenSlotTaken
	sess := &model.CashSession{
		OperatorID:    actor.ID,
		OperatorName:  actor.Name,
		OpeningAmount: req.OpeningAmount.Round(2),
		OpeningNotes:  trimmed(req.Notes),
		OpenedAt:      s.now(),
		OpenSlot:      &slot,
	}
	if err := s.sessions.Create(ctx, nil, sess); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrSessionAlreadyOpen
		}
		return nil, err
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("operator", actor.Name).
		Str("opening_amount", sess.OpeningAmount.StringFixed(2)).
		Msg("cash session opened")
	return sessionToResponse(sess), nil
}

// ── RecordMovement ────────────────────────────────────────────────────────────
// Paid-in / paid-out. Movements are immutable, there is no update or delete.

func (s *cashSessionService) RecordMovement(ctx context.Context, actor Actor, sessionID uuid.UUID, req dto.CashMovementRequest) (*dto.CashMovementResponse, error) {
	typ := model.MovementType(req.Type)
	if !typ.IsValid() {
		return nil, validationError("Tipo de movimiento inválido")
	}
	if !req.Amount.IsPositive() {
		return nil, validationError("El importe debe ser positivo")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, validationError("El motivo es obligatorio")
	}

	mov := &model.CashMovement{
		SessionID: sessionID,
		Type:      typ,
		Amount:    req.Amount.Round(2),
		Reason:    reason,
		CreatedBy: actor.ID,
	}
	err := runTx(ctx, s.sessions.DB(), func(tx *gorm.DB) error {
		sess, err := s.sessions.LockByID(ctx, tx, sessionID)
		if err != nil {
			return notFound(err, ErrSessionNotFound)
		}
		if !sess.IsOpen() {
			return ErrSessionClosed
		}
		return s.sessions.CreateMovement(ctx, tx, mov)
	})
	if err != nil {
		return nil, err
	}
	resp := movementToResponse(mov)
	return &resp, nil
}

// ── Close ─────────────────────────────────────────────────────────────────────
// expected = opening + cash kept from sales + paid-in − paid-out.
// Cash refunds are already paid-out movements, voided sales never count.

func (s *cashSessionService) Close(ctx context.Context, actor Actor, sessionID uuid.UUID, req dto.CloseSessionRequest) (*dto.CloseSessionResponse, error) {
	if req.CountedCash.IsNegative() || req.CountedCard.IsNegative() ||
		(req.CountedAlt != nil && req.CountedAlt.IsNegative()) {
		return nil, validationError("Los importes contados no pueden ser negativos")
	}

	var sess *model.CashSession
	var expected, diff decimal.Decimal
	err := runTx(ctx, s.sessions.DB(), func(tx *gorm.DB) error {
		var err error
		sess, err = s.sessions.LockByID(ctx, tx, sessionID)
		if err != nil {
			return notFound(err, ErrSessionNotFound)
		}
		if !sess.IsOpen() {
			return ErrSessionClosed
		}

		sales, err := s.sales.ListBySession(ctx, tx, sessionID, model.CashCountedStatuses)
		if err != nil {
			return err
		}
		movs, err := s.sessions.ListMovements(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		expected = expectedCash(sess.OpeningAmount, sales, movs)
		diff = req.CountedCash.Round(2).Sub(expected)

		cash := req.CountedCash.Round(2)
		card := req.CountedCard.Round(2)
		alt := decimal.Zero
		if req.CountedAlt != nil {
			alt = req.CountedAlt.Round(2)
		}
		closedAt := s.now()
		sess.ClosingCash = &cash
		sess.ClosingCard = &card
		sess.ClosingAlt = &alt
		sess.ExpectedCash = &expected
		sess.Difference = &diff
		sess.ClosingNotes = trimmed(req.Notes)
		sess.ClosedAt = &closedAt

		ok, err := s.sessions.Close(ctx, tx, sess)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionClosed
		}
		sess.OpenSlot = nil
		sess.Movements = movs
		return nil
	})
	if err != nil {
		return nil, err
	}

	class := classifyDifference(diff)
	s.metrics.SessionClosed(class)
	log.Info().
		Str("session_id", sessionID.String()).
		Str("closed_by", actor.Name).
		Str("expected_cash", expected.StringFixed(2)).
		Str("difference", diff.StringFixed(2)).
		Str("classification", class).
		Msg("cash session closed")

	return &dto.CloseSessionResponse{
		Session:        *sessionToResponse(sess),
		ExpectedCash:   expected,
		Difference:     diff,
		Classification: class,
	}, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *cashSessionService) Current(ctx context.Context) (*dto.CashSessionResponse, error) {
	open, err := s.sessions.FindOpen(ctx, nil)
	if err != nil {
		return nil, notFound(err, ErrNoOpenSession)
	}
	return s.Get(ctx, open.ID)
}

func (s *cashSessionService) Get(ctx context.Context, id uuid.UUID) (*dto.CashSessionResponse, error) {
	sess, err := s.sessions.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return sessionToResponse(sess), nil
}

// Summary aggregates a session for the X/Z report. Reporting only.
func (s *cashSessionService) Summary(ctx context.Context, id uuid.UUID) (*dto.SessionSummaryResponse, error) {
	sess, err := s.sessions.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	sales, err := s.sales.ListBySession(ctx, nil, id, nil)
	if err != nil {
		return nil, err
	}
	refunds, err := s.refunds.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}

	sum := &dto.SessionSummaryResponse{
		SessionID:       id.String(),
		SalesTotal:      decimal.Zero,
		ByTender:        dto.TenderTotals{Cash: decimal.Zero, Card: decimal.Zero, Alt: decimal.Zero},
		MovementsIn:     decimal.Zero,
		MovementsOut:    decimal.Zero,
		RefundsTotal:    decimal.Zero,
		RefundsByMethod: map[string]decimal.Decimal{},
	}
	for i := range sales {
		sale := &sales[i]
		if !sale.Status.CountsTowardCash() {
			sum.VoidedCount++
			continue
		}
		sum.SalesCount++
		sum.SalesTotal = sum.SalesTotal.Add(sale.Total)
		sum.ByTender.Cash = sum.ByTender.Cash.Add(sale.CashPortion())
		sum.ByTender.Card = sum.ByTender.Card.Add(sale.CardAmount)
		sum.ByTender.Alt = sum.ByTender.Alt.Add(sale.AltAmount)
	}
	for _, m := range sess.Movements {
		switch m.Type {
		case model.MovementIn:
			sum.MovementsIn = sum.MovementsIn.Add(m.Amount)
		case model.MovementOut:
			sum.MovementsOut = sum.MovementsOut.Add(m.Amount)
		}
	}
	for _, r := range refunds {
		sum.RefundsTotal = sum.RefundsTotal.Add(r.Amount)
		key := string(r.Method)
		sum.RefundsByMethod[key] = sum.RefundsByMethod[key].Add(r.Amount)
	}
	sum.ExpectedCash = expectedCash(sess.OpeningAmount, sales, sess.Movements)
	return sum, nil
}

func (s *cashSessionService) List(ctx context.Context, q dto.PageQuery) (*dto.CashSessionListResponse, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 200 {
		q.Limit = 50
	}
	sessions, total, err := s.sessions.List(ctx, q.Page, q.Limit)
	if err != nil {
		return nil, err
	}
	resp := &dto.CashSessionListResponse{
		Data:  make([]dto.CashSessionResponse, 0, len(sessions)),
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
	}
	for i := range sessions {
		resp.Data = append(resp.Data, *sessionToResponse(&sessions[i]))
	}
	return resp, nil
}

func (s *cashSessionService) RequireOpen(ctx context.Context, tx *gorm.DB) (*model.CashSession, error) {
	open, err := s.sessions.FindOpen(ctx, tx)
	if err != nil {
		return nil, notFound(err, ErrNoOpenSession)
	}
	locked, err := s.sessions.LockByID(ctx, tx, open.ID)
	if err != nil {
		return nil, notFound(err, ErrNoOpenSession)
	}
	if !locked.IsOpen() {
		return nil, ErrNoOpenSession
	}
	return locked, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func expectedCash(opening decimal.Decimal, sales []model.Sale, movs []model.CashMovement) decimal.Decimal {
	expected := opening
	for i := range sales {
		if sales[i].Status.CountsTowardCash() {
			expected = expected.Add(sales[i].CashPortion())
		}
	}
	for _, m := range movs {
		switch m.Type {
		case model.MovementIn:
			expected = expected.Add(m.Amount)
		case model.MovementOut:
			expected = expected.Sub(m.Amount)
		}
	}
	return expected
}

// classifyDifference returns "balanced" | "over" | "short".
func classifyDifference(diff decimal.Decimal) string {
	switch diff.Sign() {
	case 0:
		return "balanced"
	case 1:
		return "over"
	default:
		return "short"
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func sessionToResponse(s *model.CashSession) *dto.CashSessionResponse {
	resp := &dto.CashSessionResponse{
		ID:            s.ID.String(),
		OperatorID:    s.OperatorID.String(),
		OperatorName:  s.OperatorName,
		OpeningAmount: s.OpeningAmount,
		OpeningNotes:  s.OpeningNotes,
		OpenedAt:      formatTime(s.OpenedAt),
		Status:        "open",
		ClosingCash:   s.ClosingCash,
		ClosingCard:   s.ClosingCard,
		ClosingAlt:    s.ClosingAlt,
		ExpectedCash:  s.ExpectedCash,
		Difference:    s.Difference,
		ClosingNotes:  s.ClosingNotes,
		ClosedAt:      formatTimePtr(s.ClosedAt),
	}
	if !s.IsOpen() {
		resp.Status = "closed"
	}
	for _, m := range s.Movements {
		resp.Movements = append(resp.Movements, movementToResponse(&m))
	}
	return resp
}

func movementToResponse(m *model.CashMovement) dto.CashMovementResponse {
	return dto.CashMovementResponse{
		ID:        m.ID.String(),
		Type:      string(m.Type),
		Amount:    m.Amount,
		Reason:    m.Reason,
		RefundID:  uuidPtrString(m.RefundID),
		CreatedAt: formatTime(m.CreatedAt),
	}
}
