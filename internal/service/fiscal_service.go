package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"evapos/internal/apierror"
	"evapos/internal/dto"
	"evapos/internal/infra"
	"evapos/internal/metrics"
	"evapos/internal/model"
	"evapos/internal/repository"
	"evapos/internal/verifactu"
	"evapos/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	verifyBatchSize = 500
	maxRetryBackoff = 30 * time.Minute
	baseRetryDelay  = 30 * time.Second
)

// Submitter signs and transmits records to AEAT. *infra.AEATClient is the
// production implementation.
type Submitter interface {
	Submit(ctx context.Context, req infra.SubmissionRequest) (*infra.SubmissionResult, error)
	ValidateCertificate(ctx context.Context) (*infra.CertificateStatus, error)
}

// FiscalService chains fiscal records and submits them to the AEAT.
type FiscalService interface {
	Enabled() bool
	CreateRecordFromSale(ctx context.Context, saleID uuid.UUID) (*dto.FiscalRecordResponse, error)
	Submit(ctx context.Context, id uuid.UUID) (*dto.FiscalRecordResponse, error)
	// SubmitRecord is Submit for the worker: it reports the retry count.
	SubmitRecord(ctx context.Context, id uuid.UUID) (int, error)
	Cancel(ctx context.Context, actor Actor, id uuid.UUID, req dto.CancelFiscalRecordRequest) (*dto.FiscalRecordResponse, error)
	CreateRectification(ctx context.Context, actor Actor, id uuid.UUID, req dto.RectificationRequest) (*dto.FiscalRecordResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.FiscalRecordResponse, error)
	GetBySale(ctx context.Context, saleID uuid.UUID) (*dto.FiscalRecordResponse, error)
	List(ctx context.Context, filter dto.FiscalRecordFilter) (*dto.FiscalRecordListResponse, error)
	Stats(ctx context.Context) (*dto.FiscalStatsResponse, error)
	VerifyChain(ctx context.Context) (*dto.ChainVerificationResponse, error)
	Resume(ctx context.Context, actor Actor, req dto.ResumeChainRequest) (*dto.ChainVerificationResponse, error)
	ValidateCertificate(ctx context.Context) (*dto.CertificateStatusResponse, error)
	RetryPending(ctx context.Context, limit int) (int, error)
}

// FiscalOptions configures issuer identity and submission limits.
type FiscalOptions struct {
	Enabled        bool
	IssuerTaxID    string
	IssuerName     string
	InvoicePrefix  string
	TaxRate        decimal.Decimal
	SeedHash       string
	QRBaseURL      string
	SubmitTimeout  time.Duration
	MaxRetries     int
	Location       *time.Location
	StoreName      string
	PDFStoragePath string
	EmailTickets   bool
}

type fiscalService struct {
	db         *gorm.DB
	records    repository.FiscalRecordRepository
	sales      repository.SaleRepository
	submitter  Submitter
	dispatcher *worker.Dispatcher
	metrics    *metrics.Metrics
	opts       FiscalOptions
	now        func() time.Time

	// appendMu serializes chain appends inside this process; LockChain does
	// the same across processes on postgres.
	appendMu sync.Mutex
}

// NewFiscalService creates a FiscalService.
func NewFiscalService(
	records repository.FiscalRecordRepository,
	sales repository.SaleRepository,
	submitter Submitter,
	dispatcher *worker.Dispatcher,
	m *metrics.Metrics,
	opts FiscalOptions,
) FiscalService {
	if opts.InvoicePrefix == "" {
		opts.InvoicePrefix = "INV"
	}
	if opts.SeedHash == "" {
		opts.SeedHash = strings.Repeat("0", 64)
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 15 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TaxRate.IsZero() {
		opts.TaxRate = decimal.NewFromInt(21)
	}
	return &fiscalService{
		db:         records.DB(),
		records:    records,
		sales:      sales,
		submitter:  submitter,
		dispatcher: dispatcher,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
	}
}

func (s *fiscalService) Enabled() bool { return s.opts.Enabled }

// ── Record creation ──────────────────────────────────────────────────────────

func (s *fiscalService) CreateRecordFromSale(ctx context.Context, saleID uuid.UUID) (*dto.FiscalRecordResponse, error) {
	if !s.Enabled() {
		return nil, ErrFiscalDisabled
	}
	sale, err := s.sales.FindByID(ctx, nil, saleID)
	if err != nil {
		return nil, notFound(err, ErrSaleNotFound)
	}
	if sale.Status == model.SaleVoided {
		return nil, validationError("No se puede registrar una venta anulada")
	}
	if _, err := s.records.FindBySaleID(ctx, nil, saleID); err == nil {
		return nil, ErrRecordAlreadyExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	base, tax := verifactu.SplitTaxInclusive(sale.Total, s.opts.TaxRate)
	rec := &model.FiscalRecord{
		InvoiceDate: s.invoiceDate(sale.CreatedAt),
		InvoiceType: model.InvoiceStandard,
		BaseAmount:  base,
		TaxRate:     s.opts.TaxRate,
		TaxAmount:   tax,
		TotalAmount: sale.Total,
		SaleID:      &sale.ID,
	}
	if sale.CustomerTaxID != nil {
		rec.RecipientTaxID = sale.CustomerTaxID
		rec.RecipientName = sale.CustomerName
	}
	if err := s.appendRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.enqueueSubmission(ctx, rec)
	return recordToResponse(rec), nil
}

// CreateRectification chains a corrective record for an ACCEPTED one.
// Without a new amount the original total is negated.
func (s *fiscalService) CreateRectification(ctx context.Context, actor Actor, id uuid.UUID, req dto.RectificationRequest) (*dto.FiscalRecordResponse, error) {
	if !s.Enabled() {
		return nil, ErrFiscalDisabled
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, validationError("El motivo de la rectificación es obligatorio")
	}
	orig, err := s.records.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrRecordNotFound)
	}
	if orig.Status != model.FiscalAccepted {
		return nil, ErrRecordNotAccepted
	}

	total := orig.TotalAmount.Neg()
	if req.NewAmount != nil {
		total = req.NewAmount.Round(2)
	}
	if total.IsZero() {
		return nil, validationError("El importe rectificado no puede ser cero")
	}
	base, tax := verifactu.SplitTaxInclusive(total, orig.TaxRate)
	origID := orig.ID
	rec := &model.FiscalRecord{
		InvoiceDate:         s.invoiceDate(s.now()),
		InvoiceType:         model.InvoiceRectification,
		RecipientTaxID:      orig.RecipientTaxID,
		RecipientName:       orig.RecipientName,
		BaseAmount:          base,
		TaxRate:             orig.TaxRate,
		TaxAmount:           tax,
		TotalAmount:         total,
		RectifiedRecordID:   &origID,
		RectificationReason: &reason,
	}
	if err := s.appendRecord(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().
		Str("invoice_number", rec.InvoiceNumber).
		Str("rectifies", orig.InvoiceNumber).
		Str("total", total.StringFixed(2)).
		Str("requested_by", actor.Name).
		Msg("fiscal rectification created")
	s.enqueueSubmission(ctx, rec)
	return recordToResponse(rec), nil
}

// chainBreak is an integrity failure detected while appending.
type chainBreak struct{ reason string }

func (b *chainBreak) Error() string { return b.reason }

// appendRecord links rec to the chain tail and persists it as PENDING.
// Issuer, numbering and hashes are filled in here.
func (s *fiscalService) appendRecord(ctx context.Context, rec *model.FiscalRecord) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	rec.IssuerTaxID = s.opts.IssuerTaxID
	rec.IssuerName = s.opts.IssuerName

	err := runTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.records.LockChain(ctx, tx); err != nil {
			return err
		}
		st, err := s.records.ChainState(ctx, tx, s.opts.IssuerTaxID)
		if err != nil {
			return err
		}
		if st.Halted {
			return ErrChainHalted
		}
		if rec.SaleID != nil {
			if _, err := s.records.FindBySaleID(ctx, tx, *rec.SaleID); err == nil {
				return ErrRecordAlreadyExists
			} else if !repository.IsNotFound(err) {
				return err
			}
		}

		prev, seq := s.opts.SeedHash, int64(1)
		tail, err := s.records.Tail(ctx, tx)
		switch {
		case err == nil:
			if !verifactu.Verify(tail.PreviousHash, tail.HashInput, tail.CurrentHash) {
				return &chainBreak{reason: fmt.Sprintf("la huella del registro %s no coincide", tail.InvoiceNumber)}
			}
			prev, seq = tail.CurrentHash, tail.Sequence+1
		case !repository.IsNotFound(err):
			return err
		}

		rec.Sequence = seq
		rec.InvoiceNumber = fmt.Sprintf("%s-%04d", s.opts.InvoicePrefix, seq)
		rec.PreviousHash = prev
		rec.GeneratedAt = s.now().UTC().Truncate(time.Second)
		rec.HashVersion = verifactu.HashVersion
		fields := fieldsOf(rec)
		rec.HashInput = verifactu.Canonicalize(fields)
		rec.CurrentHash = verifactu.ChainHash(prev, rec.HashInput)
		rec.QRPayload = verifactu.QRPayload(s.opts.QRBaseURL, fields, rec.CurrentHash)
		rec.Status = model.FiscalPending
		return s.records.Create(ctx, tx, rec)
	})

	var broken *chainBreak
	switch {
	case err == nil:
	case errors.As(err, &broken):
		s.halt(ctx, broken.reason)
		return ErrChainIntegrity.WithMessage("Integridad de la cadena fiscal comprometida: " + broken.reason)
	case repository.IsUniqueViolation(err):
		if rec.SaleID != nil {
			if _, findErr := s.records.FindBySaleID(ctx, nil, *rec.SaleID); findErr == nil {
				return ErrRecordAlreadyExists
			}
		}
		// Another writer took the same sequence or predecessor: a fork.
		s.halt(ctx, fmt.Sprintf("colisión al encadenar %s", rec.InvoiceNumber))
		return apierror.Wrap(apierror.CodeChainIntegrity, err, ErrChainIntegrity.Message())
	default:
		return err
	}

	s.metrics.FiscalRecordCreated(string(rec.InvoiceType))
	s.refreshPending(ctx)
	log.Info().
		Str("record_id", rec.ID.String()).
		Str("invoice_number", rec.InvoiceNumber).
		Int64("sequence", rec.Sequence).
		Str("total", rec.TotalAmount.StringFixed(2)).
		Msg("fiscal record chained")
	return nil
}

// enqueueSubmission hands the record to the worker pool. A failed enqueue is
// not an error: the record stays PENDING and the retry cron picks it up.
func (s *fiscalService) enqueueSubmission(ctx context.Context, rec *model.FiscalRecord) {
	if !s.dispatcher.Enabled() {
		return
	}
	err := s.dispatcher.EnqueueFiscalSubmission(ctx, worker.FiscalJobPayload{
		RecordID:      rec.ID.String(),
		InvoiceNumber: rec.InvoiceNumber,
	})
	if err != nil {
		log.Warn().Err(err).Str("invoice_number", rec.InvoiceNumber).Msg("fiscal submission enqueue failed")
	}
}

// ── Submission ───────────────────────────────────────────────────────────────

func (s *fiscalService) Submit(ctx context.Context, id uuid.UUID) (*dto.FiscalRecordResponse, error) {
	rec, err := s.submit(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordToResponse(rec), nil
}

func (s *fiscalService) SubmitRecord(ctx context.Context, id uuid.UUID) (int, error) {
	rec, err := s.submit(ctx, id)
	if rec != nil {
		return rec.RetryCount, err
	}
	return 0, err
}

// submit claims a PENDING record, calls the adapter and stores the verdict.
// On transport failure the record goes back to PENDING and the updated
// record is returned together with the error.
func (s *fiscalService) submit(ctx context.Context, id uuid.UUID) (*model.FiscalRecord, error) {
	if s.submitter == nil {
		return nil, ErrSubmissionFailed.WithMessage("No hay adaptador de envío configurado")
	}
	rec, err := s.records.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrRecordNotFound)
	}
	if rec.Status != model.FiscalPending {
		return nil, ErrRecordNotPending
	}
	submittedAt := s.now()
	claimed, err := s.records.Transition(ctx, id, model.FiscalPending, map[string]any{
		"status":       model.FiscalSubmitted,
		"submitted_at": submittedAt,
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRecordNotPending
	}

	req, err := s.submissionRequest(ctx, rec)
	if err != nil {
		s.release(ctx, rec, err)
		return rec, apierror.Wrap(apierror.CodeSubmissionFailed, err, ErrSubmissionFailed.Message())
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	result, callErr := s.submitter.Submit(callCtx, req)
	cancel()

	// The verdict must be stored even if the caller went away meanwhile.
	bg := context.WithoutCancel(ctx)
	if callErr != nil {
		s.release(bg, rec, callErr)
		return rec, apierror.Wrap(apierror.CodeSubmissionFailed, callErr, ErrSubmissionFailed.Message())
	}

	updates := map[string]any{
		"response_payload": result.Payload,
		"next_retry_at":    nil,
	}
	outcome := "accepted"
	if result.Accepted {
		updates["status"] = model.FiscalAccepted
		updates["error_code"] = nil
		updates["error_message"] = nil
	} else {
		outcome = "rejected"
		updates["status"] = model.FiscalRejected
		updates["error_code"] = result.Code
		updates["error_message"] = result.Message
	}
	ok, err := s.records.Transition(bg, id, model.FiscalSubmitted, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn().Str("invoice_number", rec.InvoiceNumber).Msg("fiscal verdict arrived after the claim was reclaimed")
	}
	s.metrics.FiscalSubmission(outcome)

	rec, err = s.records.FindByID(bg, nil, id)
	if err != nil {
		return nil, err
	}
	ev := log.Info()
	if !result.Accepted {
		ev = log.Warn().Str("code", result.Code).Str("message", result.Message)
	}
	ev.Str("invoice_number", rec.InvoiceNumber).Str("outcome", outcome).Msg("fiscal record submitted")

	if rec.Status == model.FiscalAccepted {
		s.afterAccepted(bg, rec)
	}
	s.refreshPending(bg)
	return rec, nil
}

// release puts a claimed record back to PENDING with a backoff.
func (s *fiscalService) release(ctx context.Context, rec *model.FiscalRecord, cause error) {
	retries := rec.RetryCount + 1
	next := s.now().Add(retryBackoff(retries))
	code := "TRANSPORT"
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		code = "TIMEOUT"
	case errors.Is(cause, infra.ErrCircuitOpen):
		code = "CIRCUIT_OPEN"
	}
	msg := cause.Error()
	_, err := s.records.Transition(ctx, rec.ID, model.FiscalSubmitted, map[string]any{
		"status":        model.FiscalPending,
		"retry_count":   retries,
		"next_retry_at": next,
		"error_code":    code,
		"error_message": msg,
	})
	if err != nil {
		log.Error().Err(err).Str("invoice_number", rec.InvoiceNumber).Msg("failed to release fiscal record")
	}
	rec.Status = model.FiscalPending
	rec.RetryCount = retries
	rec.NextRetryAt = &next
	rec.ErrorCode = &code
	rec.ErrorMessage = &msg

	s.metrics.FiscalSubmission("error")
	log.Warn().Err(cause).
		Str("invoice_number", rec.InvoiceNumber).
		Int("retry_count", retries).
		Time("next_retry_at", next).
		Msg("fiscal submission failed, record back to pending")
}

func (s *fiscalService) submissionRequest(ctx context.Context, rec *model.FiscalRecord) (infra.SubmissionRequest, error) {
	req := infra.SubmissionRequest{
		IdempotencyKey: rec.InvoiceNumber,
		IssuerTaxID:    rec.IssuerTaxID,
		IssuerName:     rec.IssuerName,
		InvoiceNumber:  rec.InvoiceNumber,
		InvoiceDate:    verifactu.FormatDate(rec.InvoiceDate.UTC()),
		InvoiceType:    typeCodeOf(rec),
		RecipientTaxID: rec.RecipientTaxID,
		RecipientName:  rec.RecipientName,
		BaseAmount:     verifactu.Amount(rec.BaseAmount),
		TaxRate:        verifactu.Amount(rec.TaxRate),
		TaxAmount:      verifactu.Amount(rec.TaxAmount),
		TotalAmount:    verifactu.Amount(rec.TotalAmount),
		PreviousHash:   rec.PreviousHash,
		CurrentHash:    rec.CurrentHash,
		HashInput:      rec.HashInput,
		HashVersion:    rec.HashVersion,
		GeneratedAt:    rec.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if rec.RectifiedRecordID != nil {
		orig, err := s.records.FindByID(ctx, nil, *rec.RectifiedRecordID)
		if err != nil {
			return req, fmt.Errorf("load rectified record: %w", err)
		}
		req.RectifiedInvoiceNumber = &orig.InvoiceNumber
		req.RectificationReason = rec.RectificationReason
	}
	return req, nil
}

// afterAccepted stores the fiscal ticket and mails it when the customer left an email.
func (s *fiscalService) afterAccepted(ctx context.Context, rec *model.FiscalRecord) {
	if rec.SaleID == nil || !s.opts.EmailTickets || !s.dispatcher.Enabled() {
		return
	}
	sale, err := s.sales.FindByID(ctx, nil, *rec.SaleID)
	if err != nil || sale.CustomerEmail == nil {
		return
	}
	path, err := infra.SaveTicketPDF(buildTicket(s.opts.StoreName, sale, rec), s.opts.PDFStoragePath)
	if err != nil {
		log.Warn().Err(err).Str("sale", sale.Number).Msg("ticket PDF generation failed")
		return
	}
	err = s.dispatcher.EnqueueEmail(ctx, worker.EmailJobPayload{
		ToEmail: *sale.CustomerEmail,
		Subject: fmt.Sprintf("%s: factura %s", s.opts.StoreName, rec.InvoiceNumber),
		Body:    fmt.Sprintf("Adjuntamos su factura simplificada %s.\nTotal: %s EUR", rec.InvoiceNumber, rec.TotalAmount.StringFixed(2)),
		PDFPath: path,
	})
	if err != nil {
		log.Warn().Err(err).Str("sale", sale.Number).Msg("ticket email enqueue failed")
	}
}

// RetryPending reclaims stale claims and hands due PENDING records back to
// the submission path: through the queue when redis is available, inline
// otherwise. It returns how many records were handed back.
func (s *fiscalService) RetryPending(ctx context.Context, limit int) (int, error) {
	now := s.now()
	lease := 2 * s.opts.SubmitTimeout

	reclaimed, err := s.records.ReclaimStale(ctx, now.Add(-lease))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		log.Warn().Int64("count", reclaimed).Msg("stale fiscal submissions reclaimed")
	}

	due, err := s.records.DueForRetry(ctx, now, s.opts.MaxRetries, limit)
	if err != nil {
		return 0, err
	}
	handed := 0
	for i := range due {
		rec := &due[i]
		if s.dispatcher.Enabled() {
			// Lease the record so the next tick does not enqueue it twice.
			ok, err := s.records.Transition(ctx, rec.ID, model.FiscalPending, map[string]any{"next_retry_at": now.Add(lease)})
			if err != nil {
				return handed, err
			}
			if !ok {
				continue
			}
			s.enqueueSubmission(ctx, rec)
			handed++
			continue
		}
		if _, err := s.submit(ctx, rec.ID); err != nil &&
			!isCode(err, apierror.CodeSubmissionFailed) && !isCode(err, apierror.CodeRecordNotPending) {
			log.Error().Err(err).Str("invoice_number", rec.InvoiceNumber).Msg("fiscal retry failed")
		}
		handed++
	}
	s.refreshPending(ctx)
	return handed, nil
}

// ── State changes ────────────────────────────────────────────────────────────

func (s *fiscalService) Cancel(ctx context.Context, actor Actor, id uuid.UUID, req dto.CancelFiscalRecordRequest) (*dto.FiscalRecordResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, validationError("El motivo de anulación es obligatorio")
	}
	rec, err := s.records.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrRecordNotFound)
	}
	if rec.Status != model.FiscalAccepted {
		return nil, ErrRecordNotAccepted
	}
	ok, err := s.records.Transition(ctx, id, model.FiscalAccepted, map[string]any{
		"status":        model.FiscalCancelled,
		"cancel_reason": reason,
		"cancelled_at":  s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotAccepted
	}
	log.Info().
		Str("invoice_number", rec.InvoiceNumber).
		Str("cancelled_by", actor.Name).
		Msg("fiscal record cancelled")
	return s.Get(ctx, id)
}

// ── Integrity ────────────────────────────────────────────────────────────────

// VerifyChain recomputes every link. A break halts the chain.
func (s *fiscalService) VerifyChain(ctx context.Context) (*dto.ChainVerificationResponse, error) {
	res, err := s.verify(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		s.halt(ctx, fmt.Sprintf("verificación: %s en %s", *res.Reason, *res.BrokenAt))
		res.Halted = true
		return res, nil
	}
	st, err := s.records.ChainState(ctx, nil, s.opts.IssuerTaxID)
	if err != nil {
		return nil, err
	}
	res.Halted = st.Halted
	return res, nil
}

var errStopWalk = errors.New("stop walk")

func (s *fiscalService) verify(ctx context.Context) (*dto.ChainVerificationResponse, error) {
	res := &dto.ChainVerificationResponse{Valid: true, TailHash: s.opts.SeedHash}
	prev, want := s.opts.SeedHash, int64(1)
	fail := func(rec *model.FiscalRecord, reason string) error {
		number := rec.InvoiceNumber
		res.Valid = false
		res.BrokenAt = &number
		res.Reason = &reason
		return errStopWalk
	}

	err := s.records.Walk(ctx, verifyBatchSize, func(batch []model.FiscalRecord) error {
		for i := range batch {
			rec := &batch[i]
			switch {
			case rec.Sequence != want:
				return fail(rec, fmt.Sprintf("secuencia %d, se esperaba %d", rec.Sequence, want))
			case rec.PreviousHash != prev:
				return fail(rec, "la huella anterior no enlaza con el registro previo")
			case rec.HashVersion != verifactu.HashVersion:
				return fail(rec, "versión de huella desconocida: "+rec.HashVersion)
			case verifactu.Canonicalize(fieldsOf(rec)) != rec.HashInput:
				return fail(rec, "los campos del registro no coinciden con la entrada de la huella")
			case !verifactu.Verify(rec.PreviousHash, rec.HashInput, rec.CurrentHash):
				return fail(rec, "la huella no coincide")
			}
			prev = rec.CurrentHash
			want++
			res.Checked++
			res.TailHash = rec.CurrentHash
			number := rec.InvoiceNumber
			res.TailInvoiceNo = &number
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return res, nil
}

// Resume clears the halt after manual reconciliation. The chain must verify.
func (s *fiscalService) Resume(ctx context.Context, actor Actor, req dto.ResumeChainRequest) (*dto.ChainVerificationResponse, error) {
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return nil, validationError("La nota de conciliación es obligatoria")
	}
	res, err := s.verify(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, ErrChainIntegrity.WithMessage(fmt.Sprintf("La cadena sigue rota en %s: %s", *res.BrokenAt, *res.Reason))
	}

	st, err := s.records.ChainState(ctx, nil, s.opts.IssuerTaxID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	resumeNote := note + " (" + actor.Name + ")"
	st.Halted = false
	st.ResumedAt = &now
	st.ResumeNote = &resumeNote
	st.UpdatedAt = now
	if err := s.records.SaveChainState(ctx, nil, st); err != nil {
		return nil, err
	}
	log.Warn().
		Str("resumed_by", actor.Name).
		Str("note", note).
		Int("checked", res.Checked).
		Msg("fiscal chain resumed")
	res.Halted = false
	return res, nil
}

// halt persists the integrity stop. Chain writes fail with CHAIN_HALTED until Resume.
func (s *fiscalService) halt(ctx context.Context, reason string) {
	bg := context.WithoutCancel(ctx)
	st, err := s.records.ChainState(bg, nil, s.opts.IssuerTaxID)
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("fiscal chain halt: state read failed")
		st = &model.FiscalChainState{IssuerTaxID: s.opts.IssuerTaxID}
	}
	if st.Halted {
		return
	}
	now := s.now()
	st.Halted = true
	st.HaltReason = &reason
	st.HaltedAt = &now
	st.UpdatedAt = now
	if err := s.records.SaveChainState(bg, nil, st); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("fiscal chain halt: state write failed")
	}
	s.metrics.ChainHalted()
	log.Error().Str("issuer", s.opts.IssuerTaxID).Str("reason", reason).Msg("fiscal chain halted")
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *fiscalService) Get(ctx context.Context, id uuid.UUID) (*dto.FiscalRecordResponse, error) {
	rec, err := s.records.FindByID(ctx, nil, id)
	if err != nil {
		return nil, notFound(err, ErrRecordNotFound)
	}
	return recordToResponse(rec), nil
}

func (s *fiscalService) GetBySale(ctx context.Context, saleID uuid.UUID) (*dto.FiscalRecordResponse, error) {
	rec, err := s.records.FindBySaleID(ctx, nil, saleID)
	if err != nil {
		return nil, notFound(err, ErrRecordNotFound)
	}
	return recordToResponse(rec), nil
}

func (s *fiscalService) List(ctx context.Context, filter dto.FiscalRecordFilter) (*dto.FiscalRecordListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Status != "" && !model.FiscalStatus(filter.Status).IsValid() {
		return nil, validationError("Estado fiscal inválido")
	}
	if filter.InvoiceType != "" && !model.InvoiceType(filter.InvoiceType).IsValid() {
		return nil, validationError("Tipo de factura inválido")
	}
	for _, d := range []string{filter.From, filter.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, validationError("Fecha inválida, use YYYY-MM-DD")
		}
	}

	recs, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	resp := &dto.FiscalRecordListResponse{
		Data:  make([]dto.FiscalRecordResponse, 0, len(recs)),
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
	}
	for i := range recs {
		resp.Data = append(resp.Data, *recordToResponse(&recs[i]))
	}
	return resp, nil
}

func (s *fiscalService) Stats(ctx context.Context) (*dto.FiscalStatsResponse, error) {
	counts, err := s.records.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.records.ChainState(ctx, nil, s.opts.IssuerTaxID)
	if err != nil {
		return nil, err
	}
	resp := &dto.FiscalStatsResponse{ByStatus: make(map[string]int64, len(counts)), Halted: st.Halted}
	for status, n := range counts {
		resp.ByStatus[string(status)] = n
		resp.Total += n
	}
	s.metrics.SetFiscalPending(counts[model.FiscalPending])
	return resp, nil
}

func (s *fiscalService) ValidateCertificate(ctx context.Context) (*dto.CertificateStatusResponse, error) {
	if s.submitter == nil {
		return nil, ErrCertificateInvalid.WithMessage("No hay adaptador de envío configurado")
	}
	st, err := s.submitter.ValidateCertificate(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeCertificateInvalid, err, ErrCertificateInvalid.Message())
	}
	resp := &dto.CertificateStatusResponse{
		Valid:     st.Valid,
		Subject:   st.Subject,
		Serial:    st.Serial,
		NotBefore: formatTimePtr(st.NotBefore),
		NotAfter:  formatTimePtr(st.NotAfter),
		Errors:    append([]string{}, st.Errors...),
		Warnings:  append([]string{}, st.Warnings...),
	}
	return resp, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *fiscalService) refreshPending(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.records.CountByStatus(ctx)
	if err != nil {
		return
	}
	s.metrics.SetFiscalPending(counts[model.FiscalPending])
}

// invoiceDate is the local calendar day of t, stored as UTC midnight so the
// hashed DD-MM-YYYY never shifts with the database timezone.
func (s *fiscalService) invoiceDate(t time.Time) time.Time {
	y, m, d := t.In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func typeCodeOf(rec *model.FiscalRecord) string {
	return verifactu.TypeCode(rec.InvoiceType == model.InvoiceRectification, rec.RecipientTaxID != nil)
}

func fieldsOf(rec *model.FiscalRecord) verifactu.Fields {
	return verifactu.Fields{
		IssuerTaxID:   rec.IssuerTaxID,
		InvoiceNumber: rec.InvoiceNumber,
		InvoiceDate:   rec.InvoiceDate.UTC(),
		TypeCode:      typeCodeOf(rec),
		Base:          rec.BaseAmount,
		TaxRate:       rec.TaxRate,
		Tax:           rec.TaxAmount,
		Total:         rec.TotalAmount,
		GeneratedAt:   rec.GeneratedAt,
	}
}

// retryBackoff doubles from 30s per attempt, capped at 30 minutes.
func retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseRetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

func recordToResponse(rec *model.FiscalRecord) *dto.FiscalRecordResponse {
	return &dto.FiscalRecordResponse{
		ID:                  rec.ID.String(),
		Sequence:            rec.Sequence,
		InvoiceNumber:       rec.InvoiceNumber,
		InvoiceDate:         rec.InvoiceDate.UTC().Format("2006-01-02"),
		InvoiceType:         string(rec.InvoiceType),
		IssuerTaxID:         rec.IssuerTaxID,
		IssuerName:          rec.IssuerName,
		RecipientTaxID:      rec.RecipientTaxID,
		RecipientName:       rec.RecipientName,
		BaseAmount:          rec.BaseAmount,
		TaxRate:             rec.TaxRate,
		TaxAmount:           rec.TaxAmount,
		TotalAmount:         rec.TotalAmount,
		PreviousHash:        rec.PreviousHash,
		CurrentHash:         rec.CurrentHash,
		HashInput:           rec.HashInput,
		HashVersion:         rec.HashVersion,
		QRPayload:           rec.QRPayload,
		Status:              string(rec.Status),
		ResponsePayload:     rec.ResponsePayload,
		ErrorCode:           rec.ErrorCode,
		ErrorMessage:        rec.ErrorMessage,
		SubmittedAt:         formatTimePtr(rec.SubmittedAt),
		RetryCount:          rec.RetryCount,
		CancelReason:        rec.CancelReason,
		SaleID:              uuidPtrString(rec.SaleID),
		RectifiedRecordID:   uuidPtrString(rec.RectifiedRecordID),
		RectificationReason: rec.RectificationReason,
		CreatedAt:           formatTime(rec.CreatedAt),
		UpdatedAt:           formatTime(rec.UpdatedAt),
	}
}
