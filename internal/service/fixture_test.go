package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"evapos/internal/dto"
	"evapos/internal/infra"
	"evapos/internal/model"
	"evapos/internal/repository"
	"evapos/internal/stock"
	"evapos/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var seedHash = strings.Repeat("0", 64)

// ── Submission adapter stub ──────────────────────────────────────────────────

type stubSubmitter struct {
	mu       sync.Mutex
	requests []infra.SubmissionRequest
	result   *infra.SubmissionResult
	err      error
	block    bool // wait for ctx to expire
	cert     *infra.CertificateStatus
	certErr  error
}

func (s *stubSubmitter) Submit(ctx context.Context, req infra.SubmissionRequest) (*infra.SubmissionResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	block, result, err := s.block, s.result, s.err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &infra.SubmissionResult{Accepted: true, Payload: `{"status":"accepted","csv":"ABC123"}`}, nil
	}
	return result, nil
}

func (s *stubSubmitter) ValidateCertificate(context.Context) (*infra.CertificateStatus, error) {
	if s.certErr != nil {
		return nil, s.certErr
	}
	if s.cert == nil {
		return &infra.CertificateStatus{Valid: true, Subject: "CN=EVA TIENDA"}, nil
	}
	return s.cert, nil
}

func (s *stubSubmitter) set(result *infra.SubmissionResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result, s.err = result, err
}

func (s *stubSubmitter) calls() []infra.SubmissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]infra.SubmissionRequest(nil), s.requests...)
}

// ── Test environment ─────────────────────────────────────────────────────────

type testEnv struct {
	db        *gorm.DB
	salesRepo repository.SaleRepository
	records   repository.FiscalRecordRepository

	sessions CashSessionService
	sales    *saleService
	refunds  *refundService
	fiscal   *fiscalService

	submitter *stubSubmitter
	actor     Actor
	clock     *testClock
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func defaultFiscalOptions() FiscalOptions {
	return FiscalOptions{
		Enabled:       true,
		IssuerTaxID:   "B12345678",
		IssuerName:    "Eva Tienda SL",
		InvoicePrefix: "INV",
		TaxRate:       decimal.NewFromInt(21),
		SeedHash:      seedHash,
		QRBaseURL:     "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR",
		SubmitTimeout: time.Second,
		MaxRetries:    5,
		Location:      time.UTC,
		StoreName:     "Eva Tienda",
	}
}

func newTestEnv(t *testing.T, tweak ...func(*FiscalOptions)) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)

	sessionRepo := repository.NewCashSessionRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	counterRepo := repository.NewCounterRepository(db)
	recordRepo := repository.NewFiscalRecordRepository(db)
	ledger := stock.NewLedger(repository.NewProductRepository(db))

	opts := defaultFiscalOptions()
	for _, fn := range tweak {
		fn(&opts)
	}
	clock := &testClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	sub := &stubSubmitter{}

	sessions := NewCashSessionService(sessionRepo, saleRepo, refundRepo, nil)
	fiscal := NewFiscalService(recordRepo, saleRepo, sub, nil, nil, opts).(*fiscalService)
	fiscal.now = clock.Now
	sales := NewSaleService(db, saleRepo, counterRepo, recordRepo, sessions, ledger, fiscal, nil,
		SaleOptions{NumberPrefix: "V", StoreName: "Eva Tienda"}).(*saleService)
	refunds := NewRefundService(db, refundRepo, saleRepo, counterRepo, recordRepo, sessions, sessionRepo, ledger, nil,
		RefundOptions{NumberPrefix: "D", VoucherValidityDays: 365}).(*refundService)

	return &testEnv{
		db:        db,
		salesRepo: saleRepo,
		records:   recordRepo,
		sessions:  sessions,
		sales:     sales,
		refunds:   refunds,
		fiscal:    fiscal,
		submitter: sub,
		actor:     Actor{ID: uuid.New(), Name: "Lucía"},
		clock:     clock,
	}
}

func (e *testEnv) openSession(t *testing.T, opening string) *dto.CashSessionResponse {
	t.Helper()
	sess, err := e.sessions.Open(context.Background(), e.actor, dto.OpenSessionRequest{OpeningAmount: testutil.Dec(opening)})
	require.NoError(t, err)
	return sess
}

func line(p *model.Product, qty int, price string) dto.SaleItemRequest {
	return dto.SaleItemRequest{
		ProductID: p.ID.String(),
		Name:      p.Name,
		Quantity:  qty,
		UnitPrice: testutil.Dec(price),
	}
}

func cashTender(received string) dto.TenderRequest {
	d := testutil.Dec(received)
	return dto.TenderRequest{Method: "cash", CashReceived: &d}
}

func cardTender() dto.TenderRequest {
	return dto.TenderRequest{Method: "card"}
}

func (e *testEnv) sell(t *testing.T, tender dto.TenderRequest, items ...dto.SaleItemRequest) *dto.SaleResponse {
	t.Helper()
	sale, err := e.sales.Create(context.Background(), e.actor, dto.CreateSaleRequest{Items: items, Tender: tender})
	require.NoError(t, err)
	return sale
}

// quickSale sells one unit of a fresh product for total paid by card.
func (e *testEnv) quickSale(t *testing.T, total string) *dto.SaleResponse {
	t.Helper()
	p := testutil.SeedProduct(t, e.db, "Artículo "+total, total, 10)
	return e.sell(t, cardTender(), line(p, 1, total))
}

func (e *testEnv) saleStatus(t *testing.T, id string) model.SaleStatus {
	t.Helper()
	sale, err := e.salesRepo.FindByID(context.Background(), nil, uuid.MustParse(id))
	require.NoError(t, err)
	return sale.Status
}

func (e *testEnv) record(t *testing.T, id string) *model.FiscalRecord {
	t.Helper()
	rec, err := e.records.FindByID(context.Background(), nil, uuid.MustParse(id))
	require.NoError(t, err)
	return rec
}

func (e *testEnv) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}
