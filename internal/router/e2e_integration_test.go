//go:build integration

package router

// End-to-end tests against real Postgres + Redis via testcontainers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evapos/internal/config"
	"evapos/internal/infra"
	"evapos/internal/metrics"
	"evapos/internal/middleware"
	"evapos/internal/model"
	"evapos/internal/repository"
	"evapos/internal/service"
	"evapos/internal/stock"
	"evapos/internal/testutil"
	"evapos/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"gorm.io/gorm"
)

type integrationEnv struct {
	*api
	rdb       *redis.Client
	submitted atomic.Int32
}

func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pgC, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("evapos_test"),
		tcPostgres.WithUsername("evapos"),
		tcPostgres.WithPassword("evapos"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(context.Background()) })

	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := infra.NewDatabase(pgURL)
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(ctx, db))

	rdb, err := infra.NewRedis(rdURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	env := &integrationEnv{rdb: rdb}

	aeatSidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		env.submitted.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted","code":"","message":"Correcto"}`))
	}))
	t.Cleanup(aeatSidecar.Close)

	gin.SetMode(gin.TestMode)
	m := metrics.New()
	breaker := infra.NewCircuitBreaker(infra.DefaultCBConfig())
	aeat := infra.NewAEATClient(aeatSidecar.URL, 5*time.Second, breaker, nil)
	dispatcher := worker.NewDispatcher(rdb)

	sessionRepo := repository.NewCashSessionRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	counterRepo := repository.NewCounterRepository(db)
	recordRepo := repository.NewFiscalRecordRepository(db)
	ledger := stock.NewLedger(repository.NewProductRepository(db))

	sessions := service.NewCashSessionService(sessionRepo, saleRepo, refundRepo, m)
	fiscal := service.NewFiscalService(recordRepo, saleRepo, aeat, dispatcher, m, service.FiscalOptions{
		Enabled:       true,
		IssuerTaxID:   "B12345678",
		IssuerName:    "Eva Tienda SL",
		QRBaseURL:     "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR",
		SubmitTimeout: 5 * time.Second,
		MaxRetries:    5,
	})
	sales := service.NewSaleService(db, saleRepo, counterRepo, recordRepo, sessions, ledger, fiscal, m,
		service.SaleOptions{StoreName: "Eva Tienda"})
	refunds := service.NewRefundService(db, refundRepo, saleRepo, counterRepo, recordRepo, sessions, sessionRepo, ledger, m,
		service.RefundOptions{})

	worker.NewPool(rdb, map[string]worker.Handler{
		worker.JobFiscalSubmit: worker.NewFiscalWorker(fiscal, rdb, m, 5),
	}, m).Start(ctx, 2)

	engine := New(Deps{
		Config:   &config.Config{Env: "test", JWTSecret: testSecret},
		DB:       db,
		Redis:    rdb,
		Breaker:  breaker,
		Metrics:  m,
		Sessions: sessions,
		Sales:    sales,
		Refunds:  refunds,
		Fiscal:   fiscal,
	})
	env.api = &api{t: t, engine: engine, db: db}
	return env
}

func saleBody(p *model.Product, qty int) jsonMap {
	return jsonMap{
		"items": []jsonMap{{
			"product_id": p.ID.String(), "name": p.Name, "quantity": qty, "unit_price": p.Price.StringFixed(2),
		}},
		"tender": jsonMap{"method": "card"},
	}
}

func TestIntegration_SaleIsSubmittedThroughTheQueue(t *testing.T) {
	env := setupIntegration(t)
	p := testutil.SeedProduct(t, env.db, "Camiseta técnica", "24.90", 10)

	w := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", decode[jsonMap](t, w)["redis"])

	w = env.do(http.MethodPost, "/v1/cash-sessions", middleware.RoleCashier, jsonMap{"opening_amount": "100.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/v1/sales", middleware.RoleCashier, saleBody(p, 2))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	recordID := decode[jsonMap](t, w)["fiscal"].(jsonMap)["record_id"].(string)

	require.Eventually(t, func() bool {
		w := env.do(http.MethodGet, "/v1/fiscal-records/"+recordID, middleware.RoleSupervisor, nil)
		return w.Code == http.StatusOK && decode[jsonMap](t, w)["status"] == "ACCEPTED"
	}, 15*time.Second, 100*time.Millisecond)
	assert.EqualValues(t, 1, env.submitted.Load())
	assert.Equal(t, 8, testutil.StockOf(t, env.db, p.ID))

	w = env.do(http.MethodGet, "/v1/fiscal-records/verify", middleware.RoleSupervisor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[jsonMap](t, w)["valid"])
}

func TestIntegration_ConcurrentSalesFormOneChain(t *testing.T) {
	env := setupIntegration(t)
	p := testutil.SeedProduct(t, env.db, "Calcetines", "5.00", 100)

	w := env.do(http.MethodPost, "/v1/cash-sessions", middleware.RoleCashier, jsonMap{"opening_amount": "0.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	const n = 12
	raw, err := json.Marshal(saleBody(p, 1))
	require.NoError(t, err)
	bearer := "Bearer " + token(t, middleware.RoleCashier)

	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/sales", bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", bearer)
			rec := httptest.NewRecorder()
			env.engine.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()
	for i, code := range codes {
		assert.Equal(t, http.StatusCreated, code, "sale %d", i)
	}

	var seqs []int64
	require.NoError(t, env.db.Model(&model.FiscalRecord{}).Order("sequence").Pluck("sequence", &seqs).Error)
	require.Len(t, seqs, n)
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}

	var numbers []string
	require.NoError(t, env.db.Model(&model.Sale{}).Distinct().Pluck("number", &numbers).Error)
	assert.Len(t, numbers, n)
	assert.Equal(t, 100-n, testutil.StockOf(t, env.db, p.ID))

	w = env.do(http.MethodGet, "/v1/fiscal-records/verify", middleware.RoleSupervisor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	verify := decode[jsonMap](t, w)
	assert.Equal(t, true, verify["valid"], verify)
	assert.Equal(t, float64(n), verify["checked"])
}

func TestIntegration_ChainedFieldsAreImmutable(t *testing.T) {
	env := setupIntegration(t)
	p := testutil.SeedProduct(t, env.db, "Gorra", "12.00", 3)

	w := env.do(http.MethodPost, "/v1/cash-sessions", middleware.RoleCashier, jsonMap{"opening_amount": "0.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = env.do(http.MethodPost, "/v1/sales", middleware.RoleCashier, saleBody(p, 1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	recordID := decode[jsonMap](t, w)["fiscal"].(jsonMap)["record_id"].(string)

	edits := map[string]string{
		"total_amount":     "total_amount = total_amount + 1",
		"invoice_date":     "invoice_date = invoice_date + INTERVAL '1 day'",
		"invoice_type":     "invoice_type = 'rectification'",
		"issuer_tax_id":    "issuer_tax_id = 'B87654321'",
		"recipient_tax_id": "recipient_tax_id = '12345678Z'",
		"tax_rate":         "tax_rate = 10",
		"generated_at":     "generated_at = generated_at - INTERVAL '1 hour'",
	}
	for column, set := range edits {
		err := env.db.Exec("UPDATE fiscal_records SET "+set+" WHERE id = ?", recordID).Error
		require.Error(t, err, column)
		assert.Contains(t, err.Error(), "immutable", column)
	}

	err := env.db.Exec("DELETE FROM fiscal_records WHERE id = ?", recordID).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be deleted")

	// status bookkeeping stays writable
	require.NoError(t, env.db.Exec("UPDATE fiscal_records SET retry_count = retry_count WHERE id = ?", recordID).Error)
}

func TestIntegration_UnknownJobLandsInDLQ(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()

	raw, err := json.Marshal(worker.Job{Type: "mystery", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, env.rdb.LPush(ctx, worker.QueueFiscal, raw).Err())

	require.Eventually(t, func() bool {
		n, err := worker.DLQLength(ctx, env.rdb, worker.QueueFiscal)
		return err == nil && n == 1
	}, 10*time.Second, 100*time.Millisecond)
}

func TestIntegration_MigrationsMatchModels(t *testing.T) {
	env := setupIntegration(t)
	mig := env.db.Migrator()

	for _, m := range model.All() {
		stmt := &gorm.Statement{DB: env.db}
		require.NoError(t, stmt.Parse(m))
		table := stmt.Schema.Table
		require.True(t, mig.HasTable(m), "missing table %s", table)
		for _, f := range stmt.Schema.Fields {
			if f.DBName == "" {
				continue
			}
			assert.True(t, mig.HasColumn(m, f.DBName), "missing column %s.%s", table, f.DBName)
		}
	}
}
