package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evapos/internal/config"
	"evapos/internal/infra"
	"evapos/internal/metrics"
	"evapos/internal/middleware"
	"evapos/internal/repository"
	"evapos/internal/router"
	"evapos/internal/service"
	"evapos/internal/stock"
	"evapos/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if cfg.AutoMigrate {
		if err := infra.RunMigrations(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if rdb == nil {
		log.Warn().Msg("REDIS_URL not set: fiscal submissions run inline from the retry cron")
	}

	m := metrics.New()

	// ── Infrastructure ───────────────────────────────────────────────────────
	cbCfg := infra.DefaultCBConfig()
	cbCfg.OnStateChange = func(name string, from, to infra.CBState) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}
	breaker := infra.NewCircuitBreaker(cbCfg)
	certs := infra.NewCertificateStore(cfg.AEATCertPath, cfg.AEATCertPassword)
	aeat := infra.NewAEATClient(cfg.AEATSidecarURL, cfg.AEATTimeout(), breaker, certs)
	mailer := infra.NewMailer(cfg)
	dispatcher := worker.NewDispatcher(rdb)

	// ── Repositories ─────────────────────────────────────────────────────────
	sessionRepo := repository.NewCashSessionRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	counterRepo := repository.NewCounterRepository(db)
	recordRepo := repository.NewFiscalRecordRepository(db)
	ledger := stock.NewLedger(repository.NewProductRepository(db))

	// ── Services ─────────────────────────────────────────────────────────────
	loc := cfg.Location()
	sessions := service.NewCashSessionService(sessionRepo, saleRepo, refundRepo, m)
	fiscal := service.NewFiscalService(recordRepo, saleRepo, aeat, dispatcher, m, service.FiscalOptions{
		Enabled:        cfg.VerifactuEnabled,
		IssuerTaxID:    cfg.VerifactuIssuerTaxID,
		IssuerName:     cfg.VerifactuIssuerName,
		InvoicePrefix:  cfg.VerifactuPrefix,
		TaxRate:        cfg.TaxRate(),
		SeedHash:       cfg.VerifactuSeedHash,
		QRBaseURL:      cfg.AEATQRBaseURL,
		SubmitTimeout:  cfg.AEATTimeout(),
		MaxRetries:     cfg.FiscalMaxRetries,
		Location:       loc,
		StoreName:      cfg.StoreName,
		PDFStoragePath: cfg.PDFStoragePath,
		EmailTickets:   mailer.Enabled(),
	})
	sales := service.NewSaleService(db, saleRepo, counterRepo, recordRepo, sessions, ledger, fiscal, m, service.SaleOptions{
		NumberPrefix: cfg.SaleNumberPrefix,
		Location:     loc,
		StoreName:    cfg.StoreName,
	})
	refunds := service.NewRefundService(db, refundRepo, saleRepo, counterRepo, recordRepo, sessions, sessionRepo, ledger, m, service.RefundOptions{
		NumberPrefix:        cfg.RefundNumberPrefix,
		Location:            loc,
		VoucherValidityDays: cfg.VoucherValidityDays,
	})

	if fiscal.Enabled() {
		checkCertificate(ctx, fiscal)
	}

	// ── Background work ──────────────────────────────────────────────────────
	// The fiscal_records table is the durable queue; Redis jobs only speed it up.
	pool := worker.NewPool(rdb, map[string]worker.Handler{
		worker.JobFiscalSubmit: worker.NewFiscalWorker(fiscal, rdb, m, cfg.FiscalMaxRetries),
		worker.JobEmail:        worker.NewEmailWorker(mailer),
	}, m)
	pool.Start(ctx, cfg.WorkerPoolSize)
	if fiscal.Enabled() {
		worker.StartRetryCron(ctx, worker.RetryCronConfig{Fiscal: fiscal, CB: breaker})
	}

	limiter := middleware.NewRateLimiter(600, time.Minute)
	limiter.StartPurge(ctx, 5*time.Minute)

	r := router.New(router.Deps{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Breaker:  breaker,
		Metrics:  m,
		Limiter:  limiter,
		Sessions: sessions,
		Sales:    sales,
		Refunds:  refunds,
		Fiscal:   fiscal,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("evapos listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server exited")
}

// setupLogger: pretty console output in development, JSON in production.
func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func checkCertificate(ctx context.Context, fiscal service.FiscalService) {
	st, err := fiscal.ValidateCertificate(ctx)
	if err != nil {
		log.Error().Err(err).Msg("signing certificate unavailable, submissions will fail")
		return
	}
	for _, w := range st.Warnings {
		log.Warn().Str("subject", st.Subject).Msg(w)
	}
	if !st.Valid {
		log.Error().Strs("errors", st.Errors).Msg("signing certificate is not valid, submissions will fail")
	}
}
