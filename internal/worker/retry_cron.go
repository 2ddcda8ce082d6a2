package worker

// retry_cron.go
// Periodically hands PENDING fiscal records back to the submission path and
// reclaims SUBMITTED claims abandoned by a crashed worker. Skips whole ticks
// while the AEAT circuit breaker is open.

import (
	"context"
	"time"

	"evapos/internal/infra"

	"github.com/rs/zerolog/log"
)

const (
	defaultRetryInterval  = 30 * time.Second
	defaultRetryBatchSize = 10
)

// PendingRetrier is implemented by the fiscal service.
type PendingRetrier interface {
	RetryPending(ctx context.Context, limit int) (int, error)
}

// RetryCronConfig holds tunable parameters for the retry loop.
type RetryCronConfig struct {
	Fiscal    PendingRetrier
	CB        *infra.CircuitBreaker
	Interval  time.Duration
	BatchSize int
}

// StartRetryCron ticks until ctx is cancelled.
func StartRetryCron(ctx context.Context, cfg RetryCronConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRetryInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRetryBatchSize
	}
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", cfg.Interval).Msg("retry_cron: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_cron: shutting down")
				return
			case <-ticker.C:
				processRetries(ctx, cfg)
			}
		}
	}()
}

// processRetries runs one tick; it returns how many records were handed back.
func processRetries(ctx context.Context, cfg RetryCronConfig) int {
	if cfg.CB != nil && cfg.CB.State() == infra.CBOpen {
		log.Debug().Msg("retry_cron: circuit breaker is open, skipping tick")
		return 0
	}
	n, err := cfg.Fiscal.RetryPending(ctx, cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to process pending records")
		return n
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("retry_cron: pending fiscal records rescheduled")
	}
	return n
}
