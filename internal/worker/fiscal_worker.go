package worker

// fiscal_worker.go
// Consumes QueueFiscal. The fiscal_records row is the durable task: a job only
// names the record, and losing a job merely delays the submission until the
// retry cron finds the record still PENDING.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evapos/internal/apierror"
	"evapos/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// FiscalJobPayload is the job envelope sent to QueueFiscal.
type FiscalJobPayload struct {
	RecordID      string `json:"record_id"`
	InvoiceNumber string `json:"invoice_number"`
}

// RecordSubmitter is implemented by the fiscal service. attempts is the
// record's retry count after the call.
type RecordSubmitter interface {
	SubmitRecord(ctx context.Context, id uuid.UUID) (attempts int, err error)
}

// FiscalWorker submits queued fiscal records to the tax agency.
type FiscalWorker struct {
	submitter  RecordSubmitter
	rdb        *redis.Client
	metrics    *metrics.Metrics
	maxRetries int
	attempts   int
	backoff    time.Duration
}

// NewFiscalWorker creates a FiscalWorker.
func NewFiscalWorker(submitter RecordSubmitter, rdb *redis.Client, m *metrics.Metrics, maxRetries int) *FiscalWorker {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &FiscalWorker{
		submitter:  submitter,
		rdb:        rdb,
		metrics:    m,
		maxRetries: maxRetries,
		attempts:   2,
		backoff:    time.Second,
	}
}

// Process submits the record named by the job. A record that is no longer
// PENDING was handled by someone else and counts as done.
func (w *FiscalWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload FiscalJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("fiscal_worker: invalid payload: %w", err)
	}
	id, err := uuid.Parse(payload.RecordID)
	if err != nil {
		return fmt.Errorf("fiscal_worker: invalid record_id %q", payload.RecordID)
	}

	var attempts int
	err = withRetry(ctx, w.attempts, w.backoff, func(attempt int) error {
		var err error
		attempts, err = w.submitter.SubmitRecord(ctx, id)
		if err != nil && apierror.CodeOf(err) == apierror.CodeSubmissionFailed && attempts < w.maxRetries {
			log.Warn().Err(err).
				Int("attempt", attempt+1).
				Str("invoice_number", payload.InvoiceNumber).
				Msg("fiscal_worker: submission failed, retrying")
			return err
		}
		if err != nil {
			return permanent{err}
		}
		return nil
	})

	var perm permanent
	if errors.As(err, &perm) {
		err = perm.err
	}
	switch {
	case err == nil:
		return nil
	case apierror.CodeOf(err) == apierror.CodeRecordNotPending:
		log.Debug().Str("invoice_number", payload.InvoiceNumber).Msg("fiscal_worker: record already handled")
		return nil
	case apierror.CodeOf(err) == apierror.CodeSubmissionFailed && attempts >= w.maxRetries:
		SendToDLQ(ctx, w.rdb, w.metrics, QueueFiscal, JobFiscalSubmit, raw,
			fmt.Sprintf("max retries (%d) exceeded: %v", w.maxRetries, err), attempts)
		return err
	default:
		return err
	}
}

// permanent stops withRetry early.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }

// withRetry calls fn up to maxAttempts times with exponential backoff
// (immediate, base, 2×base, ...). A permanent error ends the loop.
func withRetry(ctx context.Context, maxAttempts int, base time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			wait := base * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err := fn(i)
		if err == nil {
			return nil
		}
		lastErr = err
		var perm permanent
		if errors.As(err, &perm) {
			return err
		}
	}
	return lastErr
}
