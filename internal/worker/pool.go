package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evapos/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueFiscal = "jobs:fiscal"
	QueueEmail  = "jobs:email"

	JobFiscalSubmit = "fiscal_submit"
	JobEmail        = "email"
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one job payload. A returned error is logged and counted;
// durable retries are the job owner's business (see RetryCron).
type Handler interface {
	Process(ctx context.Context, raw json.RawMessage) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, raw json.RawMessage) error

func (f HandlerFunc) Process(ctx context.Context, raw json.RawMessage) error { return f(ctx, raw) }

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

// NewDispatcher returns a Dispatcher; a nil client yields a disabled one.
func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// Enabled is false for a nil dispatcher, which callers treat as "run inline".
func (d *Dispatcher) Enabled() bool { return d != nil && d.rdb != nil }

// EnqueueFiscalSubmission schedules the AEAT submission of a record.
func (d *Dispatcher) EnqueueFiscalSubmission(ctx context.Context, payload FiscalJobPayload) error {
	return d.enqueue(ctx, QueueFiscal, JobFiscalSubmit, payload)
}

// EnqueueEmail schedules a ticket mail.
func (d *Dispatcher) EnqueueEmail(ctx context.Context, payload EmailJobPayload) error {
	return d.enqueue(ctx, QueueEmail, JobEmail, payload)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload any) error {
	if !d.Enabled() {
		return errors.New("dispatcher: redis not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{Type: jobType, Payload: data})
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes both queues and routes jobs by type.
type Pool struct {
	rdb      *redis.Client
	handlers map[string]Handler
	metrics  *metrics.Metrics
}

// NewPool creates a pool that routes jobs to handlers by type.
func NewPool(rdb *redis.Client, handlers map[string]Handler, m *metrics.Metrics) *Pool {
	return &Pool{rdb: rdb, handlers: handlers, metrics: m}
}

// Start launches numWorkers goroutines consuming both queues.
// Each goroutine blocks on BRPOP, so idle workers cost nothing.
// Without redis there is nothing to consume and Start is a no-op.
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	if p.rdb == nil {
		log.Warn().Msg("worker pool disabled: no redis client")
		return
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		go p.run(ctx, i)
	}
	log.Info().Int("workers", numWorkers).Msg("worker pool started")
}

func (p *Pool) run(ctx context.Context, id int) {
	queues := []string{QueueFiscal, QueueEmail}
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("worker", id).Msg("worker shutting down")
			return
		default:
			// Blocking pop, waits up to 5s then loops to check ctx
			result, err := p.rdb.BRPop(ctx, 5*time.Second, queues...).Result()
			if err != nil {
				continue
			}
			if len(result) < 2 {
				continue
			}
			p.processJob(ctx, result[0], result[1])
		}
	}
}

func (p *Pool) processJob(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		p.metrics.JobProcessed("unknown", "invalid")
		return
	}
	h, ok := p.handlers[job.Type]
	if !ok {
		log.Error().Str("queue", queue).Str("type", job.Type).Msg("no handler for job type")
		SendToDLQ(ctx, p.rdb, p.metrics, queue, job.Type, job.Payload, "no handler registered", 0)
		p.metrics.JobProcessed(job.Type, "unhandled")
		return
	}

	start := time.Now()
	err := safeProcess(ctx, h, job.Payload)
	if err != nil {
		log.Error().Err(err).
			Str("queue", queue).
			Str("type", job.Type).
			Dur("elapsed", time.Since(start)).
			Msg("job failed")
		p.metrics.JobProcessed(job.Type, "error")
		return
	}
	log.Debug().Str("queue", queue).Str("type", job.Type).Dur("elapsed", time.Since(start)).Msg("job processed")
	p.metrics.JobProcessed(job.Type, "ok")
}

// safeProcess keeps a panicking handler from killing its worker goroutine.
func safeProcess(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Process(ctx, payload)
}
