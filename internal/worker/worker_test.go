package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"evapos/internal/apierror"
	"evapos/internal/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// ── Stubs ────────────────────────────────────────────────────────────────────

type stubRecordSubmitter struct {
	mu    sync.Mutex
	calls int
	// results are consumed in order; the last one repeats.
	results []submitResult
}

type submitResult struct {
	attempts int
	err      error
}

func (s *stubRecordSubmitter) SubmitRecord(_ context.Context, _ uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].attempts, s.results[i].err
}

func (s *stubRecordSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRetrier struct {
	calls int
	limit int
	n     int
	err   error
}

func (s *stubRetrier) RetryPending(_ context.Context, limit int) (int, error) {
	s.calls++
	s.limit = limit
	return s.n, s.err
}

type stubMailer struct {
	sent []EmailJobPayload
	err  error
}

func (m *stubMailer) SendTicket(to, subject, body, pdfPath string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, EmailJobPayload{ToEmail: to, Subject: subject, Body: body, PDFPath: pdfPath})
	return nil
}

func fiscalJob(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(FiscalJobPayload{RecordID: uuid.NewString(), InvoiceNumber: "INV-0001"})
	require.NoError(t, err)
	return raw
}

func failed() error {
	return apierror.Wrap(apierror.CodeSubmissionFailed, errors.New("dial tcp: connection refused"), "fallo de envío")
}

// ── Dispatcher & pool ────────────────────────────────────────────────────────

func TestDispatcher_NilIsDisabled(t *testing.T) {
	var d *Dispatcher
	assert.False(t, d.Enabled())
	assert.False(t, NewDispatcher(nil).Enabled())
	assert.Error(t, NewDispatcher(nil).EnqueueEmail(context.Background(), EmailJobPayload{ToEmail: "a@b.es"}))
}

func TestDispatcher_EnqueuesEnvelope(t *testing.T) {
	rdb := newRedis(t)
	d := NewDispatcher(rdb)
	ctx := context.Background()

	require.NoError(t, d.EnqueueFiscalSubmission(ctx, FiscalJobPayload{RecordID: "r1", InvoiceNumber: "INV-0007"}))

	raw, err := rdb.RPop(ctx, QueueFiscal).Result()
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, JobFiscalSubmit, job.Type)

	var payload FiscalJobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "INV-0007", payload.InvoiceNumber)
}

func TestPool_RoutesJobsByType(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	handlers := map[string]Handler{
		JobEmail: HandlerFunc(func(_ context.Context, raw json.RawMessage) error {
			var p EmailJobPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			got <- p.ToEmail
			return nil
		}),
	}
	NewPool(rdb, handlers, nil).Start(ctx, 2)

	require.NoError(t, NewDispatcher(rdb).EnqueueEmail(ctx, EmailJobPayload{ToEmail: "cliente@example.es"}))

	select {
	case to := <-got:
		assert.Equal(t, "cliente@example.es", to)
	case <-time.After(3 * time.Second):
		t.Fatal("job was not processed")
	}
}

func TestPool_StartWithoutRedisIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(nil, map[string]Handler{JobFiscalSubmit: NewFiscalWorker(&stubRecordSubmitter{results: []submitResult{{}}}, nil, nil, 5)}, nil)
	assert.NotPanics(t, func() { p.Start(ctx, 2) })
	// give a wrongly started worker the chance to hit the nil client
	time.Sleep(20 * time.Millisecond)
}

func TestPool_UnknownTypeGoesToDLQ(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	p := NewPool(rdb, map[string]Handler{}, nil)

	encoded, err := json.Marshal(Job{Type: "mystery", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	p.processJob(ctx, QueueEmail, string(encoded))

	n, err := DLQLength(ctx, rdb, QueueEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := DLQPeek(ctx, rdb, QueueEmail, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mystery", entries[0].JobType)
	assert.Equal(t, "no handler registered", entries[0].Reason)
}

func TestPool_PanickingHandlerIsContained(t *testing.T) {
	rdb := newRedis(t)
	p := NewPool(rdb, map[string]Handler{
		JobEmail: HandlerFunc(func(context.Context, json.RawMessage) error { panic("boom") }),
	}, nil)

	encoded, err := json.Marshal(Job{Type: JobEmail, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.NotPanics(t, func() { p.processJob(context.Background(), QueueEmail, string(encoded)) })
}

func TestSendToDLQ_NilClientDrops(t *testing.T) {
	assert.NotPanics(t, func() {
		SendToDLQ(context.Background(), nil, nil, QueueFiscal, JobFiscalSubmit, nil, "x", 1)
	})
}

// ── Fiscal worker ────────────────────────────────────────────────────────────

func newFiscalWorker(sub RecordSubmitter, rdb *redis.Client, maxRetries int) *FiscalWorker {
	w := NewFiscalWorker(sub, rdb, nil, maxRetries)
	w.backoff = time.Millisecond
	return w
}

func TestFiscalWorker_Accepted(t *testing.T) {
	sub := &stubRecordSubmitter{results: []submitResult{{attempts: 0}}}
	w := newFiscalWorker(sub, newRedis(t), 5)

	require.NoError(t, w.Process(context.Background(), fiscalJob(t)))
	assert.Equal(t, 1, sub.count())
}

func TestFiscalWorker_RetriesTransientFailure(t *testing.T) {
	sub := &stubRecordSubmitter{results: []submitResult{{attempts: 1, err: failed()}, {attempts: 1}}}
	w := newFiscalWorker(sub, newRedis(t), 5)

	require.NoError(t, w.Process(context.Background(), fiscalJob(t)))
	assert.Equal(t, 2, sub.count())
}

func TestFiscalWorker_NotPendingCountsAsDone(t *testing.T) {
	notPending := apierror.NewError(apierror.CodeRecordNotPending, "el registro ya no está pendiente")
	sub := &stubRecordSubmitter{results: []submitResult{{err: notPending}}}
	w := newFiscalWorker(sub, newRedis(t), 5)

	require.NoError(t, w.Process(context.Background(), fiscalJob(t)))
	assert.Equal(t, 1, sub.count())
}

func TestFiscalWorker_MaxRetriesGoesToDLQ(t *testing.T) {
	rdb := newRedis(t)
	sub := &stubRecordSubmitter{results: []submitResult{{attempts: 5, err: failed()}}}
	w := newFiscalWorker(sub, rdb, 5)

	err := w.Process(context.Background(), fiscalJob(t))
	require.Error(t, err)
	assert.Equal(t, apierror.CodeSubmissionFailed, apierror.CodeOf(err))
	// no in-process retry once the record's budget is spent
	assert.Equal(t, 1, sub.count())

	entries, err := DLQPeek(context.Background(), rdb, QueueFiscal, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Attempts)
	assert.Contains(t, entries[0].Reason, "max retries (5)")
}

func TestFiscalWorker_FailureBelowBudgetStaysOutOfDLQ(t *testing.T) {
	rdb := newRedis(t)
	sub := &stubRecordSubmitter{results: []submitResult{{attempts: 1, err: failed()}, {attempts: 2, err: failed()}}}
	w := newFiscalWorker(sub, rdb, 5)

	require.Error(t, w.Process(context.Background(), fiscalJob(t)))
	assert.Equal(t, 2, sub.count())

	n, err := DLQLength(context.Background(), rdb, QueueFiscal)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFiscalWorker_InvalidPayload(t *testing.T) {
	w := newFiscalWorker(&stubRecordSubmitter{results: []submitResult{{}}}, newRedis(t), 5)
	assert.Error(t, w.Process(context.Background(), json.RawMessage(`{"record_id":"nope"}`)))
	assert.Error(t, w.Process(context.Background(), json.RawMessage(`not json`)))
}

// ── Retry cron ───────────────────────────────────────────────────────────────

func TestProcessRetries_SkipsWhileBreakerOpen(t *testing.T) {
	cb := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
	_ = cb.Execute(func() error { return errors.New("down") })
	require.Equal(t, infra.CBOpen, cb.State())

	r := &stubRetrier{n: 3}
	assert.Zero(t, processRetries(context.Background(), RetryCronConfig{Fiscal: r, CB: cb, BatchSize: 10}))
	assert.Zero(t, r.calls)
}

func TestProcessRetries_HandsBackPending(t *testing.T) {
	r := &stubRetrier{n: 3}
	cfg := RetryCronConfig{Fiscal: r, CB: infra.NewCircuitBreaker(infra.DefaultCBConfig()), BatchSize: 7}

	assert.Equal(t, 3, processRetries(context.Background(), cfg))
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, 7, r.limit)

	r.err = errors.New("db gone")
	r.n = 0
	assert.Zero(t, processRetries(context.Background(), cfg))
}

// ── Email worker ─────────────────────────────────────────────────────────────

func TestEmailWorker_SendsTicket(t *testing.T) {
	m := &stubMailer{}
	raw, err := json.Marshal(EmailJobPayload{ToEmail: "ana@example.es", Subject: "Su ticket", Body: "Gracias", PDFPath: "/tmp/t.pdf"})
	require.NoError(t, err)

	require.NoError(t, NewEmailWorker(m).Process(context.Background(), raw))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "/tmp/t.pdf", m.sent[0].PDFPath)
}

func TestEmailWorker_EmptyRecipientSkipped(t *testing.T) {
	m := &stubMailer{}
	require.NoError(t, NewEmailWorker(m).Process(context.Background(), json.RawMessage(`{"to_email":""}`)))
	assert.Empty(t, m.sent)
}

func TestEmailWorker_MailerError(t *testing.T) {
	m := &stubMailer{err: errors.New("smtp 550")}
	assert.Error(t, NewEmailWorker(m).Process(context.Background(), json.RawMessage(`{"to_email":"x@y.es"}`)))
}
