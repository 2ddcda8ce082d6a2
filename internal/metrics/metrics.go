// Package metrics holds the prometheus collectors of the ledger. Every method
// is safe on a nil *Metrics so services and tests can run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "evapos"

// Metrics groups the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	salesTotal        *prometheus.CounterVec
	salesAmount       *prometheus.CounterVec
	salesVoided       prometheus.Counter
	refundsTotal      *prometheus.CounterVec
	refundsAmount     *prometheus.CounterVec
	sessionsClosed    *prometheus.CounterVec
	fiscalRecords     *prometheus.CounterVec
	fiscalSubmissions *prometheus.CounterVec
	fiscalPending     prometheus.Gauge
	chainHalts        prometheus.Counter
	jobsProcessed     *prometheus.CounterVec
	dlqPushes         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		salesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sales_total",
			Help: "Committed sales by tender method.",
		}, []string{"tender"}),
		salesAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sales_amount_euros_total",
			Help: "Sum of committed sale totals by tender method.",
		}, []string{"tender"}),
		salesVoided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sales_voided_total",
			Help: "Voided sales.",
		}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refunds_total",
			Help: "Refunds by method.",
		}, []string{"method"}),
		refundsAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refunds_amount_euros_total",
			Help: "Refunded money by method.",
		}, []string{"method"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cash_sessions_closed_total",
			Help: "Closed cash sessions by count classification.",
		}, []string{"classification"}),
		fiscalRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fiscal_records_total",
			Help: "Chained fiscal records by invoice type.",
		}, []string{"invoice_type"}),
		fiscalSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fiscal_submissions_total",
			Help: "AEAT submission outcomes.",
		}, []string{"outcome"}),
		fiscalPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fiscal_records_pending",
			Help: "Records waiting for submission, sampled by the retry cron.",
		}),
		chainHalts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fiscal_chain_halts_total",
			Help: "Integrity failures that halted the fiscal chain.",
		}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_jobs_total",
			Help: "Processed background jobs by type and result.",
		}, []string{"type", "result"}),
		dlqPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_dlq_total",
			Help: "Jobs moved to a dead letter queue.",
		}, []string{"queue"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.salesTotal, m.salesAmount, m.salesVoided,
		m.refundsTotal, m.refundsAmount, m.sessionsClosed,
		m.fiscalRecords, m.fiscalSubmissions, m.fiscalPending, m.chainHalts,
		m.jobsProcessed, m.dlqPushes,
		m.httpRequests, m.httpDuration,
	)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the private registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) SaleCreated(tender string, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.salesTotal.WithLabelValues(tender).Inc()
	m.salesAmount.WithLabelValues(tender).Add(total.InexactFloat64())
}

func (m *Metrics) SaleVoided() {
	if m == nil {
		return
	}
	m.salesVoided.Inc()
}

func (m *Metrics) RefundCreated(method string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(method).Inc()
	m.refundsAmount.WithLabelValues(method).Add(amount.InexactFloat64())
}

func (m *Metrics) SessionClosed(classification string) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(classification).Inc()
}

func (m *Metrics) FiscalRecordCreated(invoiceType string) {
	if m == nil {
		return
	}
	m.fiscalRecords.WithLabelValues(invoiceType).Inc()
}

// FiscalSubmission counts one adapter outcome: accepted, rejected or error.
func (m *Metrics) FiscalSubmission(outcome string) {
	if m == nil {
		return
	}
	m.fiscalSubmissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetFiscalPending(n int64) {
	if m == nil {
		return
	}
	m.fiscalPending.Set(float64(n))
}

func (m *Metrics) ChainHalted() {
	if m == nil {
		return
	}
	m.chainHalts.Inc()
}

func (m *Metrics) JobProcessed(jobType, result string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, result).Inc()
}

func (m *Metrics) DLQPushed(queue string) {
	if m == nil {
		return
	}
	m.dlqPushes.WithLabelValues(queue).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, never
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
