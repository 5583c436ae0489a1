// Package metrics exposes prometheus instruments for the revenue core.
package metrics

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds application-level instruments.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	meterCalls       *prometheus.CounterVec
	meterDropped     prometheus.Counter
	rateLimitDenied  *prometheus.CounterVec
	ledgerEvents     *prometheus.CounterVec
	ledgerDuplicates prometheus.Counter
	billingRuns      prometheus.Counter
	billingCharges   *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fairway_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		meterCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_meter_calls_total",
			Help: "Metered API calls accepted by the usage meter.",
		}, []string{"tenant"}),
		meterDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairway_meter_dropped_total",
			Help: "Usage samples dropped because the ingest queue was full.",
		}),
		rateLimitDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_rate_limit_denied_total",
			Help: "Requests denied by the per-tenant rate limiter.",
		}, []string{"tenant"}),
		ledgerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_ledger_events_total",
			Help: "Revenue events appended to the ledger.",
		}, []string{"type"}),
		ledgerDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairway_ledger_duplicate_events_total",
			Help: "Idempotent replays detected by the ledger.",
		}),
		billingRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairway_billing_runs_total",
			Help: "Automated billing cycle executions.",
		}),
		billingCharges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_billing_charges_total",
			Help: "Charge attempts by outcome.",
		}, []string{"outcome"}),
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_scheduler_job_errors_total",
			Help: "Scheduler job failures.",
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fairway_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

func (m *Metrics) ObserveHTTP(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) IncMeterCall(tenant string) {
	if m == nil {
		return
	}
	m.meterCalls.WithLabelValues(tenant).Inc()
}

func (m *Metrics) IncMeterDropped() {
	if m == nil {
		return
	}
	m.meterDropped.Inc()
}

func (m *Metrics) IncRateLimitDenied(tenant string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(tenant).Inc()
}

func (m *Metrics) IncLedgerEvent(eventType string) {
	if m == nil {
		return
	}
	m.ledgerEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncLedgerDuplicate() {
	if m == nil {
		return
	}
	m.ledgerDuplicates.Inc()
}

func (m *Metrics) IncBillingRun() {
	if m == nil {
		return
	}
	m.billingRuns.Inc()
}

func (m *Metrics) IncBillingCharge(outcome string) {
	if m == nil {
		return
	}
	m.billingCharges.WithLabelValues(strings.TrimSpace(outcome)).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(seconds float64) {
			route := c.FullPath()
			if route == "" {
				route = "unknown"
			}
			m.ObserveHTTP(route, c.Writer.Status(), seconds)
		}))
		defer timer.ObserveDuration()
		c.Next()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
