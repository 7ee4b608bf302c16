// Package metrics exposes prometheus instruments for the billing engine.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the static labels attached to every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// EngineMetrics captures webhook ingestion and scheduler health signals.
type EngineMetrics struct {
	service string
	env     string

	webhooksReceived  *prometheus.CounterVec
	webhooksRejected  *prometheus.CounterVec
	ledgerIngest      *prometheus.CounterVec
	royaltiesComputed *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton engine metrics registry using config labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the metrics singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "livraly"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}

	m := &EngineMetrics{
		service: service,
		env:     env,
		webhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livraly_webhooks_received_total",
			Help: "Webhook deliveries accepted per provider and ingest result.",
		}, []string{"service", "env", "provider", "result"}),
		webhooksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livraly_webhooks_rejected_total",
			Help: "Webhook deliveries rejected before ledger mutation.",
		}, []string{"service", "env", "provider", "reason"}),
		ledgerIngest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livraly_ledger_ingest_total",
			Help: "Ledger ingestion outcomes (inserted or duplicate).",
		}, []string{"service", "env", "result"}),
		royaltiesComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livraly_royalties_computed_total",
			Help: "Royalty records produced per status.",
		}, []string{"service", "env", "status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livraly_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"service", "env", "job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livraly_scheduler_job_errors_total",
			Help: "Scheduler job failures.",
		}, []string{"service", "env", "job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livraly_scheduler_job_duration_seconds",
			Help:    "Scheduler job durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "env", "job"}),
	}

	registerer.MustRegister(
		m.webhooksReceived,
		m.webhooksRejected,
		m.ledgerIngest,
		m.royaltiesComputed,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
	)
	return m
}

func (m *EngineMetrics) IncWebhookReceived(provider, result string) {
	if m == nil {
		return
	}
	m.webhooksReceived.WithLabelValues(m.service, m.env, provider, result).Inc()
}

func (m *EngineMetrics) IncWebhookRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.webhooksRejected.WithLabelValues(m.service, m.env, provider, reason).Inc()
}

func (m *EngineMetrics) IncLedgerIngest(result string) {
	if m == nil {
		return
	}
	m.ledgerIngest.WithLabelValues(m.service, m.env, result).Inc()
}

func (m *EngineMetrics) IncRoyaltyComputed(status string) {
	if m == nil {
		return
	}
	m.royaltiesComputed.WithLabelValues(m.service, m.env, status).Inc()
}

func (m *EngineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(m.service, m.env, job).Inc()
}

func (m *EngineMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(m.service, m.env, job).Inc()
}

func (m *EngineMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(m.service, m.env, job).Observe(d.Seconds())
}
