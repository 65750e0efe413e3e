// Package metrics exposes prometheus collectors for the sync engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobRunning      *prometheus.GaugeVec
	txTransitions   *prometheus.CounterVec
	eventsIngested  *prometheus.CounterVec
	ingestionCursor prometheus.Gauge
	rewardsCreated  *prometheus.CounterVec
	ledgerHealthy   prometheus.Gauge
}

var (
	registryOnce sync.Once
	registry     *Metrics
)

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	registryOnce.Do(func() {
		registry = New()
		prometheus.MustRegister(registry.Collectors()...)
	})
	return registry
}

// New builds unregistered collectors. Tests register them on their own registry.
func New() *Metrics {
	return &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_sync",
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Scheduled job invocations segmented by job and outcome (success, error, panic, skipped).",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger_sync",
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall time of scheduled job runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		jobRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledger_sync",
			Subsystem: "job",
			Name:      "running",
			Help:      "1 while the job holds its lease in this process.",
		}, []string{"job"}),
		txTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_sync",
			Subsystem: "transaction",
			Name:      "transitions_total",
			Help:      "Transaction status transitions segmented by type and target status.",
		}, []string{"type", "status"}),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_sync",
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Ledger events seen by the ingestion poller segmented by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ingestionCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger_sync",
			Subsystem: "ingestion",
			Name:      "cursor_version",
			Help:      "Last ledger version fetched by the ingestion poller.",
		}),
		rewardsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_sync",
			Subsystem: "reward",
			Name:      "created_total",
			Help:      "Rewards persisted segmented by type.",
		}, []string{"type"}),
		ledgerHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger_sync",
			Subsystem: "ledger",
			Name:      "healthy",
			Help:      "1 when the last ledger health check succeeded.",
		}),
	}
}

// Collectors lists every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobRuns, m.jobDuration, m.jobRunning, m.txTransitions,
		m.eventsIngested, m.ingestionCursor, m.rewardsCreated, m.ledgerHealthy,
	}
}

// ObserveJob records one job outcome and its duration.
func (m *Metrics) ObserveJob(job, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// SetJobRunning flips the running gauge for a job.
func (m *Metrics) SetJobRunning(job string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.jobRunning.WithLabelValues(job).Set(v)
}

// RecordTransition counts a transaction status change.
func (m *Metrics) RecordTransition(txType, status string) {
	if m == nil {
		return
	}
	m.txTransitions.WithLabelValues(txType, status).Inc()
}

// RecordEvent counts one ingested ledger event.
func (m *Metrics) RecordEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(kind, outcome).Inc()
}

// SetCursor publishes the ingestion watermark.
func (m *Metrics) SetCursor(version int64) {
	if m == nil {
		return
	}
	m.ingestionCursor.Set(float64(version))
}

// RecordReward counts a persisted reward.
func (m *Metrics) RecordReward(rewardType string) {
	if m == nil {
		return
	}
	m.rewardsCreated.WithLabelValues(rewardType).Inc()
}

// SetLedgerHealthy publishes the ledger health check result.
func (m *Metrics) SetLedgerHealthy(ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.ledgerHealthy.Set(v)
}
