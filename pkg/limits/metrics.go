package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission stages recorded by the metrics.
const (
	StagePreflight = "preflight"
	StageDebit     = "debit"
)

// Metrics contains Prometheus metrics for quota accounting.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Admission decisions by stage and reason
	admissionDecisions *prometheus.CounterVec

	// Seconds committed to the ledger
	debitSeconds prometheus.Counter

	// Debits lost after a successful transcription
	accountingLoss prometheus.Counter

	// Ledger backend latency and failures
	ledgerDuration *prometheus.HistogramVec
	ledgerErrors   *prometheus.CounterVec

	// Window rotations
	rotations prometheus.Counter
}

// NewMetrics creates quota metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		admissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicequota_admission_decisions_total",
				Help: "Total number of admission decisions by stage and outcome",
			},
			[]string{"stage", "result", "reason"},
		),

		debitSeconds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voicequota_debit_seconds_total",
				Help: "Total audio seconds debited from user quotas",
			},
		),

		accountingLoss: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voicequota_accounting_loss_total",
				Help: "Successful transcriptions whose debit could not be stored",
			},
		),

		ledgerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicequota_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~330ms
			},
			[]string{"backend", "operation"},
		),

		ledgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicequota_ledger_errors_total",
				Help: "Total number of ledger storage failures",
			},
			[]string{"backend", "operation"},
		),

		rotations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voicequota_window_rotations_total",
				Help: "Total number of accounting windows started or rotated",
			},
		),
	}
}

// RecordDecision records an admission decision at the given stage.
func (m *Metrics) RecordDecision(stage string, d AdmissionDecision) {
	if m == nil {
		return
	}
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	reason := d.Reason.String()
	if reason == "" {
		reason = "none"
	}
	m.admissionDecisions.WithLabelValues(stage, result, reason).Inc()
}

// RecordDebit records seconds committed to the ledger.
func (m *Metrics) RecordDebit(seconds int64) {
	if m == nil {
		return
	}
	m.debitSeconds.Add(float64(seconds))
}

// RecordAccountingLoss records a debit that was lost to a storage failure.
func (m *Metrics) RecordAccountingLoss() {
	if m == nil {
		return
	}
	m.accountingLoss.Inc()
}

// RecordLedgerOperation records the latency and outcome of a backend call.
func (m *Metrics) RecordLedgerOperation(backend, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.ledgerDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.ledgerErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordRotation records a window rotation.
func (m *Metrics) RecordRotation() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}
