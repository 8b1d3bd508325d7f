package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ingestOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptlog",
		Subsystem: "ingest",
		Name:      "attempts_total",
		Help:      "Ingestion attempts by outcome (persisted, duplicate, failed).",
	}, []string{"outcome"})

	logPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptlog",
		Subsystem: "persistence",
		Name:      "last_log_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent exercise log persisted to Postgres.",
	})

	auditFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ptlog",
		Subsystem: "audit",
		Name:      "write_failures_total",
		Help:      "Audit ledger appends that failed and were swallowed.",
	})
)

func init() {
	prometheus.MustRegister(ingestOutcomeCounter, logPersistGauge, auditFailureCounter)
}

// RecordIngestOutcome increments the attempt counter for an outcome.
func RecordIngestOutcome(outcome string) {
	ingestOutcomeCounter.WithLabelValues(outcome).Inc()
}

// RecordLogPersisted updates the persistence watermark gauge.
func RecordLogPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	logPersistGauge.Set(float64(ts.Unix()))
}

// RecordAuditWriteFailure counts a swallowed ledger append failure.
func RecordAuditWriteFailure() {
	auditFailureCounter.Inc()
}
