package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	completionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workout_stats",
		Subsystem: "ledger",
		Name:      "last_completion_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent workout completion folded into a ledger.",
	})
	completionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "ledger",
		Name:      "completions_applied_total",
		Help:      "Number of workout completions applied to user ledgers.",
	})
	applyConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "ledger",
		Name:      "apply_conflicts_total",
		Help:      "Number of ledger updates retried after a concurrent modification.",
	})
	ledgerReadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "ledger",
		Name:      "reads_total",
		Help:      "Ledger reads on the stats path, labeled by cache outcome.",
	}, []string{"cache"})
)

func init() {
	prometheus.MustRegister(completionPersistGauge, completionsCounter, applyConflictCounter, ledgerReadCounter)
}

// RecordCompletionPersisted updates the ledger write watermark.
func RecordCompletionPersisted(ts time.Time) {
	completionsCounter.Inc()
	if ts.IsZero() {
		return
	}
	completionPersistGauge.Set(float64(ts.Unix()))
}

// RecordApplyConflict counts a retried ledger update.
func RecordApplyConflict() {
	applyConflictCounter.Inc()
}

// RecordLedgerRead counts a ledger read by cache outcome.
func RecordLedgerRead(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	ledgerReadCounter.WithLabelValues(label).Inc()
}
