package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "consumer",
		Name:      "records_total",
		Help:      "Kafka records by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	invalidationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "consumer",
		Name:      "cache_invalidations_total",
		Help:      "Stats events checked against the cached ledger snapshot.",
	})
)

func init() {
	prometheus.MustRegister(recordsCounter, invalidationCounter)
}

func recordProcessed(topic, eventType string) {
	recordsCounter.WithLabelValues(topic, eventType, "processed").Inc()
}

func recordSkipped(topic, eventType string) {
	recordsCounter.WithLabelValues(topic, eventType, "skipped").Inc()
}

func recordHandlerError(topic, eventType string) {
	recordsCounter.WithLabelValues(topic, eventType, "handler_error").Inc()
}

func recordDecodeError(topic string) {
	recordsCounter.WithLabelValues(topic, "unknown", "decode_error").Inc()
}
