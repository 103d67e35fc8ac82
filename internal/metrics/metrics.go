package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts raw broker deliveries by device class.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_telemetry_messages_received_total",
		Help: "Total MQTT messages received, by device class.",
	}, []string{"class"})

	// MessagesMalformed counts deliveries dropped before validation:
	// unknown topic class or unparseable payload.
	MessagesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "water_telemetry_messages_malformed_total",
		Help: "Total messages dropped due to unknown topic class or unparseable payload.",
	})

	// MessagesRejected counts readings that failed range or freshness
	// checks.
	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_telemetry_messages_rejected_total",
		Help: "Total readings rejected by validation, by device class.",
	}, []string{"class"})

	// MessagesDuplicate counts readings discarded by the dedup cache.
	MessagesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "water_telemetry_messages_duplicate_total",
		Help: "Total readings discarded as re-deliveries of a known fingerprint.",
	})

	// ReadingsPersisted counts successfully stored readings and samples.
	ReadingsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_telemetry_readings_persisted_total",
		Help: "Total readings and samples written to the store, by device class.",
	}, []string{"class"})

	// DeadLettered counts messages parked after persistence retries were
	// exhausted.
	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "water_telemetry_dead_lettered_total",
		Help: "Total messages written to the dead-letter table after persistence failed.",
	})

	// AlertsPublished counts alerts handed to the notification exchange.
	AlertsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "water_telemetry_alerts_published_total",
		Help: "Total alerts published, by alert type.",
	}, []string{"type"})

	// AlertPublishFailures counts alert dispatches that errored.
	AlertPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "water_telemetry_alert_publish_failures_total",
		Help: "Total alert publish attempts that returned an error.",
	})

	// QueueDepth tracks messages waiting in the pipeline queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "water_telemetry_queue_depth",
		Help: "Current number of messages waiting in the processing queue.",
	})

	// QueueDropped counts messages dropped because the queue was full.
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "water_telemetry_queue_dropped_total",
		Help: "Total messages dropped because the processing queue was full.",
	})

	// ProcessingDuration observes end-to-end handler latency per class.
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "water_telemetry_processing_duration_seconds",
		Help:    "Handler latency in seconds, by device class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})
)
