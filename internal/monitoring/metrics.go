// Package monitoring exposes the pipeline's Prometheus metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	// Ingestion
	LogsProcessed  *prometheus.CounterVec // source, status: processed, parse_error, dropped
	RecordDuration *prometheus.HistogramVec

	// Detection
	ThreatsDetected *prometheus.CounterVec // attack_type, severity
	MLPredictions   *prometheus.CounterVec // model_type, result

	// Automation
	AutomationActions *prometheus.CounterVec // action_type, status
	BreakerOpen       *prometheus.GaugeVec   // breaker; 1 when open

	// Alerting
	AlertsSent *prometheus.CounterVec // channel, severity

	// Stream
	InFlight   prometheus.Gauge
	ModelReady *prometheus.GaugeVec // model_type
}

// NewMetrics creates and registers all collectors. A nil registerer uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LogsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridshield_logs_processed_total",
				Help: "Log records pulled from the ingestion bus, by outcome",
			},
			[]string{"source", "status"},
		),

		RecordDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridshield_record_processing_seconds",
				Help:    "Per-record processing latency by pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		ThreatsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridshield_threats_detected_total",
				Help: "Detections produced by the detection engine",
			},
			[]string{"attack_type", "severity"},
		),

		MLPredictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridshield_ml_predictions_total",
				Help: "Predictions made by the ensemble models",
			},
			[]string{"model_type", "result"},
		),

		AutomationActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridshield_automation_actions_total",
				Help: "Automated response actions by outcome",
			},
			[]string{"action_type", "status"},
		),

		BreakerOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridshield_circuit_breaker_open",
				Help: "1 when the named circuit breaker is open",
			},
			[]string{"breaker"},
		),

		AlertsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridshield_alerts_sent_total",
				Help: "Alert deliveries by channel",
			},
			[]string{"channel", "severity"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridshield_stream_in_flight",
				Help: "Records currently being processed by the coordinator",
			},
		),

		ModelReady: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridshield_model_ready",
				Help: "1 when the named model is trained and serving",
			},
			[]string{"model_type"},
		),
	}
}
