// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelaySwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_relay_switches_total",
		Help: "Relay state changes by relay id and resulting state.",
	}, []string{"relay", "state"})

	RelayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_relay_errors_total",
		Help: "Failed relay mutations by relay id.",
	}, []string{"relay"})

	SensorReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_sensor_reads_total",
		Help: "Sensor reads by source and outcome.",
	}, []string{"source", "outcome"})

	SensorUnhealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerd_sensor_unhealthy",
		Help: "1 while the sensor is marked unhealthy.",
	}, []string{"source"})

	RuleTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_rule_transitions_total",
		Help: "Rule latch transitions by rule id and edge.",
	}, []string{"rule", "edge"})

	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_rule_action_failures_total",
		Help: "Rule actions that exhausted their retries.",
	}, []string{"rule", "action"})

	TSDBBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_tsdb_batches_total",
		Help: "Time-series batches by outcome (written, dropped, failed).",
	}, []string{"outcome"})

	TSDBQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "powerd_tsdb_queue_depth",
		Help: "Samples currently buffered for the time-series store.",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerd_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_circuit_breaker_trips_total",
		Help: "Circuit breaker transitions to open, by reason.",
	}, []string{"name", "reason"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powerd_command_duration_seconds",
		Help:    "Command bus execution time by command kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	StreamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerd_stream_clients",
		Help: "Connected live-stream clients by endpoint.",
	}, []string{"endpoint"})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerd_config_reloads_total",
		Help: "Configuration reloads by outcome.",
	}, []string{"outcome"})
)

// SetCircuitBreakerState records the breaker state as a numeric gauge.
func SetCircuitBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	CircuitBreakerState.WithLabelValues(name).Set(v)
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(name, reason string) {
	CircuitBreakerTrips.WithLabelValues(name, reason).Inc()
}
