package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_sweeps_total",
			Help: "Total number of dispatcher sweeps (count)",
		},
		[]string{"status"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_sweep_duration_ms",
			Help:    "Duration of a full dispatcher sweep in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	ChargesDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_charges_total",
			Help: "Total number of charges processed by the dispatcher (count)",
		},
		[]string{"channel", "status"},
	)

	ChargesDueGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_charges_due",
			Help: "Number of due charges found by the last sweep (count)",
		},
	)

	ProviderSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_send_duration_ms",
			Help:    "Duration of outbound provider calls in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		},
		[]string{"channel", "status"},
	)

	ChargesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charges_created_total",
			Help: "Total number of charges accepted at ingestion (count)",
		},
		[]string{"source"},
	)

	ChargesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charges_rejected_total",
			Help: "Total number of charges rejected at ingestion (count)",
		},
		[]string{"reason"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_callbacks_total",
			Help: "Total number of provider callbacks ingested (count)",
		},
		[]string{"event", "status"},
	)

	DeliveryStatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_status_transitions_total",
			Help: "Total number of delivery record status transitions (count)",
		},
		[]string{"to_status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total requests through circuit breakers (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total failed requests through circuit breakers (count)",
		},
		[]string{"name"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total messages routed to the dead letter queue (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

func RegisterDispatcherMetrics() {
	prometheus.MustRegister(
		SweepsTotal,
		SweepDuration,
		ChargesDispatchedTotal,
		ChargesDueGauge,
		ProviderSendDuration,
	)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(
		ChargesCreatedTotal,
		ChargesRejectedTotal,
		RateLimitRequestsTotal,
	)
}

func RegisterDeliveryMetrics() {
	prometheus.MustRegister(
		CallbacksTotal,
		DeliveryStatusTransitionsTotal,
	)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		RetryAttemptsTotal,
		DLQMessagesTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

// ObserveDuration records a millisecond duration histogram sample.
func ObserveDuration(h prometheus.Observer, start time.Time) {
	h.Observe(float64(time.Since(start).Milliseconds()))
}
