package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "HTTP requests by route and outcome.",
	}, []string{"route", "outcome"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	serviceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_service_calls_total",
		Help: "Outbound calls to upstream services by outcome.",
	}, []string{"service", "outcome"})

	serviceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_service_call_duration_seconds",
		Help:    "Outbound call latency by upstream service.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_circuit_breaker_state",
		Help: "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
	}, []string{"service"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Relay sessions currently bridging a call.",
	})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "Finished relay sessions by outcome.",
	}, []string{"outcome"})

	framesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_total",
		Help: "Audio frames relayed by direction.",
	}, []string{"direction"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Frames dropped by reason.",
	}, []string{"reason"})

	statusCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_status_callbacks_total",
		Help: "Carrier status callbacks by status and result.",
	}, []string{"status", "result"})

	callsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_calls_placed_total",
		Help: "Outbound call placements by outcome.",
	}, []string{"outcome"})

	reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reconciled_records_total",
		Help: "Records visited by reconciliation by result.",
	}, []string{"result"})
)

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a request
func RecordRequest(route string, success bool, latency time.Duration) {
	httpRequests.WithLabelValues(route, outcome(success)).Inc()
	httpLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordServiceCall records a call to an upstream service
func RecordServiceCall(service string, success bool, latency time.Duration) {
	serviceCalls.WithLabelValues(service, outcome(success)).Inc()
	serviceLatency.WithLabelValues(service).Observe(latency.Seconds())
}

// UpdateCircuitBreaker publishes the breaker state for a service
func UpdateCircuitBreaker(service string, state int) {
	circuitState.WithLabelValues(service).Set(float64(state))
}

func SessionStarted() {
	activeSessions.Inc()
}

func SessionEnded(outcome string) {
	activeSessions.Dec()
	sessionsEnded.WithLabelValues(outcome).Inc()
}

// FrameRelayed counts one audio frame; direction is "to_agent" or "to_carrier".
func FrameRelayed(direction string) {
	framesRelayed.WithLabelValues(direction).Inc()
}

func FrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

func StatusCallback(status, result string) {
	statusCallbacks.WithLabelValues(status, result).Inc()
}

func CallPlaced(success bool) {
	callsPlaced.WithLabelValues(outcome(success)).Inc()
}

func Reconciled(result string) {
	reconciled.WithLabelValues(result).Inc()
}
