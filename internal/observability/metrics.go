package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vocal_input"

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of connected audio clients",
	})

	totalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Total number of audio connections accepted",
	})

	connectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "connection_duration_seconds",
		Help:      "Lifetime of audio connections in seconds",
		Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 14400},
	})

	// Audio metrics
	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_total",
		Help:      "Total audio bytes received",
	})

	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Total PCM frames assembled",
	})

	// Pipeline metrics
	wakeWords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wake_words_total",
		Help:      "Total wake-word detections",
	})

	utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "utterances_total",
		Help:      "Finalized utterances by reason",
	}, []string{"reason"})

	utteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "utterance_duration_seconds",
		Help:      "Captured audio length of finalized utterances",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 15},
	})

	// Transcription metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcription_requests_total",
		Help:      "Total number of transcription requests",
	}, []string{"engine", "status"})

	transcriptionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcription_latency_seconds",
		Help:      "Transcription latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"engine"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Outbound bus events by name and status",
	}, []string{"event", "status"})

	controlEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_events_total",
		Help:      "Inbound control events by name",
	}, []string{"event"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_failures_total",
		Help:      "Total circuit breaker failures",
	}, []string{"service"})
)

// ConnectionMetrics tracks metrics for a single audio connection
type ConnectionMetrics struct {
	startTime time.Time
}

// NewConnectionMetrics records a new connection and starts its timer
func NewConnectionMetrics() *ConnectionMetrics {
	activeConnections.Inc()
	totalConnections.Inc()
	return &ConnectionMetrics{startTime: time.Now()}
}

// Close records the end of the connection
func (m *ConnectionMetrics) Close() {
	activeConnections.Dec()
	connectionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordChunk records one transport chunk and the frames it produced
func (m *ConnectionMetrics) RecordChunk(bytes, frames int) {
	audioBytes.Add(float64(bytes))
	framesProcessed.Add(float64(frames))
}

// RecordWakeWord records a wake-word detection
func RecordWakeWord() {
	wakeWords.Inc()
}

// RecordUtterance records a finalized utterance
func RecordUtterance(reason string, duration time.Duration) {
	utterances.WithLabelValues(reason).Inc()
	utteranceDuration.Observe(duration.Seconds())
}

// RecordTranscription records one transcription call
func RecordTranscription(engine string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	transcriptionRequests.WithLabelValues(engine, status).Inc()
	transcriptionLatency.WithLabelValues(engine).Observe(latency.Seconds())
}

// RecordTranscriptionRejected counts requests refused by the circuit breaker
func RecordTranscriptionRejected(engine string) {
	transcriptionRequests.WithLabelValues(engine, "rejected").Inc()
}

// RecordPublish records an outbound event publish
func RecordPublish(event string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	eventsPublished.WithLabelValues(event, status).Inc()
}

// RecordControlEvent records an inbound control event
func RecordControlEvent(event string) {
	controlEvents.WithLabelValues(event).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
