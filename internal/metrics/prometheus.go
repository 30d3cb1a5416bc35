package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice conversion service
type Metrics struct {
	// Conversion metrics
	ConversionsStarted   prometheus.Counter
	ConversionsSucceeded prometheus.Counter
	ConversionsFailed    *prometheus.CounterVec
	ConversionDuration   prometheus.Histogram
	StreamChunksReceived prometheus.Counter

	// Admission metrics
	AdmissionActive   prometheus.Gauge
	AdmissionQueued   prometheus.Gauge
	AdmissionRejected prometheus.Counter

	// Engine gate metrics
	GateWaitDuration prometheus.Histogram
	GateHoldDuration prometheus.Histogram

	// Encoder metrics
	EncodeFallbacks prometheus.Counter
	EncodeDuration  prometheus.Histogram

	// Artifact registry metrics
	ArtifactsStored prometheus.Gauge
	ArtifactsSwept  prometheus.Counter

	// Engine client metrics
	EngineRequests prometheus.Counter
	EngineFailures prometheus.Counter
	EngineRetries  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics registered with reg. Tests pass
// a private registry so metric names never collide across instances.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Conversion metrics
		ConversionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_conversions_started_total",
			Help: "Total number of conversion requests started",
		}),
		ConversionsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_conversions_succeeded_total",
			Help: "Total number of conversions that produced an output",
		}),
		ConversionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seedvc_conversions_failed_total",
			Help: "Total number of failed conversions by failure kind",
		}, []string{"reason"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seedvc_conversion_duration_seconds",
			Help:    "End-to-end duration of conversion requests",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~34 minutes
		}),
		StreamChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_stream_chunks_received_total",
			Help: "Total number of partial audio chunks received from the engine",
		}),

		// Admission metrics
		AdmissionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "seedvc_admission_active",
			Help: "Current number of admitted in-flight conversions",
		}),
		AdmissionQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "seedvc_admission_queued",
			Help: "Current number of conversions waiting in the admission queue",
		}),
		AdmissionRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_admission_rejected_total",
			Help: "Total number of conversions rejected because the queue was full",
		}),

		// Engine gate metrics
		GateWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seedvc_gate_wait_duration_seconds",
			Help:    "Time spent waiting for exclusive engine access",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7 minutes
		}),
		GateHoldDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seedvc_gate_hold_duration_seconds",
			Help:    "Time the engine was occupied by a single conversion",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27 minutes
		}),

		// Encoder metrics
		EncodeFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_encode_fallbacks_total",
			Help: "Total number of encodes whose effective format differed from the requested one",
		}),
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seedvc_encode_duration_seconds",
			Help:    "Duration of output encoding",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),

		// Artifact registry metrics
		ArtifactsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "seedvc_artifacts_stored",
			Help: "Current number of retained output artifacts",
		}),
		ArtifactsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_artifacts_swept_total",
			Help: "Total number of artifacts removed by the TTL sweeper",
		}),

		// Engine client metrics
		EngineRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_engine_requests_total",
			Help: "Total number of requests sent to the engine backend",
		}),
		EngineFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_engine_failures_total",
			Help: "Total number of failed engine backend requests",
		}),
		EngineRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "seedvc_engine_retries_total",
			Help: "Total number of retried engine backend requests",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seedvc_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seedvc_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seedvc_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConversionStarted increments the started conversions counter
func (m *Metrics) RecordConversionStarted() {
	m.ConversionsStarted.Inc()
}

// RecordConversionSucceeded records a successful conversion and its duration
func (m *Metrics) RecordConversionSucceeded(durationSeconds float64) {
	m.ConversionsSucceeded.Inc()
	m.ConversionDuration.Observe(durationSeconds)
}

// RecordConversionFailed records a failed conversion with its failure kind
func (m *Metrics) RecordConversionFailed(reason string, durationSeconds float64) {
	m.ConversionsFailed.WithLabelValues(reason).Inc()
	m.ConversionDuration.Observe(durationSeconds)
}

// RecordStreamChunk increments the partial chunk counter
func (m *Metrics) RecordStreamChunk() {
	m.StreamChunksReceived.Inc()
}

// SetAdmissionActive sets the number of admitted in-flight conversions
func (m *Metrics) SetAdmissionActive(count int) {
	m.AdmissionActive.Set(float64(count))
}

// SetAdmissionQueued sets the current admission queue depth
func (m *Metrics) SetAdmissionQueued(count int) {
	m.AdmissionQueued.Set(float64(count))
}

// RecordAdmissionRejected increments the overload rejection counter
func (m *Metrics) RecordAdmissionRejected() {
	m.AdmissionRejected.Inc()
}

// RecordGateWait records time spent waiting for the engine gate
func (m *Metrics) RecordGateWait(durationSeconds float64) {
	m.GateWaitDuration.Observe(durationSeconds)
}

// RecordGateHold records time the engine was occupied by one conversion
func (m *Metrics) RecordGateHold(durationSeconds float64) {
	m.GateHoldDuration.Observe(durationSeconds)
}

// RecordEncodeFallback increments the encoder fallback counter
func (m *Metrics) RecordEncodeFallback() {
	m.EncodeFallbacks.Inc()
}

// RecordEncodeDuration records the duration of an output encode
func (m *Metrics) RecordEncodeDuration(durationSeconds float64) {
	m.EncodeDuration.Observe(durationSeconds)
}

// SetArtifactsStored sets the current number of retained artifacts
func (m *Metrics) SetArtifactsStored(count int) {
	m.ArtifactsStored.Set(float64(count))
}

// RecordArtifactSwept increments the TTL sweep counter
func (m *Metrics) RecordArtifactSwept() {
	m.ArtifactsSwept.Inc()
}

// RecordEngineRequest increments the engine request counter
func (m *Metrics) RecordEngineRequest() {
	m.EngineRequests.Inc()
}

// RecordEngineFailure increments the engine failure counter
func (m *Metrics) RecordEngineFailure() {
	m.EngineFailures.Inc()
}

// RecordEngineRetry increments the engine retry counter
func (m *Metrics) RecordEngineRetry() {
	m.EngineRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
