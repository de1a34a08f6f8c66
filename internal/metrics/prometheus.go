package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder. Every Record
// and Set method is safe to call on a nil *Metrics.
type Metrics struct {
	// Ingestion metrics
	BuffersHandled prometheus.Counter
	FramesWritten  prometheus.Counter
	SourceQueue    prometheus.Gauge

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsFinished prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Level metrics
	LevelBuffers prometheus.Counter
	LevelActive  prometheus.Counter

	// Chunk rotation metrics
	ChunksOpened     prometheus.Counter
	ChunksFinalized  prometheus.Counter
	ChunksEvicted    prometheus.Counter
	FinalizeDuration prometheus.Histogram
	WriterErrors     *prometheus.CounterVec

	// Conversion metrics
	ConversionRequests prometheus.Counter
	ConversionFailures prometheus.Counter
	ConversionRetries  prometheus.Counter
	ConversionDuration prometheus.Histogram

	// Extraction metrics
	Extractions        prometheus.Counter
	ExtractionFailures *prometheus.CounterVec
	ExtractedSeconds   prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		BuffersHandled: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_buffers_handled_total",
			Help: "Total number of sample buffers accepted by outputs",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_frames_written_total",
			Help: "Total number of sample frames queued for writing",
		}),
		SourceQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tapedeck_source_queue_size",
			Help: "Current number of buffers waiting between capture and session",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tapedeck_active_sessions",
			Help: "Current number of recording sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_sessions_created_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_sessions_finished_total",
			Help: "Total number of recording sessions finalized",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tapedeck_session_duration_seconds",
			Help:    "Recorded duration of finished sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		// Level metrics
		LevelBuffers: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_level_buffers_total",
			Help: "Total number of buffers measured by the level meter",
		}),
		LevelActive: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_level_active_buffers_total",
			Help: "Total number of measured buffers above the activity threshold",
		}),

		// Chunk rotation metrics
		ChunksOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_chunks_opened_total",
			Help: "Total number of chunk writers opened",
		}),
		ChunksFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_chunks_finalized_total",
			Help: "Total number of chunks finalized and added to the index",
		}),
		ChunksEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_chunks_evicted_total",
			Help: "Total number of chunks deleted by retention",
		}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tapedeck_chunk_finalize_duration_seconds",
			Help:    "Time from rotation until a chunk becomes visible in the index",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}),
		WriterErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tapedeck_writer_errors_total",
			Help: "Total number of chunk writer failures",
		}, []string{"op"}),

		// Conversion metrics
		ConversionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_conversion_requests_total",
			Help: "Total number of conversion requests",
		}),
		ConversionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_conversion_failures_total",
			Help: "Total number of failed conversions",
		}),
		ConversionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_conversion_retries_total",
			Help: "Total number of external codec retries",
		}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tapedeck_conversion_duration_seconds",
			Help:    "Duration of conversions",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// Extraction metrics
		Extractions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tapedeck_extractions_total",
			Help: "Total number of successful range extractions",
		}),
		ExtractionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tapedeck_extraction_failures_total",
			Help: "Total number of failed range extractions",
		}, []string{"reason"}),
		ExtractedSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tapedeck_extracted_seconds",
			Help:    "Length of extracted ranges",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tapedeck_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tapedeck_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tapedeck_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBufferHandled counts a buffer and its frames
func (m *Metrics) RecordBufferHandled(frames int) {
	if m == nil {
		return
	}
	m.BuffersHandled.Inc()
	m.FramesWritten.Add(float64(frames))
}

// SetSourceQueue sets the current capture queue length
func (m *Metrics) SetSourceQueue(size int) {
	if m == nil {
		return
	}
	m.SourceQueue.Set(float64(size))
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionFinished increments the finished counter and records duration
func (m *Metrics) RecordSessionFinished(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsFinished.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordLevel counts a metered buffer
func (m *Metrics) RecordLevel(active bool) {
	if m == nil {
		return
	}
	m.LevelBuffers.Inc()
	if active {
		m.LevelActive.Inc()
	}
}

// RecordChunkOpened increments the chunks opened counter
func (m *Metrics) RecordChunkOpened() {
	if m == nil {
		return
	}
	m.ChunksOpened.Inc()
}

// RecordChunkFinalized records a chunk that became visible in the index
func (m *Metrics) RecordChunkFinalized(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ChunksFinalized.Inc()
	m.FinalizeDuration.Observe(durationSeconds)
}

// RecordChunksEvicted adds n evicted chunks
func (m *Metrics) RecordChunksEvicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChunksEvicted.Add(float64(n))
}

// RecordWriterError counts a writer failure for op (open, append, finalize)
func (m *Metrics) RecordWriterError(op string) {
	if m == nil {
		return
	}
	m.WriterErrors.WithLabelValues(op).Inc()
}

// RecordConversion records a finished conversion
func (m *Metrics) RecordConversion(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.ConversionRequests.Inc()
	if err != nil {
		m.ConversionFailures.Inc()
	}
	m.ConversionDuration.Observe(durationSeconds)
}

// RecordConversionRetry increments the retry counter
func (m *Metrics) RecordConversionRetry() {
	if m == nil {
		return
	}
	m.ConversionRetries.Inc()
}

// RecordExtraction records a successful extraction of the given length
func (m *Metrics) RecordExtraction(seconds float64) {
	if m == nil {
		return
	}
	m.Extractions.Inc()
	m.ExtractedSeconds.Observe(seconds)
}

// RecordExtractionFailure counts a failed extraction by reason
func (m *Metrics) RecordExtractionFailure(reason string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
