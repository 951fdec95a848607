// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exbabel_relay"

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	ListenersActive *prometheus.GaugeVec

	// Segment metrics
	SegmentsCommitted  *prometheus.CounterVec
	SegmentCommitDelay prometheus.Histogram
	WatchdogRetries    prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioChunksReceived prometheus.Counter
	ChunkRetries        prometheus.Counter
	StreamRestarts      *prometheus.CounterVec

	// Translation metrics
	TranslationLatency *prometheus.HistogramVec
	TranslationErrors  *prometheus.CounterVec
	TranslationCache   *prometheus.CounterVec

	// Broadcast metrics
	EventsBroadcast   *prometheus.CounterVec
	ListenerOverflows prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Recognizer metrics
	RecognizerErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of host sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active host sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of host sessions in seconds",
			Buckets:   []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		ListenersActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners_active",
			Help:      "Number of connected listeners",
		}, []string{"lang"}),

		// Segment metrics
		SegmentsCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_committed_total",
			Help:      "Total number of segments committed, by winning source",
		}, []string{"source"}),
		SegmentCommitDelay: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_commit_delay_seconds",
			Help:      "Time from first final to commit for a segment",
			Buckets:   []float64{0.5, 1, 2, 4, 6, 8, 10, 15},
		}),
		WatchdogRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_watchdog_retries_total",
			Help:      "Total finalized segments re-posted because no commit was confirmed",
		}),

		// Transcript metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks received",
		}),
		ChunkRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunk_retries_total",
			Help:      "Total audio chunk write retries",
		}),
		StreamRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_restarts_total",
			Help:      "Total recognizer stream restarts",
		}, []string{"reason"}),

		// Translation metrics
		TranslationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Translation round-trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"target_lang", "kind"}),
		TranslationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_errors_total",
			Help:      "Total translation failures",
		}, []string{"target_lang", "kind"}),
		TranslationCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_cache_total",
			Help:      "Translation cache lookups",
		}, []string{"result"}),

		// Broadcast metrics
		EventsBroadcast: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_broadcast_total",
			Help:      "Total events fanned out to listeners",
		}, []string{"type"}),
		ListenerOverflows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_overflows_total",
			Help:      "Total listeners dropped because their outbound queue overflowed",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Recognizer metrics
		RecognizerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Total recognizer errors",
		}, []string{"error_type"}),
	}
}

// RecordSessionStart records a new host session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a host session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordListenerJoin records a listener subscribing for a language.
func (m *Metrics) RecordListenerJoin(lang string) {
	m.ListenersActive.WithLabelValues(lang).Inc()
}

// RecordListenerLeave records a listener disconnecting.
func (m *Metrics) RecordListenerLeave(lang string) {
	m.ListenersActive.WithLabelValues(lang).Dec()
}

// RecordCommit records a segment commit and its delay since the first final.
func (m *Metrics) RecordCommit(source string, delaySeconds float64) {
	m.SegmentsCommitted.WithLabelValues(source).Inc()
	if delaySeconds >= 0 {
		m.SegmentCommitDelay.Observe(delaySeconds)
	}
}

// RecordWatchdogRetry records a finalized segment re-posted by the commit
// watchdog.
func (m *Metrics) RecordWatchdogRetry() {
	m.WatchdogRetries.Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordAudioReceived records audio bytes and chunks received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioChunksReceived.Inc()
}

// RecordStreamRestart records a recognizer stream restart.
func (m *Metrics) RecordStreamRestart(reason string) {
	m.StreamRestarts.WithLabelValues(reason).Inc()
}

// RecordTranslation records a translation round trip.
func (m *Metrics) RecordTranslation(targetLang, kind string, err error, latencySeconds float64) {
	if err != nil {
		m.TranslationErrors.WithLabelValues(targetLang, kind).Inc()
		return
	}
	m.TranslationLatency.WithLabelValues(targetLang, kind).Observe(latencySeconds)
}

// RecordCacheLookup records a translation cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TranslationCache.WithLabelValues(result).Inc()
}

// RecordBroadcast records an event fanned out to listeners.
func (m *Metrics) RecordBroadcast(eventType string) {
	m.EventsBroadcast.WithLabelValues(eventType).Inc()
}

// RecordListenerOverflow records a listener dropped for a saturated queue.
func (m *Metrics) RecordListenerOverflow() {
	m.ListenerOverflows.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRecognizerError records a recognizer error by type.
func (m *Metrics) RecordRecognizerError(errorType string) {
	m.RecognizerErrors.WithLabelValues(errorType).Inc()
}
