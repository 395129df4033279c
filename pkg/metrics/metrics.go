// Package metrics declares the worker's Prometheus instrumentation
// (spec §6) as package-level promauto collectors, the same direct style
// estuary-flow's network package uses for its proxy metrics. Every name
// below is registered against the default registry on package init and
// served via promhttp.Handler() by cmd/ingestworker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_ingest_messages_total",
		Help: "Total stream messages received.",
	})

	FailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_ingest_failures_total",
		Help: "Total terminal failures by error code.",
	}, []string{"reason"})

	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_ingest_duplicates_total",
		Help: "Total duplicate_event short-circuits (kept separate from failures_total, see DESIGN.md Open Questions).",
	})

	MessagesInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_ingest_messages_inflight",
		Help: "Events currently being processed.",
	})

	AckLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_ingest_ack_latency_seconds",
		Help:    "Time from stream delivery to ack decision.",
		Buckets: []float64{0.5, 1, 2, 3, 5, 10, 30},
	})

	ValidationDurationSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "audio_ingest_validation_duration_seconds",
		Help: "Payload validation duration.",
	})

	ChecksumValidationDurationSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "audio_ingest_checksum_validation_duration_seconds",
		Help: "Checksum verification duration.",
	})

	ProcessingDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "audio_ingest_processing_duration_seconds",
		Help: "End-to-end per-event processing duration.",
	})

	NLPDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "audio_ingest_nlp_duration_seconds",
		Help: "NLP annotation duration by source.",
	}, []string{"source"})

	DownloadSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_ingest_download_size_bytes",
		Help:    "Downloaded archive size in bytes.",
		Buckets: prometheus.ExponentialBuckets(1<<16, 4, 10),
	})

	ConversationSegments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "audio_ingest_conversation_segments",
		Help: "Segment count per conversation.",
	})

	ConversationParticipants = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "audio_ingest_conversation_participants",
		Help: "Participant count per conversation.",
	})

	TraceIDPresentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_ingest_trace_id_present_total",
		Help: "Events whose envelope carried a valid trace_id.",
	})

	DLQPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_ingest_dlq_published_total",
		Help: "Records published to the dead-letter stream.",
	})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_ingest_retries_total",
		Help: "Retry attempts by reason.",
	}, []string{"reason"})

	NLPSourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_ingest_nlp_source_total",
		Help: "Completed jobs by NLP annotation source.",
	}, []string{"source"})
)

// Handler returns the promhttp handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
