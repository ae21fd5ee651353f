package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinichat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Store metrics
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinichat_conversations_created_total",
			Help: "Total conversations created",
		},
	)

	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_messages_created_total",
			Help: "Total messages created",
		},
		[]string{"sender_role", "kind"}, // kind: "text" or "audio_placeholder"
	)

	AudioUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_audio_uploads_total",
			Help: "Audio upload attempts by outcome",
		},
		[]string{"outcome"},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinichat_search_queries_total",
			Help: "Total search queries",
		},
	)

	SummariesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_summaries_total",
			Help: "Summary generations by outcome",
		},
		[]string{"outcome"},
	)

	// Translation worker metrics
	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_translations_total",
			Help: "Translation attempts by outcome",
		},
		[]string{"outcome"},
	)

	TranslationLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinichat_translation_lag_seconds",
			Help:    "Delay between message creation and its translation",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Notification metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinichat_websocket_connections",
			Help: "Open websocket notification connections",
		},
	)

	// Client core metrics
	SyncTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_sync_ticks_total",
			Help: "Synchronizer ticks by outcome",
		},
		[]string{"outcome"}, // "ok", "failed", "skipped", "discarded"
	)

	VoiceSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinichat_voice_sends_total",
			Help: "Two-phase voice sends by outcome",
		},
		[]string{"outcome"}, // "linked", "phase1_failed", "partial_commit", "abandoned"
	)
)
