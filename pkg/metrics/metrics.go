// Package metrics provides Prometheus metrics for streaming sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emo"

// Metrics holds the collectors for one registry.
type Metrics struct {
	// Connection metrics
	Connects        *prometheus.CounterVec
	Reconnects      prometheus.Counter
	ConnectionState prometheus.Gauge

	// Outbound media
	ChunksSent    *prometheus.CounterVec
	ChunksDropped *prometheus.CounterVec
	BytesSent     *prometheus.CounterVec

	// Inbound messages
	EventsReceived *prometheus.CounterVec
	DecodeErrors   prometheus.Counter

	// Playback
	SegmentsPlayed      *prometheus.CounterVec
	PlaybackInterrupts  prometheus.Counter
	MicChunksSuppressed prometheus.Counter

	// Transcript sink
	PublishTotal  *prometheus.CounterVec
	PublishErrors prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Automatic reconnect attempts after a remote close",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 open, 3 closing)",
		}),

		ChunksSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Media chunks sent by kind",
		}, []string{"kind"}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Media chunks dropped by reason",
		}, []string{"reason"}),
		BytesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Raw media bytes sent by kind",
		}, []string{"kind"}),

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Classified inbound events by kind",
		}, []string{"kind"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped as malformed",
		}),

		SegmentsPlayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_played_total",
			Help:      "Assistant audio segments played by result",
		}, []string{"result"}),
		PlaybackInterrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interrupts_total",
			Help:      "Playback interruptions",
		}),
		MicChunksSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mic_chunks_suppressed_total",
			Help:      "Microphone chunks withheld while assistant audio played",
		}),

		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_published_total",
			Help:      "Speech turns published to the transcript sink by role",
		}, []string{"role"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_publish_errors_total",
			Help:      "Failed transcript publishes",
		}),
	}
}

// NewUnregistered returns collectors bound to a private registry, for
// components constructed without one.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the metrics in gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
