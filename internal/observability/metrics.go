// Package observability exposes the Prometheus instrumentation for the
// bridge. All collectors hang off an injected registerer so tests can
// use isolated registries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	AudioInBytes    prometheus.Counter
	AudioOutBytes   prometheus.Counter
	VideoFrames     prometheus.Counter
	FramesThrottled prometheus.Counter

	Interruptions         prometheus.Counter
	DiscardedAudioSeconds prometheus.Counter
	StaleChunksDropped    prometheus.Counter

	FirstResponseLatency prometheus.Histogram
	InterruptionLatency  prometheus.Histogram

	ToolCalls    *prometheus.CounterVec
	LedgerErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_sessions_active",
			Help: "Number of live tutoring sessions.",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sessions_total",
			Help: "Completed sessions by end reason.",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_session_duration_seconds",
			Help:    "Wall-clock session length.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 900, 1200},
		}),
		AudioInBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_audio_in_bytes_total",
			Help: "Microphone audio forwarded upstream.",
		}),
		AudioOutBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_audio_out_bytes_total",
			Help: "Model audio forwarded to clients.",
		}),
		VideoFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_video_frames_total",
			Help: "Camera frames forwarded upstream.",
		}),
		FramesThrottled: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_video_frames_throttled_total",
			Help: "Camera frames dropped by the rate controller.",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_interruptions_total",
			Help: "Model turns cut short by the speaker.",
		}),
		DiscardedAudioSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_discarded_audio_seconds_total",
			Help: "Buffered playback discarded on interruption.",
		}),
		StaleChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_stale_chunks_dropped_total",
			Help: "Audio chunks from interrupted generations dropped at the bridge.",
		}),
		FirstResponseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_first_response_seconds",
			Help:    "Time from session start to first model audio.",
			Buckets: prometheus.DefBuckets,
		}),
		InterruptionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_interruption_to_resume_seconds",
			Help:    "Time from an interruption to the next generation's audio.",
			Buckets: prometheus.DefBuckets,
		}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tool_calls_total",
			Help: "Tool invocations requested by the model.",
		}, []string{"tool"}),
		LedgerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_ledger_errors_total",
			Help: "Failed session ledger writes.",
		}),
	}
}
