// Package metrics provides Prometheus metrics for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxturn"

// Metrics holds all Prometheus instruments. Components that receive a nil
// *Metrics simply skip instrumentation, which keeps tests registry-free.
type Metrics struct {
	// Session/window metrics
	SegmentsCommitted prometheus.Counter
	WindowRestarts    *prometheus.CounterVec
	WindowSegments    prometheus.Gauge
	EngineErrors      prometheus.Counter

	// Token source metrics
	TokenBatchesPartial prometheus.Counter
	TokenBatchesFinal   prometheus.Counter

	// Audio metrics
	AudioBytesCaptured prometheus.Counter

	// Diarization metrics
	DiarizationRuns     prometheus.Counter
	DiarizationFailures prometheus.Counter
	SpeakersDetected    prometheus.Gauge
}

// Default is the process-wide metrics instance, registered against the
// default Prometheus registry.
var Default = newMetrics(prometheus.DefaultRegisterer)

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SegmentsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_committed_total",
			Help:      "Transcript segments moved into permanent history",
		}),
		WindowRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_restarts_total",
			Help:      "Recognition window commits by reason",
		}, []string{"reason"}),
		WindowSegments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_segments",
			Help:      "Uncommitted segments in the current window",
		}),
		EngineErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Non-recoverable engine errors swallowed in degraded mode",
		}),
		TokenBatchesPartial: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_batches_partial_total",
			Help:      "Partial result callbacks received from the engine",
		}),
		TokenBatchesFinal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_batches_final_total",
			Help:      "Final result callbacks received from the engine",
		}),
		AudioBytesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Raw PCM bytes read from the microphone",
		}),
		DiarizationRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarization_runs_total",
			Help:      "Batch speaker detection passes",
		}),
		DiarizationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarization_failures_total",
			Help:      "Batch speaker detection passes that failed",
		}),
		SpeakersDetected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speakers_detected",
			Help:      "Distinct speakers found in the most recent diarization pass",
		}),
	}
}
