// Package observability provides the Prometheus instruments and the admin
// HTTP surface of the narration service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcome label values.
const (
	RunOutcomeOK     = "ok"
	RunOutcomeFailed = "failed"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid: every recording method is a no-op on it, so the pipeline
// can run unmetered in tests and in the CLI.
type Metrics struct {
	NarrationsTotal   *prometheus.CounterVec
	NarrationSeconds  prometheus.Histogram
	ChunksSynthesized prometheus.Counter
	Regenerations     prometheus.Counter
	QualityFailures   *prometheus.CounterVec
	ChunksBelowTarget prometheus.Counter
	Crossfades        *prometheus.CounterVec
	UsageTokens       prometheus.Counter
}

// NewMetrics registers all instruments under the given namespace on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		NarrationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrations_total",
			Help:      "Narration runs by outcome.",
		}, []string{"outcome"}),
		NarrationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "narration_duration_seconds",
			Help:      "Wall-clock duration of one narration run in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ChunksSynthesized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_synthesized_total",
			Help:      "Text chunks rendered to audio, including regenerated ones.",
		}),
		Regenerations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_regenerations_total",
			Help:      "Generation attempts consumed beyond each chunk's first try.",
		}),
		QualityFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_check_failures_total",
			Help:      "Quality control check failures by check name.",
		}, []string{"check"}),
		ChunksBelowTarget: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_below_quality_total",
			Help:      "Chunks accepted with their best attempt still failing quality control.",
		}),
		Crossfades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossfades_total",
			Help:      "Stitch boundary crossfades by fade curve.",
		}, []string{"curve"}),
		UsageTokens: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_usage_tokens_total",
			Help:      "Tokens reported by the generation engine across all attempts.",
		}),
	}
}

// RecordRun records one finished narration run.
func (m *Metrics) RecordRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.NarrationsTotal.WithLabelValues(outcome).Inc()
	m.NarrationSeconds.Observe(elapsed.Seconds())
}

// RecordChunkSynthesized records one engine generation call that returned audio.
func (m *Metrics) RecordChunkSynthesized() {
	if m == nil {
		return
	}

	m.ChunksSynthesized.Inc()
}

// RecordRegeneration records one retry attempt for a failed chunk.
func (m *Metrics) RecordRegeneration() {
	if m == nil {
		return
	}

	m.Regenerations.Inc()
}

// RecordQualityFailure records one failed quality control check.
func (m *Metrics) RecordQualityFailure(check string) {
	if m == nil {
		return
	}

	m.QualityFailures.WithLabelValues(check).Inc()
}

// RecordChunkBelowTarget records a chunk accepted with a failing best attempt.
func (m *Metrics) RecordChunkBelowTarget() {
	if m == nil {
		return
	}

	m.ChunksBelowTarget.Inc()
}

// RecordCrossfade records one applied stitch crossfade.
func (m *Metrics) RecordCrossfade(curve string) {
	if m == nil {
		return
	}

	m.Crossfades.WithLabelValues(curve).Inc()
}

// RecordUsageTokens adds engine-reported token usage.
func (m *Metrics) RecordUsageTokens(tokens int) {
	if m == nil || tokens <= 0 {
		return
	}

	m.UsageTokens.Add(float64(tokens))
}

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
