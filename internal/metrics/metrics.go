// Package metrics owns the prometheus registry for the asset pipeline.
// A private registry keeps collector registration explicit and lets tests
// run several instances in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	bundleHits      *prometheus.CounterVec
	bundleMisses    *prometheus.CounterVec
	synthDuration   *prometheus.HistogramVec
	missingInputs   prometheus.Counter
	remoteHits      prometheus.Counter
	remoteErrors    prometheus.Counter
	rendersTotal    prometheus.Counter
	renderEntries   *prometheus.HistogramVec
	fontFetchTotal  *prometheus.CounterVec
	buildInfo       *prometheus.GaugeVec
	bundlingEnabled prometheus.Gauge
}

// New returns a fresh registry with go/process collectors plus the
// pipeline's own instruments.
func New() *PipelineMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &PipelineMetrics{
		bundleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_cache_hits_total",
			Help: "Bundle cache lookups satisfied by an existing artifact",
		}, []string{"kind"}),
		bundleMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bundle_cache_misses_total",
			Help: "Bundle cache lookups that required synthesis",
		}, []string{"kind"}),
		synthDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bundle_synthesis_duration_seconds",
			Help:    "Time spent synthesizing a bundle artifact",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		missingInputs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bundle_missing_inputs_total",
			Help: "Source files skipped during synthesis because they were missing",
		}),
		remoteHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bundle_remote_hits_total",
			Help: "Bundle cache misses satisfied by the remote mirror",
		}),
		remoteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bundle_remote_errors_total",
			Help: "Remote mirror fetch or upload failures (non-fatal)",
		}),
		rendersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renders_finalized_total",
			Help: "Render cycles that reached Finalize",
		}),
		renderEntries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "render_entries",
			Help:    "Queued asset entries per position at finalize time",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"position"}),
		fontFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "font_stylesheet_fetches_total",
			Help: "Remote font stylesheet fetches by outcome",
		}, []string{"outcome"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "go_version"}),
		bundlingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bundling_enabled",
			Help: "Whether bundle merging is active (1) or disabled (0)",
		}),
	}

	reg.MustRegister(
		m.bundleHits,
		m.bundleMisses,
		m.synthDuration,
		m.missingInputs,
		m.remoteHits,
		m.remoteErrors,
		m.rendersTotal,
		m.renderEntries,
		m.fontFetchTotal,
		m.buildInfo,
		m.bundlingEnabled,
	)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *PipelineMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the underlying registry for test gathering.
func (m *PipelineMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *PipelineMetrics) IncBundleHit(kind string)  { m.bundleHits.WithLabelValues(kind).Inc() }
func (m *PipelineMetrics) IncBundleMiss(kind string) { m.bundleMisses.WithLabelValues(kind).Inc() }

func (m *PipelineMetrics) ObserveSynthesis(kind string, d time.Duration) {
	m.synthDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncMissingInput() { m.missingInputs.Inc() }
func (m *PipelineMetrics) IncRemoteHit()    { m.remoteHits.Inc() }
func (m *PipelineMetrics) IncRemoteError()  { m.remoteErrors.Inc() }

func (m *PipelineMetrics) IncRenderFinalized() { m.rendersTotal.Inc() }

func (m *PipelineMetrics) ObserveRenderEntries(position string, n int) {
	m.renderEntries.WithLabelValues(position).Observe(float64(n))
}

func (m *PipelineMetrics) IncFontFetch(outcome string) {
	m.fontFetchTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) SetBundlingEnabled(on bool) {
	if on {
		m.bundlingEnabled.Set(1)
	} else {
		m.bundlingEnabled.Set(0)
	}
}

// SetBuildInfo publishes build metadata as a constant gauge.
func (m *PipelineMetrics) SetBuildInfo(app, version, commit, goVersion string) {
	m.buildInfo.WithLabelValues(app, version, commit, goVersion).Set(1)
}
