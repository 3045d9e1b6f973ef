package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsite"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	buildDuration  *prom.HistogramVec
	buildOutcome   *prom.CounterVec
	documents      *prom.CounterVec
	assets         *prom.CounterVec
	renderDuration prom.Histogram
	lastBuild      *prom.GaugeVec
}

// NewPrometheusRecorder constructs the build metrics and registers them with reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of complete site builds",
			Buckets:   prom.DefBuckets,
		}, []string{"site"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Site builds by final status",
		}, []string{"site", "outcome"}),
		documents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Source documents processed by outcome",
		}, []string{"site", "outcome"}),
		assets: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "assets_copied_total",
			Help:      "Non-document files copied into the output",
		}, []string{"site"}),
		renderDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "document_render_duration_seconds",
			Help:      "Time spent turning one document into a page",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		lastBuild: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_build_timestamp_seconds",
			Help:      "Unix time of the last finished build",
		}, []string{"site"}),
	}
	reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.documents, pr.assets, pr.renderDuration, pr.lastBuild)
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(site string, d time.Duration) {
	p.buildDuration.WithLabelValues(site).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(site, outcome string) {
	p.buildOutcome.WithLabelValues(site, outcome).Inc()
}

func (p *PrometheusRecorder) IncDocument(site string, outcome DocumentOutcome) {
	p.documents.WithLabelValues(site, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncAssetCopied(site string) {
	p.assets.WithLabelValues(site).Inc()
}

func (p *PrometheusRecorder) ObserveRenderDuration(d time.Duration) {
	p.renderDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetLastBuildTimestamp(site string, t time.Time) {
	p.lastBuild.WithLabelValues(site).Set(float64(t.Unix()))
}

// HTTPHandler returns an http.Handler that serves the metrics in reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
