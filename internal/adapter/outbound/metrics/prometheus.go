// Package metrics exposes aggregation measurements in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i2y/oasgate/internal/domain"
)

const namespace = "oasgate"

// Outcome label values for oasgate_source_fetch_total.
const (
	OutcomeSuccess     = "success"
	OutcomeUnreachable = "unreachable"
	OutcomeMalformed   = "malformed"
)

// Recorder implements usecase.MetricsRecorder on a dedicated registry.
type Recorder struct {
	registry *prometheus.Registry

	fetchTotal          *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	aggregationDuration prometheus.Histogram
	failedSources       prometheus.Gauge
	configuredSources   prometheus.Gauge
}

// NewRecorder creates a Recorder whose registry also carries the Go and
// process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		fetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetch_total",
				Help:      "Total number of source description fetches",
			},
			[]string{"source", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Duration of source description fetches, retries included",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"source"},
		),
		aggregationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of complete aggregation runs",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		failedSources: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "aggregation_failed_sources",
				Help:      "Number of sources skipped by the most recent aggregation run",
			},
		),
		configuredSources: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "aggregation_configured_sources",
				Help:      "Number of sources configured for aggregation",
			},
		),
	}
}

// ObserveFetch records one source fetch. code is empty on success.
func (r *Recorder) ObserveFetch(source string, code domain.ErrorCode, duration time.Duration) {
	r.fetchTotal.WithLabelValues(source, outcome(code)).Inc()
	r.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveAggregation records one completed run.
func (r *Recorder) ObserveAggregation(duration time.Duration, sources, failed int) {
	r.aggregationDuration.Observe(duration.Seconds())
	r.configuredSources.Set(float64(sources))
	r.failedSources.Set(float64(failed))
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func outcome(code domain.ErrorCode) string {
	switch code {
	case "":
		return OutcomeSuccess
	case domain.ErrCodeSourceMalformed:
		return OutcomeMalformed
	default:
		return OutcomeUnreachable
	}
}
