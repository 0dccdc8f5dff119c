// Package metrics exposes acquisition counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run kinds.
const (
	KindLight = "light"
	KindDark  = "dark"
)

// Dark selection results.
const (
	DarkReused   = "reused"
	DarkAcquired = "acquired"
	DarkMissing  = "missing"
)

// Metrics holds the collectors for one process. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	darks    *prometheus.CounterVec
	notices  *prometheus.CounterVec
}

// New returns a Metrics registered on its own registry, with Go runtime and
// process collectors included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xpd",
			Name:      "runs_total",
			Help:      "Runs handed to the run engine, by plan, kind and outcome.",
		}, []string{"plan", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xpd",
			Name:      "run_duration_seconds",
			Help:      "Wall time of runs that started.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
		darks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xpd",
			Name:      "dark_selections_total",
			Help:      "Dark frame decisions for light runs.",
		}, []string{"result"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xpd",
			Name:      "notices_total",
			Help:      "Advisory notices raised, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.runs, m.duration, m.darks, m.notices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun counts one engine run. elapsed is recorded only for runs that
// started.
func (m *Metrics) ObserveRun(planName, kind string, started bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case !started:
		outcome = "not_started"
	case err != nil:
		outcome = "failed"
	}
	m.runs.WithLabelValues(planName, kind, outcome).Inc()
	if started {
		m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// ObserveDark counts one dark decision.
func (m *Metrics) ObserveDark(result string) {
	if m == nil {
		return
	}
	m.darks.WithLabelValues(result).Inc()
}

// ObserveNotice counts one advisory notice.
func (m *Metrics) ObserveNotice(kind string) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(kind).Inc()
}
