package runtime

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	opened      prometheus.Counter
	closed      *prometheus.CounterVec
	active      prometheus.Gauge
	annotations *prometheus.CounterVec
	wrapped     prometheus.Counter
	empty       prometheus.Counter
	load        prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "annotree", Name: "sessions_opened_total",
			Help: "Annotation sessions opened.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annotree", Name: "sessions_closed_total",
			Help: "Annotation sessions closed, by outcome.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "annotree", Name: "sessions_active",
			Help: "Sessions currently holding a document lease.",
		}),
		annotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annotree", Name: "annotations_total",
			Help: "Annotations submitted, by type.",
		}, []string{"type"}),
		wrapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "annotree", Name: "elements_wrapped_total",
			Help: "Leaf elements wrapped in Annotate tags.",
		}),
		empty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "annotree", Name: "annotations_empty_total",
			Help: "Annotations that covered no element.",
		}),
		load: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "annotree", Name: "load_seconds",
			Help:    "Time to fetch, convert and prune a source document.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	m.registry.MustRegister(m.opened, m.closed, m.active, m.annotations, m.wrapped, m.empty, m.load)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.opened.Inc()
	m.active.Inc()
}

func (m *Metrics) SessionClosed(outcome string) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(outcome).Inc()
	m.active.Dec()
}

func (m *Metrics) AnnotationApplied(kind string, wrapped int, covered int) {
	if m == nil {
		return
	}
	m.annotations.WithLabelValues(kind).Inc()
	m.wrapped.Add(float64(wrapped))
	if covered == 0 {
		m.empty.Inc()
	}
}

func (m *Metrics) ObserveLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.load.Observe(d.Seconds())
}
