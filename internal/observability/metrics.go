package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	EventsDispatched  *prometheus.CounterVec
	TransformsTotal   *prometheus.CounterVec
	TransformDuration prometheus.Histogram
	ActiveSessions    prometheus.Gauge
	ArtifactBytes     prometheus.Gauge
	ArtifactFiles     prometheus.Gauge
	ArtifactsSwept    prometheus.Counter
}

// NewMetrics registers all instruments on reg. Tests pass a fresh
// registry; main passes prometheus.DefaultRegisterer so promhttp serves
// them.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound conversation events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		TransformsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transforms_total",
			Help:      "Document transforms by operation and outcome.",
		}, []string{"operation", "outcome"}),
		TransformDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Wall time of document transform calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live conversation sessions.",
		}),
		ArtifactBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Total bytes held in the artifact working directory.",
		}),
		ArtifactFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_files",
			Help:      "Number of files held in the artifact working directory.",
		}),
		ArtifactsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_swept_total",
			Help:      "Artifacts removed by the background janitor.",
		}),
	}
}

func (m *Metrics) ObserveTransform(operation string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TransformsTotal.WithLabelValues(operation, outcome).Inc()
	m.TransformDuration.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
