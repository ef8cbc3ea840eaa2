package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion and aggregation path.
type Metrics struct {
	ReportsIngested    prometheus.Counter
	ValidationFailures prometheus.Counter

	// Aggregation metrics.
	HotspotsCreated prometheus.Counter
	HotspotsUpdated prometheus.Counter
	AbsorbConflicts prometheus.Counter
	AbsorbDuration  prometheus.Histogram

	// Change-notification metrics.
	NotificationsPublished *prometheus.CounterVec // labels: type={report_created,hotspot_updated}
	NotificationFailures   prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "reports_ingested_total",
			Help:      "Total reports accepted, persisted, and aggregated.",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "validation_failures_total",
			Help:      "Total submissions rejected before persistence.",
		}),
		HotspotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "hotspots_created_total",
			Help:      "Total hotspots founded by reports with no neighbor in range.",
		}),
		HotspotsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "hotspots_updated_total",
			Help:      "Total absorptions into an existing hotspot.",
		}),
		AbsorbConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "absorb_conflicts_total",
			Help:      "Concurrent-update races detected during absorb (each one retried).",
		}),
		AbsorbDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "noise_hotspot",
			Name:      "absorb_duration_seconds",
			Help:      "Duration of the find-or-create-or-update absorb operation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		NotificationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "notifications_published_total",
			Help:      "Change notifications published to the events topic, by type.",
		}, []string{"type"}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noise_hotspot",
			Name:      "notification_failures_total",
			Help:      "Change notifications that failed to publish.",
		}),
	}

	prometheus.MustRegister(
		m.ReportsIngested,
		m.ValidationFailures,
		m.HotspotsCreated,
		m.HotspotsUpdated,
		m.AbsorbConflicts,
		m.AbsorbDuration,
		m.NotificationsPublished,
		m.NotificationFailures,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReportsIngested:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "reports_ingested_total"}),
		ValidationFailures:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "validation_failures_total"}),
		HotspotsCreated:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "hotspots_created_total"}),
		HotspotsUpdated:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "hotspots_updated_total"}),
		AbsorbConflicts:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "absorb_conflicts_total"}),
		AbsorbDuration:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "noise_hotspot", Name: "absorb_duration_seconds"}),
		NotificationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "notifications_published_total"}, []string{"type"}),
		NotificationFailures:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "noise_hotspot", Name: "notification_failures_total"}),
	}
}
