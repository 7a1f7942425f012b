package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Account related metrics
	Signups      *prometheus.CounterVec
	LoginResults *prometheus.CounterVec

	// Tenant store metrics
	TenantProvisions    *prometheus.CounterVec
	TenantProvisionTime *prometheus.HistogramVec

	// Grading metrics
	Grades             *prometheus.CounterVec
	GradingLatency     prometheus.Histogram
	RecordIDCollisions prometheus.Counter
	RecordsPersisted   prometheus.Counter

	// Messaging metrics
	EventsPublished *prometheus.CounterVec
}

// New creates all application metrics and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "Total number of signup attempts",
		}, []string{"user_type", "outcome"}),
		LoginResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Total number of login attempts",
		}, []string{"outcome"}),
		TenantProvisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_provisions_total",
			Help:      "Total number of tenant store provisioning calls",
		}, []string{"kind", "outcome"}),
		TenantProvisionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_provision_duration_seconds",
			Help:      "Time spent opening and migrating tenant stores",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"kind"}),
		Grades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grades_total",
			Help:      "Total number of simulated grades returned",
		}, []string{"grade", "classifier"}),
		GradingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grading_duration_seconds",
			Help:      "Time spent grading an uploaded image",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		RecordIDCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_id_collisions_total",
			Help:      "Generated record ids that already existed in the tenant store",
		}),
		RecordsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Grading results stored in a doctor tenant store",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the message broker",
		}, []string{"event_type", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Signups,
			m.LoginResults,
			m.TenantProvisions,
			m.TenantProvisionTime,
			m.Grades,
			m.GradingLatency,
			m.RecordIDCollisions,
			m.RecordsPersisted,
			m.EventsPublished,
		)
	}
	return m
}

// NewNop returns unregistered metrics.
func NewNop() *Metrics {
	return New("livsafe", nil)
}
