package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcomes used as the "outcome" label.
const (
	OutcomeBooked      = "booked"
	OutcomeInvalid     = "invalid_request"
	OutcomeDuplicate   = "duplicate"
	OutcomeNotFound    = "not_found"
	OutcomeNoSchedule  = "no_schedule"
	OutcomeSlotFull    = "slot_full"
	OutcomeConflict    = "conflict"
	OutcomeStoreFailed = "store_failure"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	BookingAttempts *prometheus.CounterVec
	BookingDuration prometheus.Histogram
	SlotsExhausted  prometheus.Counter

	AuditRuns       prometheus.Counter
	AuditViolations *prometheus.CounterVec
}

// NewCollector registers all collectors on a private registry so tests can
// build as many collectors as they like.
func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		BookingAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),

		BookingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "duration_seconds",
			Help:      "Latency of one booking transaction, including lock waits.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SlotsExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "booking",
			Name:      "slots_exhausted_total",
			Help:      "Slot occurrences whose last seat was taken.",
		}),

		AuditRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auditor",
			Name:      "runs_total",
			Help:      "Completed slot audit runs.",
		}),

		AuditViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auditor",
			Name:      "violations_total",
			Help:      "Invariant violations found by the slot auditor. Alert if non-zero.",
		}, []string{"kind"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
