package metrics

import (
	"context"
	"net/http"

	auth "github.com/goliatone/go-church-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ auth.ActivitySink = (*Collector)(nil)

// Collector records session activity as Prometheus metrics. It is an
// auth.ActivitySink and can also listen on the auth failure bus.
type Collector struct {
	Events       *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
	Status       *prometheus.GaugeVec
}

// NewCollector registers the session metrics on registry.
func NewCollector(registry prometheus.Registerer) *Collector {
	factory := promauto.With(registry)

	c := &Collector{
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "church_admin_session_events_total",
				Help: "Total number of session activity events",
			},
			[]string{"event"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "church_admin_session_transitions_total",
				Help: "Total number of session status transitions",
			},
			[]string{"from", "to"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "church_admin_auth_failures_total",
				Help: "Total number of auth failure signals by source",
			},
			[]string{"source"},
		),
		Status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "church_admin_session_status",
				Help: "Current session status (1 for the active status)",
			},
			[]string{"status"},
		),
	}

	for _, status := range auth.AllSessionStatuses() {
		c.Status.WithLabelValues(string(status)).Set(0)
	}
	c.Status.WithLabelValues(string(auth.StatusUnhydrated)).Set(1)

	return c
}

// NewRegistry creates a private registry with a collector on it.
func NewRegistry() (*prometheus.Registry, *Collector) {
	reg := prometheus.NewRegistry()
	return reg, NewCollector(reg)
}

// Record implements auth.ActivitySink.
func (c *Collector) Record(_ context.Context, event auth.ActivityEvent) error {
	c.Events.WithLabelValues(string(event.EventType)).Inc()

	if event.FromStatus != "" && event.ToStatus != "" && event.FromStatus != event.ToStatus {
		c.Transitions.WithLabelValues(string(event.FromStatus), string(event.ToStatus)).Inc()
	}

	if event.ToStatus != "" {
		for _, status := range auth.AllSessionStatuses() {
			value := 0.0
			if status == event.ToStatus {
				value = 1
			}
			c.Status.WithLabelValues(string(status)).Set(value)
		}
	}
	return nil
}

// ObserveAuthFailure is an auth.AuthFailureListener.
func (c *Collector) ObserveAuthFailure(_ context.Context, failure auth.AuthFailure) {
	source := failure.Source
	if source == "" {
		source = "unknown"
	}
	c.AuthFailures.WithLabelValues(source).Inc()
}

// HandlerFor returns an HTTP handler exposing reg.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
