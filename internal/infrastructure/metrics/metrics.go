// Package metrics exposes Gatekeeper counters and gauges in Prometheus
// format.
//
// A Collector owns its own registry so tests can build one per case. It
// implements auth.Observer and reconcile.SweepObserver, and the API gate
// reports decisions to it directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/reconcile"
)

const namespace = "gatekeeper"

// Gate outcomes.
const (
	OutcomeAllowed      = "allowed"
	OutcomeBadRequest   = "bad_request"
	OutcomeNotLoggedIn  = "not_logged_in"
	OutcomeInsufficient = "insufficient_level"
	OutcomeBadToken     = "bad_token"
	OutcomeError        = "error"
)

// Login results.
const (
	LoginOpened      = "opened"
	LoginExtended    = "extended"
	LoginBadPassword = "bad_password"
	LoginUnknownUser = "unknown_user"
	LoginError       = "error"
)

// Collector holds every Gatekeeper metric.
type Collector struct {
	registry *prometheus.Registry

	gateDecisions  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	sessionEvents  *prometheus.CounterVec
	sweeps         prometheus.Counter
	sweepRows      *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	registryGauges *prometheus.GaugeVec
}

// RegistrySource reports registry totals at scrape time.
type RegistrySource interface {
	Snapshot() auth.Counts
}

// New creates a Collector with Go runtime and process collectors
// registered alongside the service metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Authentication gate decisions by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle transitions by event.",
		}, []string{"event"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed reconciliation sweeps.",
		}),
		sweepRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_rows_total",
			Help:      "Session rows handled by the sweeper, by action.",
		}, []string{"action"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one reconciliation sweep.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		registryGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_sessions",
			Help:      "Registry entries by cached status.",
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.gateDecisions,
		c.logins,
		c.sessionEvents,
		c.sweeps,
		c.sweepRows,
		c.sweepDuration,
		c.registryGauges,
	)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the exposition format for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// GateDecision counts one gate outcome.
func (c *Collector) GateDecision(outcome string) {
	c.gateDecisions.WithLabelValues(outcome).Inc()
}

// Login counts one login attempt.
func (c *Collector) Login(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// SessionEvent implements auth.Observer.
func (c *Collector) SessionEvent(ev auth.SessionEvent) {
	c.sessionEvents.WithLabelValues(string(ev.Kind)).Inc()
}

// SweepCompleted implements reconcile.SweepObserver.
func (c *Collector) SweepCompleted(r reconcile.Result) {
	c.sweeps.Inc()
	c.sweepRows.WithLabelValues("deleted").Add(float64(r.Deleted))
	c.sweepRows.WithLabelValues("orphaned").Add(float64(r.Orphans))
	c.sweepRows.WithLabelValues("reaffirmed").Add(float64(r.Reaffirmed))
	c.sweepRows.WithLabelValues("failed").Add(float64(r.Failures))
	c.sweepDuration.Observe(r.Duration.Seconds())
}

// ObserveRegistry sets the registry gauges from src.
func (c *Collector) ObserveRegistry(src RegistrySource) {
	counts := src.Snapshot()
	c.registryGauges.WithLabelValues("active").Set(float64(counts.Active))
	c.registryGauges.WithLabelValues("expired").Set(float64(counts.Expired))
}

// TrackRegistry refreshes the registry gauges every interval until stop
// is closed.
func (c *Collector) TrackRegistry(src RegistrySource, interval time.Duration, stop <-chan struct{}) {
	c.ObserveRegistry(src)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ObserveRegistry(src)
		case <-stop:
			return
		}
	}
}
