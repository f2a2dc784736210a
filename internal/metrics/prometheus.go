package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ispctl"

// Collectors groups every ispctl prometheus metric. A nil *Collectors is
// valid and records nothing, so components can run without metrics.
type Collectors struct {
	reg prometheus.Gatherer

	pollCycles     prometheus.Histogram
	pollSkipped    prometheus.Counter
	routersOnline  prometheus.Gauge
	routersOffline prometheus.Gauge

	telemetryPublished   prometheus.Counter
	telemetryRejected    prometheus.Counter
	telemetrySubscribers prometheus.Gauge
	observerConnects     prometheus.Counter

	suspensionRuns  *prometheus.CounterVec
	suspensionDelta *prometheus.CounterVec
}

// New registers collectors on a fresh registry. Go and process collectors
// are included.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Collectors {
	c := &Collectors{
		reg: g,
		pollCycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "poll_cycle_seconds",
			Help:      "Duration of a full router poll cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		pollSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "poll_ticks_skipped_total",
			Help:      "Ticks dropped because a cycle was still running.",
		}),
		routersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "routers_online",
			Help:      "Routers online after the last cycle.",
		}),
		routersOffline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "routers_offline",
			Help:      "Routers offline after the last cycle.",
		}),
		telemetryPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "snapshots_published_total",
			Help:      "Telemetry snapshots accepted by the hub.",
		}),
		telemetryRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "snapshots_rejected_total",
			Help:      "Malformed telemetry payloads dropped at ingest.",
		}),
		telemetrySubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "subscribers",
			Help:      "Open telemetry subscriptions.",
		}),
		observerConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "observer_connects_total",
			Help:      "Successful observer transport dials.",
		}),
		suspensionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "suspension_runs_total",
			Help:      "Suspension runs by trigger.",
		}, []string{"trigger"}),
		suspensionDelta: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "suspension_clients_total",
			Help:      "Clients handled by suspension runs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		c.pollCycles, c.pollSkipped, c.routersOnline, c.routersOffline,
		c.telemetryPublished, c.telemetryRejected, c.telemetrySubscribers, c.observerConnects,
		c.suspensionRuns, c.suspensionDelta,
	)
	return c
}

// Handler serves the registry in the prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil || c.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collectors) ObservePollCycle(d time.Duration, online, offline int) {
	if c == nil {
		return
	}
	c.pollCycles.Observe(d.Seconds())
	c.routersOnline.Set(float64(online))
	c.routersOffline.Set(float64(offline))
}

func (c *Collectors) PollSkipped() {
	if c == nil {
		return
	}
	c.pollSkipped.Inc()
}

func (c *Collectors) TelemetryPublished() {
	if c == nil {
		return
	}
	c.telemetryPublished.Inc()
}

func (c *Collectors) TelemetryRejected() {
	if c == nil {
		return
	}
	c.telemetryRejected.Inc()
}

func (c *Collectors) SubscriberAdded(delta int) {
	if c == nil {
		return
	}
	c.telemetrySubscribers.Add(float64(delta))
}

func (c *Collectors) ObserverConnected() {
	if c == nil {
		return
	}
	c.observerConnects.Inc()
}

// SuspensionRun records one run and its per-client outcomes.
func (c *Collectors) SuspensionRun(trigger string, suspended, reactivated, skipped, errored int) {
	if c == nil {
		return
	}
	c.suspensionRuns.WithLabelValues(trigger).Inc()
	c.suspensionDelta.WithLabelValues("suspended").Add(float64(suspended))
	c.suspensionDelta.WithLabelValues("reactivated").Add(float64(reactivated))
	c.suspensionDelta.WithLabelValues("skipped").Add(float64(skipped))
	c.suspensionDelta.WithLabelValues("errored").Add(float64(errored))
}
