// Package telemetry exposes the sync layer's metrics. Every metric is a no-op until
// Register is called, so library users that don't scrape pay nothing.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

type CounterVec interface {
	With(labels ...string) Counter
}

type NoopStat struct{}

func (NoopStat) Inc()        {}
func (NoopStat) Dec()        {}
func (NoopStat) Add(float64) {}
func (NoopStat) Set(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

var (
	// ActiveSubscriptions is the number of live underlying remote subscriptions.
	ActiveSubscriptions Gauge = NoopStat{}

	// AttachedCallbacks is the number of registered subscriber callbacks.
	AttachedCallbacks Gauge = NoopStat{}

	// SubscriptionStarts counts underlying subscription starts by kind (doc, ids, query).
	SubscriptionStarts CounterVec = noopCounterVec{}

	// Deliveries counts snapshots fanned out to callbacks.
	Deliveries Counter = NoopStat{}

	// DroppedDeliveries counts pushes dropped because no callback was attached.
	DroppedDeliveries Counter = NoopStat{}

	// RemoteErrors counts failed store operations by op.
	RemoteErrors CounterVec = noopCounterVec{}
)

var (
	registry *prometheus.Registry
	once     sync.Once
)

const namespace = "firestorm"

// Register swaps the no-op metrics for prometheus ones. Safe to call more than once.
func Register() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		active := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_subscriptions",
			Help: "Live underlying remote subscriptions",
		})
		callbacks := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "attached_callbacks",
			Help: "Registered subscriber callbacks",
		})
		starts := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "subscription_starts_total",
			Help: "Underlying subscription starts by kind",
		}, []string{"kind"})
		deliveries := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Snapshots fanned out to callbacks",
		})
		dropped := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_deliveries_total",
			Help: "Pushes dropped with no attached callback",
		})
		remote := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_errors_total",
			Help: "Failed store operations by op",
		}, []string{"op"})

		registry.MustRegister(active, callbacks, starts, deliveries, dropped, remote)

		ActiveSubscriptions = active
		AttachedCallbacks = callbacks
		SubscriptionStarts = &prometheusCounterVec{vec: starts}
		Deliveries = deliveries
		DroppedDeliveries = dropped
		RemoteErrors = &prometheusCounterVec{vec: remote}
	})
}

// Handler serves the registered metrics. It returns 404 until Register is called.
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
