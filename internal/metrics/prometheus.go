package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors holds all prometheus metric collectors for one
// connection, per SPEC_FULL.md's domain-dependency table.
type PrometheusCollectors struct {
	InMsgs              prometheus.Counter
	OutMsgs             prometheus.Counter
	InBytes             prometheus.Counter
	OutBytes            prometheus.Counter
	Reconnects          prometheus.Counter
	PingsOutstanding    prometheus.Gauge
	SubscriptionsActive prometheus.Gauge
	Connected           prometheus.Gauge
}

// register safely registers c, returning the already-registered
// collector instead of erroring if it was registered before (e.g. a
// second Conn in the same process under the same namespace).
func register(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		return c
	}
	return c
}

// InitPrometheus initializes and registers the prometheus collectors
// under namespace, grounded on the teacher's InitPrometheus.
func InitPrometheus(namespace string) *PrometheusCollectors {
	pc := &PrometheusCollectors{}

	pc.InMsgs = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "in_msgs_total", Help: "Total messages received",
	})).(prometheus.Counter)

	pc.OutMsgs = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "out_msgs_total", Help: "Total messages published",
	})).(prometheus.Counter)

	pc.InBytes = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "in_bytes_total", Help: "Total payload bytes received",
	})).(prometheus.Counter)

	pc.OutBytes = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "out_bytes_total", Help: "Total payload bytes published",
	})).(prometheus.Counter)

	pc.Reconnects = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "reconnects_total", Help: "Total reconnect attempts",
	})).(prometheus.Counter)

	pc.PingsOutstanding = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pings_outstanding", Help: "Unacknowledged PINGs",
	})).(prometheus.Gauge)

	pc.SubscriptionsActive = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "subscriptions_active", Help: "Live subscriptions",
	})).(prometheus.Gauge)

	pc.Connected = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "connected", Help: "Connection status (1 = connected, 0 = disconnected)",
	})).(prometheus.Gauge)

	return pc
}

// Sync pushes the atomic Collector's current values into the Prometheus
// gauges, and should be called after any snapshot-worthy state change
// (the counters below are incremented directly where the event occurs,
// not re-derived from the atomic totals, to keep Prometheus Counter
// semantics monotonic).
func (p *PrometheusCollectors) Sync(c *Collector) {
	if c.IsConnected() {
		p.Connected.Set(1)
	} else {
		p.Connected.Set(0)
	}
	p.PingsOutstanding.Set(float64(c.PingsOutstanding.Load()))
	p.SubscriptionsActive.Set(float64(c.SubscriptionsActive.Load()))
}
