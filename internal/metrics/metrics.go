// Package metrics provides collection and reporting of client metrics.
package metrics

import (
	"sync/atomic"
)

// Collector holds the atomic counters a connection updates on the hot
// path, mirrored into Prometheus gauges/counters by PrometheusCollectors
// once EnablePrometheus is called.
type Collector struct {
	Connected           atomic.Bool
	Reconnects          atomic.Uint64
	InMsgs              atomic.Uint64
	OutMsgs             atomic.Uint64
	InBytes             atomic.Uint64
	OutBytes            atomic.Uint64
	PingsOutstanding    atomic.Int64
	SubscriptionsActive atomic.Int64

	prom *PrometheusCollectors
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// EnablePrometheus registers this collector's Prometheus counters and
// gauges under namespace, grounded on the teacher's InitPrometheus +
// promhttp.Handler() export (core/internal/proxy/proxy.go:633). Every
// subsequent counter/gauge update on m is mirrored into the registered
// collectors.
func (m *Collector) EnablePrometheus(namespace string) {
	m.prom = InitPrometheus(namespace)
}

func (m *Collector) SetConnected(connected bool) {
	m.Connected.Store(connected)
	if m.prom != nil {
		m.prom.Sync(m)
	}
}
func (m *Collector) IsConnected() bool { return m.Connected.Load() }

func (m *Collector) IncrementReconnects() {
	m.Reconnects.Add(1)
	if m.prom != nil {
		m.prom.Reconnects.Inc()
	}
}

func (m *Collector) AddInMsg(bytes int) {
	m.InMsgs.Add(1)
	m.InBytes.Add(uint64(bytes))
	if m.prom != nil {
		m.prom.InMsgs.Inc()
		m.prom.InBytes.Add(float64(bytes))
	}
}

func (m *Collector) AddOutMsg(bytes int) {
	m.OutMsgs.Add(1)
	m.OutBytes.Add(uint64(bytes))
	if m.prom != nil {
		m.prom.OutMsgs.Inc()
		m.prom.OutBytes.Add(float64(bytes))
	}
}

func (m *Collector) SetPingsOutstanding(n int) {
	m.PingsOutstanding.Store(int64(n))
	if m.prom != nil {
		m.prom.Sync(m)
	}
}

func (m *Collector) IncrementSubscriptions() {
	m.SubscriptionsActive.Add(1)
	if m.prom != nil {
		m.prom.Sync(m)
	}
}
func (m *Collector) DecrementSubscriptions() {
	m.SubscriptionsActive.Add(-1)
	if m.prom != nil {
		m.prom.Sync(m)
	}
}

// Snapshot is a point-in-time view of the collector, for diagnostics.
type Snapshot struct {
	Connected           bool   `json:"connected"`
	Reconnects          uint64 `json:"reconnects"`
	InMsgs              uint64 `json:"in_msgs"`
	OutMsgs             uint64 `json:"out_msgs"`
	InBytes             uint64 `json:"in_bytes"`
	OutBytes            uint64 `json:"out_bytes"`
	PingsOutstanding    int64  `json:"pings_outstanding"`
	SubscriptionsActive int64  `json:"subscriptions_active"`
}

func (m *Collector) Snapshot() Snapshot {
	return Snapshot{
		Connected:           m.IsConnected(),
		Reconnects:          m.Reconnects.Load(),
		InMsgs:              m.InMsgs.Load(),
		OutMsgs:             m.OutMsgs.Load(),
		InBytes:             m.InBytes.Load(),
		OutBytes:            m.OutBytes.Load(),
		PingsOutstanding:    m.PingsOutstanding.Load(),
		SubscriptionsActive: m.SubscriptionsActive.Load(),
	}
}

// Reset resets all metrics to zero values.
func (m *Collector) Reset() {
	m.Connected.Store(false)
	m.Reconnects.Store(0)
	m.InMsgs.Store(0)
	m.OutMsgs.Store(0)
	m.InBytes.Store(0)
	m.OutBytes.Store(0)
	m.PingsOutstanding.Store(0)
	m.SubscriptionsActive.Store(0)
	if m.prom != nil {
		m.prom.Sync(m)
	}
}
