// Package metrics implements the optional Prometheus-text metrics
// endpoint (spec.md §6.8): bytes_sent_total, bytes_read_total,
// acks_received_total, ack_wait_blocks_total, reconnect_total.
//
// Adapted from the teacher's pkg/analytics/metrics.go + prometheus.go:
// the teacher hand-rolls its own Prometheus text formatter rather than
// importing client_golang, so this package follows the same precedent
// instead of reaching for the official client library.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// MetricType distinguishes counters from gauges in the exposition output.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
)

func (t MetricType) String() string {
	if t == MetricTypeGauge {
		return "gauge"
	}
	return "counter"
}

// Counter is a monotonically increasing named metric.
type Counter struct {
	name  string
	help  string
	value atomic.Uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { c.value.Add(n) }

// Value returns the counter's current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// SetAbsolute overwrites the counter with an externally-tracked total,
// for metrics mirrored from another package's own atomic counter rather
// than incremented locally.
func (c *Counter) SetAbsolute(v uint64) { c.value.Store(v) }

// Gauge is a named metric that can move in either direction.
type Gauge struct {
	name  string
	help  string
	value atomic.Uint64
}

// Set records the gauge's current value.
func (g *Gauge) Set(v uint64) { g.value.Store(v) }

// Value returns the gauge's current value.
func (g *Gauge) Value() uint64 { return g.value.Load() }

// Metric is one named value ready for text exposition.
type Metric struct {
	Name  string
	Help  string
	Type  MetricType
	Value uint64
}

// Registry holds every named counter/gauge this publisher exposes.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter returns the named counter, creating it with help on first use.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns the named gauge, creating it with help on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Snapshot returns every registered metric, sorted by name for
// deterministic exposition order.
func (r *Registry) Snapshot() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics := make([]Metric, 0, len(r.counters)+len(r.gauges))
	for _, c := range r.counters {
		metrics = append(metrics, Metric{Name: c.name, Help: c.help, Type: MetricTypeCounter, Value: c.value.Load()})
	}
	for _, g := range r.gauges {
		metrics = append(metrics, Metric{Name: g.name, Help: g.help, Type: MetricTypeGauge, Value: g.value.Load()})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics
}
