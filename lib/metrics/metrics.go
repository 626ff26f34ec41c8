// Package metrics provides simple metrics collection for redispool.
// Metrics are backed by the Prometheus client library and exposed in the
// Prometheus exposition format.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// DefaultLatencyBuckets are histogram buckets in seconds suited to
// connection setup and acquisition waits.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Counter is a monotonically increasing counter.
type Counter struct {
	c prometheus.Counter
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.c.Inc()
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	c.c.Add(float64(v))
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	m := &dto.Metric{}
	if err := c.c.Write(m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	g prometheus.Gauge
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	g.g.Set(float64(v))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.g.Inc()
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.g.Dec()
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	g.g.Add(float64(v))
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	m := &dto.Metric{}
	if err := g.g.Write(m); err != nil {
		return 0
	}
	return int64(m.GetGauge().GetValue())
}

// GaugeVec is a family of gauges partitioned by label values.
type GaugeVec struct {
	v *prometheus.GaugeVec
}

// With returns the gauge for the given label values, creating it on first
// use.
func (v *GaugeVec) With(values ...string) *Gauge {
	return &Gauge{g: v.v.WithLabelValues(values...)}
}

// Delete removes the gauge for the given label values. It reports whether
// one existed.
func (v *GaugeVec) Delete(values ...string) bool {
	return v.v.DeleteLabelValues(values...)
}

// Histogram tracks the distribution of values.
type Histogram struct {
	h prometheus.Histogram
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.h.Observe(v)
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	m := &dto.Metric{}
	if err := h.h.Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

// Registry holds registered metrics.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// defaultRegistry is the global metric registry.
var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.reg.MustRegister(prometheus.NewGoCollector())
	r.reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return r
}

// register adds c to the registry. Registering the same name twice returns
// the collector already registered under it.
func (r *Registry) register(c prometheus.Collector) prometheus.Collector {
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(fmt.Sprintf("metrics: register: %v", err))
	}
	return c
}

// NewCounter creates a counter in this registry.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := r.register(prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}))
	counter, ok := c.(prometheus.Counter)
	if !ok {
		panic(fmt.Sprintf("metrics: %s already registered with another type", name))
	}
	return &Counter{c: counter}
}

// NewGauge creates a gauge in this registry.
func (r *Registry) NewGauge(name, help string) *Gauge {
	c := r.register(prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
	gauge, ok := c.(prometheus.Gauge)
	if !ok {
		panic(fmt.Sprintf("metrics: %s already registered with another type", name))
	}
	return &Gauge{g: gauge}
}

// NewGaugeVec creates a labeled gauge family in this registry.
func (r *Registry) NewGaugeVec(name, help string, labels ...string) *GaugeVec {
	c := r.register(prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels))
	vec, ok := c.(*prometheus.GaugeVec)
	if !ok {
		panic(fmt.Sprintf("metrics: %s already registered with another type", name))
	}
	return &GaugeVec{v: vec}
}

// NewHistogram creates a histogram in this registry.
func (r *Registry) NewHistogram(name, help string, buckets []float64) *Histogram {
	c := r.register(prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}))
	hist, ok := c.(prometheus.Histogram)
	if !ok {
		panic(fmt.Sprintf("metrics: %s already registered with another type", name))
	}
	return &Histogram{h: hist}
}

// Handler returns an http.Handler that exposes this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// NewCounter creates a new counter metric in the default registry.
func NewCounter(name, help string) *Counter {
	return defaultRegistry.NewCounter(name, help)
}

// NewGauge creates a new gauge metric in the default registry.
func NewGauge(name, help string) *Gauge {
	return defaultRegistry.NewGauge(name, help)
}

// NewGaugeVec creates a new labeled gauge family in the default registry.
func NewGaugeVec(name, help string, labels ...string) *GaugeVec {
	return defaultRegistry.NewGaugeVec(name, help, labels...)
}

// NewHistogram creates a new histogram metric in the default registry.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return defaultRegistry.NewHistogram(name, help, buckets)
}

// Handler returns an http.Handler that exposes the default registry.
func Handler() http.Handler {
	return defaultRegistry.Handler()
}

// Default metrics for redispool
var (
	// Uptime
	StartTime = NewGauge("redispool_start_time_seconds", "Unix timestamp when the process started")

	// Rate limiting
	RateLimitRejections = NewCounter("redispool_ratelimit_rejections_total", "Total operations delayed by rate limiting")
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
