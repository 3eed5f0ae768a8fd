// Package metrics provides Prometheus-compatible metrics for sramprint.
//
// Features:
//   - Counters for samples loaded, capture lines skipped, runs
//   - Gauges for devices and masked bit positions
//   - Histograms for load and metric computation durations
//   - Prometheus text and JSON renderings
//   - Thread-safe operations
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = iota
	// TypeGauge is a value that can go up and down.
	TypeGauge
	// TypeHistogram is a distribution of values.
	TypeHistogram
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String returns a string representation of labels.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// NewCounter creates a new Counter.
func NewCounter(name, help string, labels Labels) *Counter {
	return &Counter{name: name, help: help, labels: labels}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	c.value.Add(v)
}

// Value returns the current value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Name returns the metric name.
func (c *Counter) Name() string {
	return c.name
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

// NewGauge creates a new Gauge.
func NewGauge(name, help string, labels Labels) *Gauge {
	return &Gauge{name: name, help: help, labels: labels}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	g.value.Add(v)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Name returns the metric name.
func (g *Gauge) Name() string {
	return g.name
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu sync.Mutex
	// counts[i] holds observations in (buckets[i-1], buckets[i]];
	// the final slot is the +Inf overflow.
	counts []uint64
	sum    float64
	count  uint64
}

// DurationBuckets are buckets for duration histograms (in seconds).
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewHistogram creates a new Histogram.
func NewHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	return &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	// First bucket whose upper bound is >= v; len(buckets) is +Inf.
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Timer returns a timer that records duration when stopped.
func (h *Histogram) Timer() *HistogramTimer {
	return &HistogramTimer{histogram: h, start: time.Now()}
}

// Name returns the metric name.
func (h *Histogram) Name() string {
	return h.name
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Count returns the count of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cumulative returns the Prometheus-style cumulative count per bucket,
// +Inf last.
func (h *Histogram) Cumulative() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cumulativeLocked()
}

func (h *Histogram) cumulativeLocked() []uint64 {
	out := make([]uint64, len(h.counts))
	var running uint64
	for i, c := range h.counts {
		running += c
		out[i] = running
	}
	return out
}

// HistogramTimer is a timer for histogram observations.
type HistogramTimer struct {
	histogram *Histogram
	start     time.Time
}

// Stop stops the timer and records the duration.
func (t *HistogramTimer) Stop() time.Duration {
	d := time.Since(t.start)
	t.histogram.ObserveDuration(d)
	return d
}

// Registry holds all registered metrics.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	namespace string
	subsystem string
}

// NewRegistry creates a new Registry.
func NewRegistry(namespace, subsystem string) *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		namespace:  namespace,
		subsystem:  subsystem,
	}
}

func (r *Registry) fullName(name string) string {
	parts := []string{}
	if r.namespace != "" {
		parts = append(parts, r.namespace)
	}
	if r.subsystem != "" {
		parts = append(parts, r.subsystem)
	}
	parts = append(parts, name)
	return strings.Join(parts, "_")
}

// RegisterCounter registers a new counter, or returns the existing one.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	fullName := r.fullName(name)
	if c, ok := r.counters[fullName]; ok {
		return c
	}
	c := NewCounter(fullName, help, labels)
	r.counters[fullName] = c
	return c
}

// RegisterGauge registers a new gauge, or returns the existing one.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	fullName := r.fullName(name)
	if g, ok := r.gauges[fullName]; ok {
		return g
	}
	g := NewGauge(fullName, help, labels)
	r.gauges[fullName] = g
	return g
}

// RegisterHistogram registers a new histogram, or returns the existing one.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	fullName := r.fullName(name)
	if h, ok := r.histograms[fullName]; ok {
		return h
	}
	h := NewHistogram(fullName, help, labels, buckets)
	r.histograms[fullName] = h
	return h
}

// GetCounter returns a counter by name.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[r.fullName(name)]
}

// GetGauge returns a gauge by name.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[r.fullName(name)]
}

// GetHistogram returns a histogram by name.
func (r *Registry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[r.fullName(name)]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WritePrometheus writes metrics in Prometheus text format, sorted by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(&b, "%s%s %d\n", c.name, c.labels.String(), c.Value())
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&b, "%s%s %d\n", g.name, g.labels.String(), g.Value())
	}

	for _, name := range sortedKeys(r.histograms) {
		h := r.histograms[name]
		h.mu.Lock()
		fmt.Fprintf(&b, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", h.name)

		labelStr := h.labels.String()
		if labelStr == "" {
			labelStr = "{"
		} else {
			labelStr = labelStr[:len(labelStr)-1] + ","
		}

		cumulative := h.cumulativeLocked()
		for i, bucket := range h.buckets {
			fmt.Fprintf(&b, "%s_bucket%sle=\"%g\"} %d\n", h.name, labelStr, bucket, cumulative[i])
		}
		fmt.Fprintf(&b, "%s_bucket%sle=\"+Inf\"} %d\n", h.name, labelStr, cumulative[len(h.buckets)])
		fmt.Fprintf(&b, "%s_sum%s %g\n", h.name, h.labels.String(), h.sum)
		fmt.Fprintf(&b, "%s_count%s %d\n", h.name, h.labels.String(), h.count)
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes metrics in JSON format.
func (r *Registry) WriteJSON(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics := make(map[string]any)
	for _, c := range r.counters {
		metrics[c.name] = map[string]any{
			"type":   TypeCounter.String(),
			"help":   c.help,
			"labels": c.labels,
			"value":  c.Value(),
		}
	}
	for _, g := range r.gauges {
		metrics[g.name] = map[string]any{
			"type":   TypeGauge.String(),
			"help":   g.help,
			"labels": g.labels,
			"value":  g.Value(),
		}
	}
	for _, h := range r.histograms {
		h.mu.Lock()
		cumulative := h.cumulativeLocked()
		bucketCounts := make(map[string]uint64, len(cumulative))
		for i, bucket := range h.buckets {
			bucketCounts[fmt.Sprintf("%g", bucket)] = cumulative[i]
		}
		bucketCounts["+Inf"] = cumulative[len(h.buckets)]

		mean := 0.0
		if h.count > 0 {
			mean = h.sum / float64(h.count)
		}
		metrics[h.name] = map[string]any{
			"type":    TypeHistogram.String(),
			"help":    h.help,
			"labels":  h.labels,
			"buckets": bucketCounts,
			"sum":     h.sum,
			"count":   h.count,
			"mean":    mean,
		}
		h.mu.Unlock()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(metrics)
}

// Snapshot returns a flat name to value map.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]any)
	for _, c := range r.counters {
		snapshot[c.name] = c.Value()
	}
	for _, g := range r.gauges {
		snapshot[g.name] = g.Value()
	}
	for _, h := range r.histograms {
		snapshot[h.name+"_sum"] = h.Sum()
		snapshot[h.name+"_count"] = h.Count()
	}
	return snapshot
}

// Reset resets all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.counters {
		c.value.Store(0)
	}
	for _, g := range r.gauges {
		g.value.Store(0)
	}
	for _, h := range r.histograms {
		h.mu.Lock()
		h.sum = 0
		h.count = 0
		for i := range h.counts {
			h.counts[i] = 0
		}
		h.mu.Unlock()
	}
}

var defaultRegistry = NewRegistry("sramprint", "")

// Default returns the default global registry.
func Default() *Registry {
	return defaultRegistry
}
