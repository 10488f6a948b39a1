// Package metrics is a small Prometheus-text-format collector. It keeps
// the bot free of the client_golang dependency tree while staying
// scrapeable.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector scraped at /metrics.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters and histograms. Registration
// order is preserved so the exposition output is stable between scrapes.
type MetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	order      []string
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter, optionally labelled.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }

func (c *Counter) Add(n int64) { c.value.Add(n) }

func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name and label set.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	c.order = append(c.order, key)
	return ctr
}

// Histogram returns or creates a histogram with the given buckets.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	c.histograms[key] = h
	c.order = append(c.order, key)
	return h
}

// Handler renders the Prometheus text exposition format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP cedbot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE cedbot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "cedbot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

		c.mu.Lock()
		keys := append([]string(nil), c.order...)
		c.mu.Unlock()

		helpWritten := make(map[string]bool)
		for _, key := range keys {
			c.mu.Lock()
			ctr := c.counters[key]
			h := c.histograms[key]
			c.mu.Unlock()

			switch {
			case ctr != nil:
				writeCounter(&sb, ctr, helpWritten)
			case h != nil:
				writeHistogram(&sb, h)
			}
		}

		fmt.Fprint(w, sb.String())
	}
}

func writeCounter(sb *strings.Builder, ctr *Counter, helpWritten map[string]bool) {
	if !helpWritten[ctr.name] {
		fmt.Fprintf(sb, "# HELP %s %s\n", ctr.name, ctr.help)
		fmt.Fprintf(sb, "# TYPE %s counter\n", ctr.name)
		helpWritten[ctr.name] = true
	}
	if ctr.labels != "" {
		fmt.Fprintf(sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
	} else {
		fmt.Fprintf(sb, "%s %d\n", ctr.name, ctr.Value())
	}
}

func writeHistogram(sb *strings.Builder, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(sb, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(sb, "# TYPE %s histogram\n", h.name)

	labelPrefix := "{"
	if h.labels != "" {
		labelPrefix = "{" + h.labels + ","
	}
	for _, b := range h.buckets {
		fmt.Fprintf(sb, "%s_bucket%sle=\"%g\"} %d\n", h.name, labelPrefix, b.le, b.count)
	}
	// Implicit +Inf bucket equals the total observation count.
	fmt.Fprintf(sb, "%s_bucket%sle=\"+Inf\"} %d\n", h.name, labelPrefix, h.count)

	if h.labels != "" {
		fmt.Fprintf(sb, "%s_count{%s} %d\n", h.name, h.labels, h.count)
		fmt.Fprintf(sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
	} else {
		fmt.Fprintf(sb, "%s_count %d\n", h.name, h.count)
		fmt.Fprintf(sb, "%s_sum %f\n", h.name, h.sum)
	}
}

// --- Pre-defined metrics used across the application ---

var (
	MessagesTotal   = Collector.Counter("cedbot_messages_total", "Total inbound messages processed", "")
	RoutesTotal     = Collector.Counter("cedbot_routes_total", "Total routing decisions", "")
	RouteFailures   = Collector.Counter("cedbot_route_failures_total", "Total routed requests that failed", "")
	MediaTotal      = Collector.Counter("cedbot_media_total", "Total messages carrying an attachment", "")
	TwoStepTotal    = Collector.Counter("cedbot_two_step_total", "Total two-step media pipelines run", "")
	HistoryFailures = Collector.Counter("cedbot_history_failures_total", "Total history read/write failures", "")
	BusDropped      = Collector.Counter("cedbot_bus_dropped_total", "Inbound messages dropped on a full bus", "")

	RouteLatency = Collector.Histogram("cedbot_route_latency_seconds", "End-to-end routing latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

// ClassificationsByCategory counts routing decisions per classifier category.
func ClassificationsByCategory(category string) *Counter {
	return Collector.Counter("cedbot_classifications_total", "Classifications by category",
		fmt.Sprintf("category=%q", strings.ToLower(category)))
}

// DispatchesByProvider counts provider calls per adapter.
func DispatchesByProvider(provider string) *Counter {
	return Collector.Counter("cedbot_dispatches_total", "Provider dispatches by adapter",
		fmt.Sprintf("provider=%q", provider))
}
