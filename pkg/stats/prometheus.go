package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector exposes a Recorder as Prometheus counters.
// Counter "a/b/c" is exported as <namespace>_counter{name="a/b/c"} so the
// dynamic per-reason names do not need to be registered up front.
type PromCollector struct {
	rec  *Recorder
	desc *prometheus.Desc
}

// NewPromCollector wraps rec. namespace prefixes the metric name.
func NewPromCollector(rec *Recorder, namespace string, constLabels prometheus.Labels) *PromCollector {
	name := "counter_total"
	if namespace = strings.TrimSpace(namespace); namespace != "" {
		name = namespace + "_" + name
	}
	return &PromCollector{
		rec: rec,
		desc: prometheus.NewDesc(
			name,
			"Crawl run counters keyed by stats name.",
			[]string{"name"},
			constLabels,
		),
	}
}

// Describe implements prometheus.Collector
func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector
func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.rec.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), name)
	}
}
