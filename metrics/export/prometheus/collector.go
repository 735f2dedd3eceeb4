// Package prometheus bridges the engine's in-process counters into a
// Prometheus registry. The engine stays dependency-free on the hot
// path; the collector reads a snapshot only when scraped.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/poscore/cafegate"
)

// Collector exposes every engine counter plus the audit drop count.
type Collector struct {
	engine  *cafegate.Engine
	descs   map[cafegate.MetricID]*prometheus.Desc
	dropped *prometheus.Desc
}

// NewCollector builds a collector over the engine. Register it with any
// prometheus.Registerer:
//
//	prometheus.MustRegister(export.NewCollector(engine, "cafegate"))
func NewCollector(engine *cafegate.Engine, namespace string) *Collector {
	if namespace == "" {
		namespace = "cafegate"
	}

	descs := make(map[cafegate.MetricID]*prometheus.Desc)
	for _, id := range cafegate.MetricIDs() {
		descs[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", id.String()+"_total"),
			"Engine counter "+id.String(),
			nil, nil,
		)
	}

	return &Collector{
		engine: engine,
		descs:  descs,
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_events_dropped_total"),
			"Audit events discarded because the dispatcher buffer was full",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.engine.MetricsSnapshot()
	for id, desc := range c.descs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(snapshot.Counters[id]))
	}
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.engine.AuditDropped()))
}
