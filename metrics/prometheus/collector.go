// Package prometheus exports segdb operation metrics to Prometheus.
//
//	c := prometheus.NewCollector("segdb")
//	prom.MustRegister(c)
//	db, _ := segdb.Open(ctx, store, s, segdb.WithMetricsCollector(c))
package prometheus

import (
	"time"

	"github.com/hupe1980/segdb"
	"github.com/prometheus/client_golang/prometheus"
)

var _ segdb.MetricsCollector = (*Collector)(nil)
var _ prometheus.Collector = (*Collector)(nil)

// Collector implements segdb.MetricsCollector on Prometheus vectors. It is
// itself a prometheus.Collector and must be registered to be scraped.
type Collector struct {
	latency  *prometheus.HistogramVec
	ops      *prometheus.CounterVec
	objects  prometheus.Counter
	rows     prometheus.Counter
	inputs   prometheus.Histogram
	keys     prometheus.Histogram
	restores prometheus.Counter
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of database operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Database operations by kind and outcome.",
		}, []string{"op", "status"}),
		objects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_objects_total",
			Help:      "Objects written by successful ingests.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_rows_total",
			Help:      "Rows written by successful merges.",
		}),
		inputs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_inputs",
			Help:      "Number of segments per merge.",
			Buckets:   prometheus.LinearBuckets(1, 2, 8),
		}),
		keys: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_keys",
			Help:      "Keys returned per query.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 7),
		}),
		restores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_restores_total",
			Help:      "Merge cursors that resumed on a rewritten segment.",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	s := status(err)
	c.latency.WithLabelValues(op, s).Observe(d.Seconds())
	c.ops.WithLabelValues(op, s).Inc()
}

// RecordBuild implements segdb.MetricsCollector.
func (c *Collector) RecordBuild(objects int, d time.Duration, err error) {
	c.observe("ingest", d, err)
	if err == nil {
		c.objects.Add(float64(objects))
	}
}

// RecordMerge implements segdb.MetricsCollector.
func (c *Collector) RecordMerge(inputs, rows int, d time.Duration, err error) {
	c.observe("merge", d, err)
	if err == nil {
		c.inputs.Observe(float64(inputs))
		c.rows.Add(float64(rows))
	}
}

// RecordRewrite implements segdb.MetricsCollector.
func (c *Collector) RecordRewrite(d time.Duration, err error) {
	c.observe("rewrite", d, err)
}

// RecordQuery implements segdb.MetricsCollector.
func (c *Collector) RecordQuery(keys int, d time.Duration, err error) {
	c.observe("query", d, err)
	if err == nil {
		c.keys.Observe(float64(keys))
	}
}

// RecordRestore implements segdb.MetricsCollector.
func (c *Collector) RecordRestore() { c.restores.Inc() }

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.latency.Describe(ch)
	c.ops.Describe(ch)
	c.objects.Describe(ch)
	c.rows.Describe(ch)
	c.inputs.Describe(ch)
	c.keys.Describe(ch)
	c.restores.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.latency.Collect(ch)
	c.ops.Collect(ch)
	c.objects.Collect(ch)
	c.rows.Collect(ch)
	c.inputs.Collect(ch)
	c.keys.Collect(ch)
	c.restores.Collect(ch)
}
