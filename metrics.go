package segdb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// metrics/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordBuild is called after each ingest batch.
	// objects is the number of objects in the batch.
	RecordBuild(objects int, duration time.Duration, err error)

	// RecordMerge is called after each merge.
	// inputs is the number of merged segments, rows the merged row count.
	RecordMerge(inputs, rows int, duration time.Duration, err error)

	// RecordRewrite is called after each segment rewrite.
	RecordRewrite(duration time.Duration, err error)

	// RecordQuery is called when a query iterator is closed.
	RecordQuery(keys int, duration time.Duration, err error)

	// RecordRestore is called whenever a merge cursor reopens a replaced segment.
	RecordRestore()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordMerge(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRewrite(time.Duration, error)         {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordRestore()                             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount      atomic.Int64
	BuildErrors     atomic.Int64
	BuildObjects    atomic.Int64
	BuildTotalNanos atomic.Int64
	MergeCount      atomic.Int64
	MergeErrors     atomic.Int64
	MergeInputs     atomic.Int64
	MergeRows       atomic.Int64
	MergeTotalNanos atomic.Int64
	RewriteCount    atomic.Int64
	RewriteErrors   atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryKeys       atomic.Int64
	QueryTotalNanos atomic.Int64
	RestoreCount    atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(objects int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildObjects.Add(int64(objects))
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(inputs, rows int, duration time.Duration, err error) {
	b.MergeCount.Add(1)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergeInputs.Add(int64(inputs))
	b.MergeRows.Add(int64(rows))
}

// RecordRewrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRewrite(duration time.Duration, err error) {
	b.RewriteCount.Add(1)
	if err != nil {
		b.RewriteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(keys int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryKeys.Add(int64(keys))
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordRestore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestore() {
	b.RestoreCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:    b.BuildCount.Load(),
		BuildErrors:   b.BuildErrors.Load(),
		BuildObjects:  b.BuildObjects.Load(),
		BuildAvgNanos: avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		MergeCount:    b.MergeCount.Load(),
		MergeErrors:   b.MergeErrors.Load(),
		MergeInputs:   b.MergeInputs.Load(),
		MergeRows:     b.MergeRows.Load(),
		MergeAvgNanos: avg(b.MergeTotalNanos.Load(), b.MergeCount.Load()),
		RewriteCount:  b.RewriteCount.Load(),
		RewriteErrors: b.RewriteErrors.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryKeys:     b.QueryKeys.Load(),
		QueryAvgNanos: avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		RestoreCount:  b.RestoreCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount    int64
	BuildErrors   int64
	BuildObjects  int64
	BuildAvgNanos int64
	MergeCount    int64
	MergeErrors   int64
	MergeInputs   int64
	MergeRows     int64
	MergeAvgNanos int64
	RewriteCount  int64
	RewriteErrors int64
	QueryCount    int64
	QueryErrors   int64
	QueryKeys     int64
	QueryAvgNanos int64
	RestoreCount  int64
}
