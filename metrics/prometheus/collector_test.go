package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector("segdb")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.RecordBuild(10, time.Millisecond, nil)
	c.RecordBuild(5, time.Millisecond, errors.New("boom"))
	c.RecordMerge(3, 42, time.Second, nil)
	c.RecordRewrite(time.Second, nil)
	c.RecordQuery(7, time.Microsecond, nil)
	c.RecordRestore()
	c.RecordRestore()

	assert.InDelta(t, 10, testutil.ToFloat64(c.objects), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(c.rows), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.restores), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.ops.WithLabelValues("ingest", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.ops.WithLabelValues("ingest", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.ops.WithLabelValues("rewrite", "success")), 0)

	expected := `
# HELP segdb_merged_rows_total Rows written by successful merges.
# TYPE segdb_merged_rows_total counter
segdb_merged_rows_total 42
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "segdb_merged_rows_total"))

	n, err := testutil.GatherAndCount(reg, "segdb_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
