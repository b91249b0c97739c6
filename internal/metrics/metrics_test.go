package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("get_one", "success"))
	ObserveOperation("get_one", "success", time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("get_one", "success")))
}

func TestPoolGauges(t *testing.T) {
	PoolConnections.WithLabelValues("in_use").Set(3)
	PoolWaiters.Set(2)
	assert.Equal(t, float64(3), testutil.ToFloat64(PoolConnections.WithLabelValues("in_use")))
	assert.Equal(t, float64(2), testutil.ToFloat64(PoolWaiters))
}

func TestDump(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ctrdb_test_total", Help: "test counter"})
	reg.MustRegister(c)
	c.Add(4)

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, reg))
	assert.Contains(t, buf.String(), "# TYPE ctrdb_test_total counter")
	assert.Contains(t, buf.String(), "ctrdb_test_total 4")
}
