// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	// Pool metrics
	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctrdb_pool_connections",
			Help: "Read-only connections by state (in_use, free, erroneous)",
		},
		[]string{"state"},
	)

	PoolWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctrdb_pool_waiters",
			Help: "Callers blocked waiting for a read-only connection",
		},
	)

	ConnectionsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrdb_pool_connections_reaped_total",
			Help: "Erroneous connections torn down by kind",
		},
		[]string{"kind"},
	)

	// Engine metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrdb_operations_total",
			Help: "Engine operations by operation and result code",
		},
		[]string{"operation", "result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctrdb_operation_duration_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StatementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrdb_statements_total",
			Help: "SQL statements executed",
		},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrdb_rollbacks_total",
			Help: "Transactions rolled back after a failed statement",
		},
	)
)

func init() {
	prometheus.MustRegister(PoolConnections)
	prometheus.MustRegister(PoolWaiters)
	prometheus.MustRegister(ConnectionsReaped)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(StatementsTotal)
	prometheus.MustRegister(RollbacksTotal)
}

// ObserveOperation records one finished operation.
func ObserveOperation(op, result string, start time.Time) {
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Dump writes every metric family of g in the text exposition format.
func Dump(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
