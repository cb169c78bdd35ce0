// Package metrics holds the Prometheus collectors of the order engines.
//
// Exposed series:
//   - ladder_orders_total{engine,side,type}  orders accepted by the exchange
//   - ladder_order_errors_total{engine}      failed placements
//   - ladder_engine_runs_total{engine,result} handler invocations per bot
//   - ladder_order_updates_total{status}     applied order updates
//   - ladder_reconciled_orders_total{result} reconciliation outcomes
//   - ladder_jobs_dropped_total{job}         jobs rejected by a full queue
//   - ladder_queue_depth                     queued jobs across all lanes
//   - ladder_tick_duration_seconds           dispatch latency per ticker
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_orders_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"engine", "side", "type"},
	)

	OrderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_order_errors_total",
			Help: "Order placements that failed",
		},
		[]string{"engine"},
	)

	EngineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_engine_runs_total",
			Help: "Per-bot engine invocations by result (ok|error)",
		},
		[]string{"engine", "result"},
	)

	OrderUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_order_updates_total",
			Help: "Order updates applied, by resulting status",
		},
		[]string{"status"},
	)

	Reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_reconciled_orders_total",
			Help: "Stale orders refreshed from the exchange (updated|failed)",
		},
		[]string{"result"},
	)

	JobsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_jobs_dropped_total",
			Help: "Jobs rejected because their lane was full",
		},
		[]string{"job"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ladder_queue_depth",
			Help: "Jobs waiting across all queue lanes",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ladder_tick_duration_seconds",
			Help:    "Time spent dispatching one ticker to every engine",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrderErrors,
		EngineRuns,
		OrderUpdates,
		Reconciled,
		JobsDropped,
		QueueDepth,
		TickDuration,
	)
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
