package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cortexRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	cortexRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cortex_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_gate_decisions_total",
		Help: "Gate approval decisions by outcome.",
	}, []string{"outcome"})

	gatePendingActions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cortex_gate_pending_actions",
		Help: "Actions currently awaiting approval.",
	})

	ledgerTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cortex_ledger_transactions",
		Help: "Id of the chain tip, i.e. transactions appended so far.",
	})

	ledgerCheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_ledger_checkpoints_total",
		Help: "Ledger checkpoints created.",
	})

	ledgerViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_ledger_violations_total",
		Help: "Integrity violations found by verification scans.",
	})
)

// SetPendingActions updates the pending-actions gauge; the daemon calls this
// from its sweep loop.
func SetPendingActions(n int) {
	gatePendingActions.Set(float64(n))
}

// AddLedgerViolations counts violations found outside the HTTP verify path,
// such as the daemon's scheduled scans.
func AddLedgerViolations(n int) {
	ledgerViolationsTotal.Add(float64(n))
}

// SetLedgerTransactions updates the chain-tip gauge; the daemon calls this
// from its scan and checkpoint loops.
func SetLedgerTransactions(id int64) {
	ledgerTransactions.Set(float64(id))
}

// PrometheusMiddleware returns a Gin middleware that records per-request
// metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		cortexRequestsTotal.WithLabelValues(method, path, status).Inc()
		cortexRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsRoute mounts the Prometheus scrape endpoint.
func MetricsRoute(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
