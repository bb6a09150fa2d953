// Package metrics holds the Prometheus collectors of the block service.
//
// Collectors register with the default registry on first import and are exposed by the
// HTTP server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hydra"

var (
	// requestDuration measures HTTP handler latency.
	// Labels: route (mux path template), method, status
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route", "method", "status"})

	// treeOperations counts block tree operations.
	// Labels: op (create, update, move, delete, get, list, tree, children), outcome (ok, error)
	treeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tree",
		Name:      "operations_total",
		Help:      "Total block tree operations",
	}, []string{"op", "outcome"})

	// treeErrors counts failed operations by error kind.
	treeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tree",
		Name:      "errors_total",
		Help:      "Total block tree errors by kind",
	}, []string{"kind"})

	// repairFixes counts corrections applied by the repair job.
	// Labels: type (children, depth, orphan, cycle)
	repairFixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repair",
		Name:      "fixes_total",
		Help:      "Total structural fixes applied by the repair job",
	}, []string{"type"})

	eventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Currently connected change feed subscribers",
	})
)

// RecordRequest records the latency of one HTTP request.
func RecordRequest(route, method, status string, durationSec float64) {
	requestDuration.WithLabelValues(route, method, status).Observe(durationSec)
}

// RecordOperation records the outcome of a tree operation. kind is empty on success.
func RecordOperation(op, kind string) {
	if kind == "" {
		treeOperations.WithLabelValues(op, "ok").Inc()
		return
	}
	treeOperations.WithLabelValues(op, "error").Inc()
	treeErrors.WithLabelValues(kind).Inc()
}

// RecordRepairFixes adds n fixes of the given type.
func RecordRepairFixes(fixType string, n int) {
	if n > 0 {
		repairFixes.WithLabelValues(fixType).Add(float64(n))
	}
}

func SubscriberConnected()    { eventSubscribers.Inc() }
func SubscriberDisconnected() { eventSubscribers.Dec() }
