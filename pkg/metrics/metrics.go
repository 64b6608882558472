// Package metrics registers the Prometheus collectors this operator and
// gateway expose, grounded on the same defer+time.Since instrumentation
// pattern the corpus's controllers use around Reconcile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ReconcileDuration observes how long one Reconcile call took, labeled
	// by outcome ("success" or "error").
	ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "mcpserver_reconcile_duration_seconds",
		Help: "Duration of a single Server reconcile, by outcome.",
	}, []string{"outcome"})

	// PhaseTransitionsTotal counts every phase change the reconciler makes.
	PhaseTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpserver_phase_transitions_total",
		Help: "Count of Server phase transitions, by source and target phase.",
	}, []string{"from", "to"})

	// TransportCacheSize reports the current number of live transports.
	TransportCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpserver_gateway_transport_cache_size",
		Help: "Current number of entries in the gateway's transport cache.",
	})

	// GatewayRequestsTotal counts SSE and message requests, by route and
	// outcome.
	GatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpserver_gateway_requests_total",
		Help: "Count of gateway requests, by route and outcome.",
	}, []string{"route", "outcome"})

	// BroadcastDroppedTotal counts messages dropped for a slow subscriber
	// (spec §9 broadcast lag note).
	BroadcastDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcpserver_transport_broadcast_dropped_total",
		Help: "Count of messages dropped on a full subscriber channel.",
	})
)

func init() {
	metrics.Registry.MustRegister(
		ReconcileDuration,
		PhaseTransitionsTotal,
		TransportCacheSize,
		GatewayRequestsTotal,
		BroadcastDroppedTotal,
	)
}

// ObserveReconcile is a convenience for `defer metrics.ObserveReconcile(time.Now(), &err)`
// style instrumentation at the top of Reconcile.
func ObserveReconcile(start time.Time, err *error) {
	outcome := "success"
	if err != nil && *err != nil {
		outcome = "error"
	}
	ReconcileDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
