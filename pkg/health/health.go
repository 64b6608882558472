// Package health exposes liveness/readiness/metrics endpoints. The gateway
// subcommand serves them; the operator subcommand serves its probes through
// the controller manager instead. Readiness is a single flag set by the
// hosting binary: the gateway sets it once its servers are constructed,
// without checking cache sync or API server reachability.
package health

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Checker is an atomic readiness flag polled by the kubelet probe.
type Checker struct {
	ready atomic.Bool
}

// NewChecker starts out not ready.
func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) IsReady() bool {
	return c.ready.Load()
}

// LivenessHandler always reports ok; liveness only asserts the process is
// responding, not that it has finished starting up.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.IsReady() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})
}

// AttachEndpoints wires /healthz, /readyz, and /metrics onto mux. /metrics
// serves the same registry pkg/metrics registers its collectors into
// (sigs.k8s.io/controller-runtime/pkg/metrics.Registry), so both the
// operator and the gateway expose the identical collector set regardless
// of which binary hosts this mux.
func AttachEndpoints(mux *http.ServeMux, checker *Checker) {
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
}
