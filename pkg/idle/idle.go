// Package idle implements the idleness boundary check used by the
// reconciliation engine to decide when a Ready/Starting/Requested Server
// should be wound down (spec §4.5).
package idle

import (
	"time"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
)

// EffectiveTimeout returns the Server's own idle timeout if set, otherwise
// the owning Pool's default.
func EffectiveTimeout(server *mcpserverv1.Server, pool *mcpserverv1.Pool) time.Duration {
	if server.Spec.IdleTimeoutSeconds > 0 {
		return time.Duration(server.Spec.IdleTimeoutSeconds) * time.Second
	}
	return time.Duration(pool.Spec.DefaultIdleTimeoutSeconds) * time.Second
}

// IsStale reports whether server has been idle for strictly more than its
// effective timeout, measured from the most recent of last_request_at,
// started_at, created_at. elapsed == timeout is not stale; elapsed ==
// timeout+1s is (spec §8 boundary law).
func IsStale(server *mcpserverv1.Server, pool *mcpserverv1.Pool, now time.Time) bool {
	timeout := EffectiveTimeout(server, pool)
	if timeout <= 0 {
		return false
	}

	baseline := server.CreationTimestamp.Time
	if server.Status.StartedAt != nil && server.Status.StartedAt.Time.After(baseline) {
		baseline = server.Status.StartedAt.Time
	}
	if server.Status.LastRequestAt != nil && server.Status.LastRequestAt.Time.After(baseline) {
		baseline = server.Status.LastRequestAt.Time
	}

	elapsed := now.Sub(baseline)
	return elapsed > timeout
}
