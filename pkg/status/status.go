// Package status implements the Server/Pool status-writing contract (spec
// §4.2): condition dedupe, no-op phase sets, and the counter mutations the
// gateway and reconciler drive. Every mutator here only edits the in-memory
// object; callers persist via pkg/store's server-side apply so concurrent
// writers converge on a stable field manager.
package status

import (
	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PushCondition is a no-op if the same (type, status, reason, message,
// observed_generation) tuple is already the last condition of that type;
// otherwise it drops any prior condition of the same type and appends a
// fresh one with LastTransitionTime set to now. Returns true if the status
// was mutated (callers use this to decide whether a write is needed).
func PushCondition(server *mcpserverv1.Server, condType, reason, message string, condStatus metav1.ConditionStatus, now metav1.Time) bool {
	generation := server.Generation

	for _, c := range server.Status.Conditions {
		if c.Type != condType {
			continue
		}
		if c.Status == condStatus && c.Reason == reason && c.Message == message && c.ObservedGeneration == generation {
			return false
		}
		break
	}

	kept := make([]metav1.Condition, 0, len(server.Status.Conditions)+1)
	for _, c := range server.Status.Conditions {
		if c.Type != condType {
			kept = append(kept, c)
		}
	}
	kept = append(kept, metav1.Condition{
		Type:               condType,
		Status:             condStatus,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
		LastTransitionTime: now,
	})
	server.Status.Conditions = kept
	return true
}

// SetPhase is a no-op if phase is unchanged; otherwise it mutates
// server.Status.Phase and returns true.
func SetPhase(server *mcpserverv1.Server, phase mcpserverv1.ServerPhase) bool {
	if server.Status.Phase == phase {
		return false
	}
	server.Status.Phase = phase
	return true
}

// NotifyRequest records that the gateway forwarded one more message:
// increments total_requests and bumps last_request_at to now.
func NotifyRequest(server *mcpserverv1.Server, now metav1.Time) {
	server.Status.TotalRequests++
	server.Status.LastRequestAt = &now
}

// NotifyConnect increments current_connections on a new SSE subscriber.
func NotifyConnect(server *mcpserverv1.Server) {
	server.Status.CurrentConnections++
}

// NotifyDisconnect decrements current_connections, floored at zero (spec
// §8 invariant 3: current_connections never goes negative).
func NotifyDisconnect(server *mcpserverv1.Server) {
	if server.Status.CurrentConnections > 0 {
		server.Status.CurrentConnections--
	}
}

// ClearConnectedClients resets current_connections to 0, used whenever the
// workload transitions to a terminal observed state (Succeeded, NotFound).
func ClearConnectedClients(server *mcpserverv1.Server) {
	server.Status.CurrentConnections = 0
}

// MarkRequested bumps requested_at and, the first time it is called for a
// Server (the gateway's first request for it), created_at.
func MarkRequested(server *mcpserverv1.Server, now metav1.Time) {
	if server.Status.CreatedAt == nil {
		server.Status.CreatedAt = &now
	}
	server.Status.RequestedAt = &now
}

// MarkStarted sets started_at, used the moment the workload manifest is
// first patched into existence for the current activation.
func MarkStarted(server *mcpserverv1.Server, now metav1.Time) {
	server.Status.StartedAt = &now
}

// MarkStopped sets stopped_at, used when the workload is gone and the
// Server moves from Stopping to Idle.
func MarkStopped(server *mcpserverv1.Server, now metav1.Time) {
	server.Status.StoppedAt = &now
}
