package v1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ServerPhase is the single summary state of a Server. The reconciliation
// engine is the only writer; see internal/controller for the transition
// table.
type ServerPhase string

const (
	ServerPhaseIdle      ServerPhase = "Idle"
	ServerPhaseRequested ServerPhase = "Requested"
	ServerPhaseStarting  ServerPhase = "Starting"
	ServerPhaseReady     ServerPhase = "Ready"
	ServerPhaseStopping  ServerPhase = "Stopping"
	ServerPhaseDegraded  ServerPhase = "Degraded"
)

// TransportKind names the wire protocol the workload speaks on its end.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// TransportSpec describes how the gateway should talk to the workload.
// Only Stdio is implemented by pkg/transport. SSE and StreamableHTTP are
// accepted by the CRD schema, which does not check that Port is set; the
// gateway refuses to attach to them with apierror.UnsupportedTransport.
type TransportSpec struct {
	// Kind selects the transport. Required.
	// +kubebuilder:validation:Enum=stdio;sse;streamable-http
	Kind TransportKind `json:"kind"`

	// Port is the container port the workload listens on. Required for
	// sse and streamable-http, ignored for stdio.
	// +optional
	Port int32 `json:"port,omitempty"`
}

// EnvVar is a user-supplied environment binding for the workload container.
// Kept distinct from corev1.EnvVar so the projector can enforce the
// reserved-name precedence rule in spec §4.3 without fighting ValueFrom.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// ServerSpec is the desired state of a Server.
type ServerSpec struct {
	// Pool names the Pool this Server belongs to. Required.
	Pool string `json:"pool"`

	// Image is the workload container image. Required.
	Image string `json:"image"`

	// Command overrides the image entrypoint, verbatim.
	// +optional
	Command []string `json:"command,omitempty"`

	// Args are appended to Command, verbatim.
	// +optional
	Args []string `json:"args,omitempty"`

	// Env are environment bindings injected into the workload container
	// before the three reserved MCP_SERVER_* bindings (spec §4.3).
	// +optional
	Env []EnvVar `json:"env,omitempty"`

	// Transport selects stdio, sse, or streamable-http. Required.
	Transport TransportSpec `json:"transport"`

	// IdleTimeoutSeconds overrides the pool's default idle timeout.
	// Zero means inherit from the owning Pool.
	// +optional
	IdleTimeoutSeconds int64 `json:"idleTimeoutSeconds,omitempty"`

	// Resources are applied to the workload's single container.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

// ServerStatus is the observed state of a Server, owned entirely by the
// operator's field manager.
type ServerStatus struct {
	// Phase is the single summary state. See ServerPhase.
	// +optional
	Phase ServerPhase `json:"phase,omitempty"`

	// Conditions is a dedupe-by-type history of observations. Exactly one
	// condition per type is retained; see pkg/status.
	// +optional
	// +patchMergeKey=type
	// +patchStrategy=merge
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`

	// CreatedAt is set once, on the gateway's first request for the Server.
	// +optional
	CreatedAt *metav1.Time `json:"createdAt,omitempty"`

	// RequestedAt is updated every time the Server is asked to start.
	// +optional
	RequestedAt *metav1.Time `json:"requestedAt,omitempty"`

	// StartedAt is set when the workload is first patched into existence
	// for the current activation.
	// +optional
	StartedAt *metav1.Time `json:"startedAt,omitempty"`

	// StoppedAt is set when the workload is gone and the Server moves from
	// Stopping to Idle.
	// +optional
	StoppedAt *metav1.Time `json:"stoppedAt,omitempty"`

	// LastRequestAt is updated on every gateway request, and is the basis
	// for idleness in pkg/idle.
	// +optional
	LastRequestAt *metav1.Time `json:"lastRequestAt,omitempty"`

	// TotalRequests counts every message the gateway has forwarded.
	// +optional
	TotalRequests int64 `json:"totalRequests,omitempty"`

	// CurrentConnections is the number of live SSE sessions. Never
	// negative, forced to zero on any terminal workload state.
	// +optional
	CurrentConnections int32 `json:"currentConnections,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Pool",type=string,JSONPath=`.spec.pool`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type Server struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ServerSpec   `json:"spec,omitempty"`
	Status ServerStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true
type ServerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Server `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Server{}, &ServerList{})
}
