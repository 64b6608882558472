package v1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PoolSpec groups Servers under a shared admission cap and default idle
// timeout.
type PoolSpec struct {
	// MaxServersActive is the only admission gate: a Requested Server only
	// advances to Starting once the pool's active count is below this
	// value (spec §4.4 intent evaluation). Zero means unlimited.
	// +optional
	MaxServersActive int32 `json:"maxServersActive,omitempty"`

	// MaxServersLimit is informational only per spec §9 open question;
	// the reconciler never reads it for admission decisions.
	// +optional
	MaxServersLimit int32 `json:"maxServersLimit,omitempty"`

	// DefaultIdleTimeoutSeconds is used by a Server whose own
	// IdleTimeoutSeconds is zero.
	DefaultIdleTimeoutSeconds int64 `json:"defaultIdleTimeoutSeconds"`

	// DefaultResources is stored on the Pool only; the projector builds a
	// workload from the Server's own Resources and does not read this field.
	// +optional
	DefaultResources corev1.ResourceRequirements `json:"defaultResources,omitempty"`
}

// PoolStatus is recomputed by internal/controller/pool_controller.go from
// the set of Servers referencing this Pool (SPEC_FULL.md supplement #2).
type PoolStatus struct {
	// Active counts Servers currently in phase Ready.
	// +optional
	Active int32 `json:"active,omitempty"`

	// Pending counts Servers in phase Requested or Starting.
	// +optional
	Pending int32 `json:"pending,omitempty"`

	// Managed counts all Servers referencing this Pool.
	// +optional
	Managed int32 `json:"managed,omitempty"`

	// Unmanaged is always written as zero by the pool controller; it does
	// not count anything.
	// +optional
	Unmanaged int32 `json:"unmanaged,omitempty"`

	// Total is Managed + Unmanaged.
	// +optional
	Total int32 `json:"total,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="InUse",type=integer,JSONPath=`.status.active`
// +kubebuilder:printcolumn:name="Waiting",type=integer,JSONPath=`.status.pending`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type Pool struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PoolSpec   `json:"spec,omitempty"`
	Status PoolStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true
type PoolList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Pool `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Pool{}, &PoolList{})
}
