// Package v1 contains API Schema definitions for the mcpserver v1 API group.
//
// It registers the Server and Pool custom resource kinds with the shared
// runtime scheme so controller-runtime clients and the controller manager
// can decode/encode them like any built-in Kubernetes type.
// +kubebuilder:object:generate=true
// +groupName=mcpserver.nwrx.io
package v1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register these objects.
	GroupVersion = schema.GroupVersion{Group: "mcpserver.nwrx.io", Version: "v1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme.
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)
