package apierror_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestFromKubernetesNotFound(t *testing.T) {
	gr := schema.GroupResource{Group: "mcpserver.nwrx.io", Resource: "servers"}
	src := apierrors.NewNotFound(gr, "s1")

	got := apierror.FromKubernetes(src)
	if got.Name() != apierror.NameNotFound {
		t.Fatalf("name = %v, want %v", got.Name(), apierror.NameNotFound)
	}
	if got.Status() != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", got.Status(), http.StatusNotFound)
	}
	if !apierror.IsNotFound(got) {
		t.Fatalf("IsNotFound = false, want true")
	}
	if !errors.Is(errors.Unwrap(got), src) && errors.Unwrap(got) != src {
		t.Fatalf("cause not preserved")
	}
}

func TestFromKubernetesOtherStatus(t *testing.T) {
	src := &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Message: "conflict",
		Code:    http.StatusConflict,
	}}

	got := apierror.FromKubernetes(src)
	if got.Name() != apierror.NameTransient {
		t.Fatalf("name = %v, want %v", got.Name(), apierror.NameTransient)
	}
	if got.Status() != http.StatusConflict {
		t.Fatalf("status = %d, want %d", got.Status(), http.StatusConflict)
	}
}

func TestFromKubernetesIdempotentOnAlreadyWrapped(t *testing.T) {
	inner := apierror.Timeout("waited too long")
	got := apierror.FromKubernetes(inner)
	if got != inner {
		t.Fatalf("FromKubernetes should return the same envelope unchanged")
	}
}

func TestIsNotFoundFalseForOtherKinds(t *testing.T) {
	if apierror.IsNotFound(apierror.Validation("bad spec")) {
		t.Fatalf("Validation error misclassified as NotFound")
	}
}

func TestUnsupportedTransport(t *testing.T) {
	err := apierror.UnsupportedTransport("sse")
	if err.Status() != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", err.Status())
	}
}
