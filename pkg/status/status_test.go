package status_test

import (
	"testing"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/status"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestPushConditionDedupesIdenticalTuple(t *testing.T) {
	s := &mcpserverv1.Server{}
	now := metav1.Now()

	if !status.PushCondition(s, "PodScheduled", "Running", "pod is running", metav1.ConditionTrue, now) {
		t.Fatalf("first push should mutate")
	}
	if status.PushCondition(s, "PodScheduled", "Running", "pod is running", metav1.ConditionTrue, metav1.Now()) {
		t.Fatalf("identical tuple push must be a no-op")
	}
	if len(s.Status.Conditions) != 1 {
		t.Fatalf("expected exactly one condition, got %d", len(s.Status.Conditions))
	}
}

func TestPushConditionReplacesSameTypeOnChange(t *testing.T) {
	s := &mcpserverv1.Server{}
	status.PushCondition(s, "PodScheduled", "Pending", "scheduled", metav1.ConditionUnknown, metav1.Now())
	status.PushCondition(s, "PodScheduled", "Running", "pod is running", metav1.ConditionTrue, metav1.Now())

	if len(s.Status.Conditions) != 1 {
		t.Fatalf("expected exactly one condition per type, got %d", len(s.Status.Conditions))
	}
	if s.Status.Conditions[0].Reason != "Running" {
		t.Fatalf("expected the latest condition to win, got reason %q", s.Status.Conditions[0].Reason)
	}
}

func TestSetPhaseNoopWhenUnchanged(t *testing.T) {
	s := &mcpserverv1.Server{}
	s.Status.Phase = mcpserverv1.ServerPhaseReady

	if status.SetPhase(s, mcpserverv1.ServerPhaseReady) {
		t.Fatalf("setting the same phase must be a no-op")
	}
	if !status.SetPhase(s, mcpserverv1.ServerPhaseStopping) {
		t.Fatalf("setting a new phase must mutate")
	}
}

func TestNotifyDisconnectNeverGoesNegative(t *testing.T) {
	s := &mcpserverv1.Server{}
	status.NotifyDisconnect(s)
	if s.Status.CurrentConnections != 0 {
		t.Fatalf("current_connections went negative: %d", s.Status.CurrentConnections)
	}

	status.NotifyConnect(s)
	status.NotifyConnect(s)
	status.NotifyDisconnect(s)
	if s.Status.CurrentConnections != 1 {
		t.Fatalf("expected 1 connection, got %d", s.Status.CurrentConnections)
	}
}

func TestClearConnectedClientsResetsToZero(t *testing.T) {
	s := &mcpserverv1.Server{}
	s.Status.CurrentConnections = 4
	status.ClearConnectedClients(s)
	if s.Status.CurrentConnections != 0 {
		t.Fatalf("expected 0, got %d", s.Status.CurrentConnections)
	}
}

func TestMarkRequestedSetsCreatedAtOnlyOnce(t *testing.T) {
	s := &mcpserverv1.Server{}
	first := metav1.Now()
	status.MarkRequested(s, first)
	if s.Status.CreatedAt == nil || !s.Status.CreatedAt.Equal(&first) {
		t.Fatalf("expected created_at to be set on first request")
	}

	second := metav1.NewTime(first.Add(1))
	status.MarkRequested(s, second)
	if !s.Status.CreatedAt.Equal(&first) {
		t.Fatalf("created_at must not change on subsequent requests")
	}
	if !s.Status.RequestedAt.Equal(&second) {
		t.Fatalf("requested_at should always update")
	}
}
