package idle_test

import (
	"testing"
	"time"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/idle"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func serverAt(created time.Time, lastRequest *time.Time, idleTimeoutSeconds int64) *mcpserverv1.Server {
	s := &mcpserverv1.Server{
		Spec: mcpserverv1.ServerSpec{IdleTimeoutSeconds: idleTimeoutSeconds},
	}
	s.CreationTimestamp = metav1.NewTime(created)
	if lastRequest != nil {
		t := metav1.NewTime(*lastRequest)
		s.Status.LastRequestAt = &t
	}
	return s
}

func TestIsStaleBoundaryExact(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := &mcpserverv1.Pool{Spec: mcpserverv1.PoolSpec{DefaultIdleTimeoutSeconds: 60}}
	s := serverAt(created, nil, 0)

	now := created.Add(60 * time.Second)
	if idle.IsStale(s, pool, now) {
		t.Fatalf("elapsed == timeout must not be stale")
	}

	now = created.Add(61 * time.Second)
	if !idle.IsStale(s, pool, now) {
		t.Fatalf("elapsed == timeout+1s must be stale")
	}
}

func TestIsStaleUsesLatestOfRequestStartedCreated(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastReq := created.Add(30 * time.Second)
	pool := &mcpserverv1.Pool{Spec: mcpserverv1.PoolSpec{DefaultIdleTimeoutSeconds: 10}}
	s := serverAt(created, &lastReq, 0)

	if idle.IsStale(s, pool, lastReq.Add(10*time.Second)) {
		t.Fatalf("should measure from last_request_at, not created")
	}
	if !idle.IsStale(s, pool, lastReq.Add(11*time.Second)) {
		t.Fatalf("should be stale just past the boundary from last_request_at")
	}
}

func TestEffectiveTimeoutPrefersServerOverPool(t *testing.T) {
	pool := &mcpserverv1.Pool{Spec: mcpserverv1.PoolSpec{DefaultIdleTimeoutSeconds: 999}}
	s := &mcpserverv1.Server{Spec: mcpserverv1.ServerSpec{IdleTimeoutSeconds: 5}}

	got := idle.EffectiveTimeout(s, pool)
	if got != 5*time.Second {
		t.Fatalf("got %v, want 5s", got)
	}
}

func TestZeroTimeoutNeverStale(t *testing.T) {
	pool := &mcpserverv1.Pool{Spec: mcpserverv1.PoolSpec{DefaultIdleTimeoutSeconds: 0}}
	s := serverAt(time.Now(), nil, 0)
	if idle.IsStale(s, pool, time.Now().Add(24*time.Hour)) {
		t.Fatalf("a zero effective timeout must never be stale")
	}
}
