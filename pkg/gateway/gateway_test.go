package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/gateway"
	"github.com/nwrx/mcpserver-operator/pkg/store"
	"github.com/nwrx/mcpserver-operator/pkg/transport"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newTestStore(t *testing.T, objs ...runtime.Object) *store.Store {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := mcpserverv1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme: %v", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme corev1: %v", err)
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(objs...).WithStatusSubresource(&mcpserverv1.Server{}).Build()
	return store.New(c)
}

func TestHandleSSEReturns404ForMissingServer(t *testing.T) {
	s := newTestStore(t)
	factory := func(ctx context.Context, namespace, name string) (*transport.Transport, error) {
		return transport.New(nil, nil, namespace, name), nil
	}
	cache := gateway.NewTransportCache(0, 0, 0, factory)
	gw := gateway.New("default", s, cache, 200*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/missing/sse", nil)
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSSEStreamsEndpointEventOnceReady(t *testing.T) {
	server := &mcpserverv1.Server{
		ObjectMeta: metav1.ObjectMeta{Name: "s1", Namespace: "default"},
		Spec:       mcpserverv1.ServerSpec{Pool: "default", Image: "echo"},
		Status:     mcpserverv1.ServerStatus{Phase: mcpserverv1.ServerPhaseReady},
	}
	s := newTestStore(t, server)
	factory := func(ctx context.Context, namespace, name string) (*transport.Transport, error) {
		return transport.New(nil, nil, namespace, name), nil
	}
	cache := gateway.NewTransportCache(0, 0, 0, factory)
	gw := gateway.New("default", s, cache, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/s1/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: endpoint") {
		t.Fatalf("expected an endpoint event, got body %q", body)
	}
	if !strings.Contains(body, "/s1/message?sessionId=") {
		t.Fatalf("expected endpoint data to carry a sessionId, got body %q", body)
	}
}

func TestHandleMessageRejectsNonUUIDSessionID(t *testing.T) {
	s := newTestStore(t)
	factory := func(ctx context.Context, namespace, name string) (*transport.Transport, error) {
		return transport.New(nil, nil, namespace, name), nil
	}
	cache := gateway.NewTransportCache(0, 0, 0, factory)
	gw := gateway.New("default", s, cache, time.Second)

	req := httptest.NewRequest(http.MethodPost, "/s1/message?sessionId=not-a-uuid", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleMessageUnknownSessionIs404(t *testing.T) {
	server := &mcpserverv1.Server{
		ObjectMeta: metav1.ObjectMeta{Name: "s1", Namespace: "default"},
		Spec:       mcpserverv1.ServerSpec{Pool: "default", Image: "echo"},
		Status:     mcpserverv1.ServerStatus{Phase: mcpserverv1.ServerPhaseReady},
	}
	s := newTestStore(t, server)
	factory := func(ctx context.Context, namespace, name string) (*transport.Transport, error) {
		return transport.New(nil, nil, namespace, name), nil
	}
	cache := gateway.NewTransportCache(0, 0, 0, factory)
	gw := gateway.New("default", s, cache, time.Second)

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	req := httptest.NewRequest(http.MethodPost, "/s1/message?sessionId="+uuid.NewString(), strings.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown session id", rec.Code)
	}
}
