package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mcpserverv1 "github.com/nwrx/mcpserver-operator/api/v1"
	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	"github.com/nwrx/mcpserver-operator/pkg/jsonrpc"
	"github.com/nwrx/mcpserver-operator/pkg/metrics"
	"github.com/nwrx/mcpserver-operator/pkg/status"
	"github.com/nwrx/mcpserver-operator/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
)

const (
	defaultReadyWaitTimeout = 30 * time.Second
	readyPollInterval       = 500 * time.Millisecond
)

// Gateway serves the lazy-start SSE/message surface (spec §4.8, §6) for one
// namespace of Servers.
type Gateway struct {
	namespace        string
	store            *store.Store
	cache            *TransportCache
	readyWaitTimeout time.Duration
}

// New constructs a Gateway scoped to namespace.
func New(namespace string, s *store.Store, cache *TransportCache, readyWaitTimeout time.Duration) *Gateway {
	if readyWaitTimeout <= 0 {
		readyWaitTimeout = defaultReadyWaitTimeout
	}
	return &Gateway{namespace: namespace, store: s, cache: cache, readyWaitTimeout: readyWaitTimeout}
}

// Router builds the chi router exposing the two documented routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/{name}/sse", g.handleSSE)
	r.Post("/{name}/message", g.handleMessage)
	return r
}

// requestUp sets phase to Requested if the Server is Idle/Degraded/Stopping
// and records the request (spec §4.8). The reconciliation engine owns the
// actual admission/workload-patching decision; this only declares intent.
// bumpRequest additionally records the request against last_request_at/
// total_requests the way the SSE connect path does (register_server_request
// in the original) — the message path records that separately, once the
// relay actually completes, so it passes false here.
func (g *Gateway) requestUp(ctx context.Context, name string, bumpRequest bool) (*mcpserverv1.Server, error) {
	server, err := g.store.GetServer(ctx, g.namespace, name)
	if err != nil {
		return nil, err
	}

	now := metav1.Now()
	switch server.Status.Phase {
	case mcpserverv1.ServerPhaseIdle, mcpserverv1.ServerPhaseDegraded, mcpserverv1.ServerPhaseStopping:
		status.SetPhase(server, mcpserverv1.ServerPhaseRequested)
		status.MarkRequested(server, now)
	default:
		status.MarkRequested(server, now)
	}
	if bumpRequest {
		status.NotifyRequest(server, now)
	}

	if err := g.store.PatchServerStatus(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

// waitUntilReady polls the Server's phase until Ready or readyWaitTimeout
// elapses (spec §5: "wait_until_ready polling ticks (500 ms)").
func (g *Gateway) waitUntilReady(ctx context.Context, name string) (*mcpserverv1.Server, error) {
	deadline := time.Now().Add(g.readyWaitTimeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		server, err := g.store.GetServer(ctx, g.namespace, name)
		if err != nil {
			return nil, err
		}
		if server.Status.Phase == mcpserverv1.ServerPhaseReady {
			return server, nil
		}
		if time.Now().After(deadline) {
			return nil, apierror.Timeout(fmt.Sprintf("server %q did not become ready within %s", name, g.readyWaitTimeout))
		}
		select {
		case <-ctx.Done():
			return nil, apierror.Timeout("request cancelled while waiting for ready")
		case <-ticker.C:
		}
	}
}

func writeAPIError(w http.ResponseWriter, err error) {
	apiErr := apierror.FromKubernetes(err)
	if e, ok := err.(*apierror.Error); ok {
		apiErr = e
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(apiErr.Name()),
		"message": apiErr.Message(),
	})
}

// handleSSE implements GET /{name}/sse (spec §6).
func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	if _, err := g.requestUp(ctx, name, true); err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("sse", "error").Inc()
		writeAPIError(w, err)
		return
	}
	if _, err := g.waitUntilReady(ctx, name); err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("sse", "error").Inc()
		writeAPIError(w, err)
		return
	}

	t, err := g.cache.GetOrCreate(ctx, g.namespace, name)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("sse", "error").Inc()
		writeAPIError(w, err)
		return
	}
	metrics.GatewayRequestsTotal.WithLabelValues("sse", "ok").Inc()

	peer := t.Subscribe(ctx)
	g.bumpConnection(ctx, name, +1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, apierror.New(apierror.NameInternal, http.StatusInternalServerError, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("/%s/message?sessionId=%s", name, peer.SessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	sub, unsubscribe := peer.SSESubscription()
	defer unsubscribe()

	onClose := func() {
		t.RemovePeer(peer.SessionID)
		g.bumpConnection(context.Background(), name, -1)
	}
	defer onClose()

	messages := sub.Messages()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-peer.Dropped():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				klog.V(2).InfoS("dropping unmarshalable sse message", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (g *Gateway) bumpConnection(ctx context.Context, name string, delta int) {
	server, err := g.store.GetServer(ctx, g.namespace, name)
	if err != nil {
		return
	}
	if delta > 0 {
		status.NotifyConnect(server)
	} else {
		status.NotifyDisconnect(server)
	}
	if err := g.store.PatchServerStatus(ctx, server); err != nil {
		klog.V(2).InfoS("failed to persist connection count", "name", name, "err", err)
	}
}

// handleMessage implements POST /{name}/message?sessionId=<uuid> (spec §6).
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sessionID := r.URL.Query().Get("sessionId")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeAPIError(w, apierror.New(apierror.NameValidation, http.StatusUnprocessableEntity, "sessionId must be a uuid"))
		return
	}

	ctx := r.Context()
	if _, err := g.requestUp(ctx, name, false); err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("message", "error").Inc()
		writeAPIError(w, err)
		return
	}

	t, err := g.cache.GetOrCreate(ctx, g.namespace, name)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("message", "error").Inc()
		writeAPIError(w, err)
		return
	}

	peer, err := t.GetPeer(sessionID)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("message", "error").Inc()
		writeAPIError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("message", "error").Inc()
		writeAPIError(w, apierror.New(apierror.NameValidation, http.StatusUnprocessableEntity, "could not read request body"))
		return
	}
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("message", "error").Inc()
		writeAPIError(w, apierror.New(apierror.NameValidation, http.StatusUnprocessableEntity, "invalid JSON-RPC body"))
		return
	}

	resp, err := peer.SendRequest(ctx, msg)
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues("message", "error").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(jsonrpc.InternalError(msg.ID, err.Error()))
		return
	}
	metrics.GatewayRequestsTotal.WithLabelValues("message", "ok").Inc()

	g.incrementTotalRequests(ctx, name)

	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) incrementTotalRequests(ctx context.Context, name string) {
	server, err := g.store.GetServer(ctx, g.namespace, name)
	if err != nil {
		return
	}
	status.NotifyRequest(server, metav1.Now())
	if err := g.store.PatchServerStatus(ctx, server); err != nil {
		klog.V(2).InfoS("failed to persist total_requests", "name", name, "err", err)
	}
}
