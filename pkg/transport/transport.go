// Package transport implements the stdio multiplexer (spec §4.6): one
// attach per Server workload, fanned out to any number of peers via the
// two shared broadcast channels, plus the per-peer request/response
// correlation built on top of them (spec §4.7, in peer.go).
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	"github.com/nwrx/mcpserver-operator/pkg/jsonrpc"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/klog/v2"
)

const (
	streamBufferSize = 256 * 1024
	containerName    = "server"
)

// Key is the cache key a Transport is stored under: "<namespace>-<name>".
func Key(namespace, name string) string {
	return fmt.Sprintf("%s-%s", namespace, name)
}

// Transport multiplexes one attached workload process over stdin/stdout/
// stderr to any number of Peers.
type Transport struct {
	key string

	clientset kubernetes.Interface
	config    *rest.Config

	fromServer *broadcaster
	stdinQueue chan *jsonrpc.Message

	mu     sync.RWMutex
	peers  map[string]*Peer
	cancel context.CancelFunc

	attached   atomic.Bool
	readerDone atomic.Bool
	writerDone atomic.Bool
	stderrDone atomic.Bool
}

// New constructs an unattached Transport for the given cache key.
func New(clientset kubernetes.Interface, config *rest.Config, namespace, name string) *Transport {
	return &Transport{
		key:        Key(namespace, name),
		clientset:  clientset,
		config:     config,
		fromServer: newBroadcaster(broadcastCapacity),
		stdinQueue: make(chan *jsonrpc.Message, broadcastCapacity),
		peers:      make(map[string]*Peer),
	}
}

// Key returns this transport's cache key.
func (t *Transport) Key() string { return t.key }

// IsDead reports whether any of the three I/O tasks has finished, per spec
// §4.6: "If any of the three tasks is observed finished on a subsequent
// subscribe, all three are aborted and the attach is retried."
func (t *Transport) IsDead() bool {
	if !t.attached.Load() {
		return false
	}
	return t.readerDone.Load() || t.writerDone.Load() || t.stderrDone.Load()
}

// Attach opens the remote attach stream to the workload pod's "server"
// container (stdin, stdout, stderr, no tty) and spawns the three I/O
// pumps. Uses the "attach" subresource rather than "exec": the workload's
// own entrypoint is already running as PID 1, so this joins its existing
// streams instead of spawning an additional process (the `kubectl attach`
// pattern, not `kubectl exec`).
func (t *Transport) Attach(ctx context.Context, namespace, podName string) error {
	ctx, cancel := context.WithCancel(ctx)

	req := t.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(namespace).
		SubResource("attach").
		VersionedParams(&corev1.PodAttachOptions{
			Container: containerName,
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(t.config, "POST", req.URL())
	if err != nil {
		cancel()
		return apierror.Wrap(err, apierror.NameTransient, 502, "failed to build exec executor")
	}

	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	streamErrCh := make(chan error, 1)
	go func() {
		streamErrCh <- executor.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdin:  stdinReader,
			Stdout: stdoutWriter,
			Stderr: stderrWriter,
			Tty:    false,
		})
	}()

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.attached.Store(true)
	t.readerDone.Store(false)
	t.writerDone.Store(false)
	t.stderrDone.Store(false)

	go t.pumpStdout(stdoutReader)
	go t.pumpStderr(stderrReader)
	go t.pumpStdin(ctx, stdinWriter)

	go func() {
		if err := <-streamErrCh; err != nil {
			klog.ErrorS(err, "transport exec stream ended", "key", t.key)
		}
	}()

	return nil
}

// pumpStdout reads newline-delimited JSON-RPC frames and broadcasts each
// to from-server. Parse errors are logged and dropped (spec §4.6, §7).
func (t *Transport) pumpStdout(r io.Reader) {
	defer t.readerDone.Store(true)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, streamBufferSize), streamBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.Parse(line)
		if err != nil {
			klog.V(2).InfoS("dropping unparseable stdout line", "key", t.key, "err", err)
			continue
		}
		t.fromServer.publish(msg)
	}
}

// pumpStderr mirrors pumpStdout's framing but only logs; stderr output
// never reaches a client.
func (t *Transport) pumpStderr(r io.Reader) {
	defer t.stderrDone.Store(true)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, streamBufferSize), streamBufferSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := jsonrpc.Parse(line); err != nil {
			klog.V(2).InfoS("dropping unparseable stderr line", "key", t.key, "err", err)
			continue
		}
		klog.V(3).InfoS("workload stderr", "key", t.key, "line", string(line))
	}
}

// pumpStdin serializes messages pulled from the shared stdin queue and
// writes them to the workload's stdin, terminating the task on the first
// write failure (spec §4.6) or when ctx is cancelled by Close.
func (t *Transport) pumpStdin(ctx context.Context, w io.WriteCloser) {
	defer w.Close()
	defer t.writerDone.Store(true)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.stdinQueue:
			encoded, err := jsonrpc.Encode(msg)
			if err != nil {
				klog.V(2).InfoS("dropping unserializable message", "key", t.key, "err", err)
				continue
			}
			if _, err := w.Write(encoded); err != nil {
				klog.ErrorS(err, "stdin write failed, transport is now dead", "key", t.key)
				return
			}
		}
	}
}

// Subscribe creates a fresh Peer, wires its relay tasks to this
// transport's shared channels, and registers it in the peer map.
func (t *Transport) Subscribe(ctx context.Context) *Peer {
	peer := newPeer()
	peer.AttachInput(ctx, t.stdinQueue)
	peer.AttachOutput(ctx, t.fromServer.subscribe())

	t.mu.Lock()
	t.peers[peer.SessionID] = peer
	t.mu.Unlock()

	return peer
}

// GetPeer returns a previously subscribed peer, or NotFound.
func (t *Transport) GetPeer(sessionID string) (*Peer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peer, ok := t.peers[sessionID]
	if !ok {
		return nil, apierror.New(apierror.NameNotFound, 404, "unknown session id")
	}
	return peer, nil
}

// RemovePeer closes and forgets the peer for sessionID. Safe to call more
// than once.
func (t *Transport) RemovePeer(sessionID string) {
	t.mu.Lock()
	peer, ok := t.peers[sessionID]
	if ok {
		delete(t.peers, sessionID)
	}
	t.mu.Unlock()
	if ok {
		peer.Close()
	}
}

// PeerCount reports the number of live peers. The gateway does not use it
// for current_connections, which it counts per SSE connect/disconnect.
func (t *Transport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Close aborts all I/O tasks and every peer (spec §5: "Transport eviction
// aborts all I/O tasks and fires close() on every peer").
func (t *Transport) Close() {
	t.mu.Lock()
	cancel := t.cancel
	peers := make([]*Peer, 0, len(t.peers))
	for id, peer := range t.peers {
		peers = append(peers, peer)
		delete(t.peers, id)
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, peer := range peers {
		peer.Close()
	}
	t.fromServer.closeAll()
}
