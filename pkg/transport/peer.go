package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nwrx/mcpserver-operator/pkg/apierror"
	"github.com/nwrx/mcpserver-operator/pkg/jsonrpc"
)

const (
	broadcastCapacity = 1024
	requestTimeout    = 10 * time.Second
)

// Peer is one client's view of a Transport: its own from-client and
// from-server broadcasters, relayed to and from the transport's shared
// channels by attach tasks (spec §4.7). A peer's lifetime is the SSE
// stream that holds it.
type Peer struct {
	SessionID string

	fromClient *broadcaster
	fromServer *broadcaster

	mu       sync.Mutex
	dropCh   chan struct{}
	dropOnce sync.Once
	cancels  []context.CancelFunc
}

// newPeer allocates a fresh peer with a UUID session id (spec §4.6 peer
// allocation).
func newPeer() *Peer {
	return &Peer{
		SessionID:  uuid.NewString(),
		fromClient: newBroadcaster(broadcastCapacity),
		fromServer: newBroadcaster(broadcastCapacity),
		dropCh:     make(chan struct{}),
	}
}

// AttachInput relays messages published on the peer's from-client
// broadcaster into stdin, the transport's shared stdin-write queue.
// Transport.Subscribe calls it once per freshly allocated peer. A second
// call is not rejected: it starts another relay, and each message is then
// forwarded to stdin once per relay.
func (p *Peer) AttachInput(ctx context.Context, stdin chan<- *jsonrpc.Message) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	sub := p.fromClient.subscribe()
	go func() {
		defer p.fromClient.unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.ch:
				if !ok {
					return
				}
				select {
				case stdin <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// AttachOutput relays messages from the transport's shared from-server
// broadcast subscription into the peer's own from-server broadcaster, so
// multiple readers (sse, send_request) of this peer observe the same
// workload output independently.
func (p *Peer) AttachOutput(ctx context.Context, sub *subscription) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.ch:
				if !ok {
					return
				}
				p.fromServer.publish(msg)
			}
		}
	}()
}

// SendMessageToServer publishes msg on from-client without waiting for a
// response (used for notifications, and as the first half of a request).
func (p *Peer) SendMessageToServer(msg *jsonrpc.Message) {
	p.fromClient.publish(msg)
}

// SendRequest publishes msg and, if it carries an id, waits up to 10s for
// the correlated response on from-server. The subscribe-before-publish
// ordering is mandatory: it eliminates a lost-wakeup race where the
// workload responds before the caller starts listening (spec §4.7).
func (p *Peer) SendRequest(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if !jsonrpc.IsRequest(msg) {
		p.SendMessageToServer(msg)
		return nil, nil
	}

	sub := p.fromServer.subscribe()
	defer p.fromServer.unsubscribe(sub)

	p.SendMessageToServer(msg)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	for {
		select {
		case <-p.dropCh:
			return nil, apierror.New(apierror.NameInternal, 500, "peer closed while awaiting response")
		case <-ctx.Done():
			return nil, apierror.Timeout(fmt.Sprintf("no response for request id within %s", requestTimeout))
		case resp, ok := <-sub.ch:
			if !ok {
				return nil, apierror.New(apierror.NameInternal, 500, "from-server channel closed")
			}
			if jsonrpc.MatchesID(resp, msg.ID) {
				return resp, nil
			}
		}
	}
}

// SSESubscription exposes the peer's from-server stream for the gateway's
// SSE handler.
func (p *Peer) SSESubscription() (*subscription, func()) {
	sub := p.fromServer.subscribe()
	return sub, func() { p.fromServer.unsubscribe(sub) }
}

// Dropped returns the channel that closes exactly once when Close is
// called.
func (p *Peer) Dropped() <-chan struct{} {
	return p.dropCh
}

// Close fires drop and aborts every attach task. Idempotent.
func (p *Peer) Close() {
	p.dropOnce.Do(func() { close(p.dropCh) })

	p.mu.Lock()
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
