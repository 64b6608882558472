package transport

import (
	"sync"

	"github.com/nwrx/mcpserver-operator/pkg/jsonrpc"
	"github.com/nwrx/mcpserver-operator/pkg/metrics"
	"k8s.io/klog/v2"
)

// broadcaster fans a single stream of JSON-RPC messages out to every
// current subscriber. A slow subscriber drops messages rather than
// blocking the publisher (spec §5 shared-resource policy, §9 broadcast
// lag note): each subscriber channel is sized capacity and sends are
// non-blocking.
type broadcaster struct {
	capacity int

	mu   sync.RWMutex
	subs map[int]chan *jsonrpc.Message
	next int
}

func newBroadcaster(capacity int) *broadcaster {
	return &broadcaster{capacity: capacity, subs: make(map[int]chan *jsonrpc.Message)}
}

// subscription is a handle a caller uses to read published messages and,
// eventually, unsubscribe.
type subscription struct {
	id int
	ch chan *jsonrpc.Message
}

// Messages returns the channel this subscription reads from. Closed once
// the subscription is torn down via unsubscribe/closeAll.
func (s *subscription) Messages() <-chan *jsonrpc.Message {
	return s.ch
}

func (b *broadcaster) subscribe() *subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan *jsonrpc.Message, b.capacity)
	b.subs[id] = ch
	return &subscription{id: id, ch: ch}
}

func (b *broadcaster) unsubscribe(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(ch)
	}
}

// publish delivers msg to every current subscriber without blocking. A
// full subscriber channel is logged and skipped — the publisher never
// waits on a stalled reader (this is what keeps a single slow SSE client
// from stalling the workload's stdin/stdout pumps).
func (b *broadcaster) publish(msg *jsonrpc.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			metrics.BroadcastDroppedTotal.Inc()
			klog.V(2).InfoS("broadcast lag, dropping message for slow subscriber", "subscriber", id)
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
