package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nwrx/mcpserver-operator/pkg/jsonrpc"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := newBroadcaster(4)
	s1 := b.subscribe()
	s2 := b.subscribe()
	defer b.unsubscribe(s1)
	defer b.unsubscribe(s2)

	msg := &jsonrpc.Message{ID: json.RawMessage("1")}
	b.publish(msg)

	select {
	case got := <-s1.ch:
		if got != msg {
			t.Fatalf("s1 got wrong message")
		}
	case <-time.After(time.Second):
		t.Fatal("s1 timed out waiting for message")
	}
	select {
	case got := <-s2.ch:
		if got != msg {
			t.Fatalf("s2 got wrong message")
		}
	case <-time.After(time.Second):
		t.Fatal("s2 timed out waiting for message")
	}
}

func TestBroadcasterDropsOnFullSubscriberWithoutBlocking(t *testing.T) {
	b := newBroadcaster(1)
	sub := b.subscribe()
	defer b.unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.publish(&jsonrpc.Message{ID: json.RawMessage("1")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newBroadcaster(1)
	sub := b.subscribe()
	b.unsubscribe(sub)

	_, ok := <-sub.ch
	if ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}
