// Package gateway implements the lazy-start HTTP surface (spec §4.8, §6):
// request_up on every inbound call, a bounded transport cache with
// TTL/idle eviction, and the two routes that bridge SSE clients to the
// stdio multiplexer in pkg/transport.
package gateway

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/nwrx/mcpserver-operator/pkg/metrics"
	"github.com/nwrx/mcpserver-operator/pkg/transport"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

const (
	DefaultCapacity  = 1024
	DefaultTTL       = 30 * time.Minute
	DefaultIdleEvict = 2 * time.Minute
)

// Factory creates a freshly attached Transport for namespace/name. Supplied
// by cmd/gateway, backed by pkg/store + pkg/transport.Attach.
type Factory func(ctx context.Context, namespace, name string) (*transport.Transport, error)

type cacheEntry struct {
	key       string
	transport *transport.Transport
	createdAt time.Time
	lastUsed  time.Time
	elem      *list.Element
}

// TransportCache is the concurrency-safe get-or-create cache spec §4.8
// describes: bounded capacity, TTL, idle expiry, and at most one creation
// in flight per key (via golang.org/x/sync/singleflight — promoted from an
// indirect dependency the module already carried transitively).
type TransportCache struct {
	capacity   int
	ttl        time.Duration
	idleExpiry time.Duration
	factory    Factory

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // front = most recently used
}

// NewTransportCache constructs a cache. Zero values for capacity/ttl/idle
// fall back to the spec's stated defaults.
func NewTransportCache(capacity int, ttl, idleExpiry time.Duration, factory Factory) *TransportCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if idleExpiry <= 0 {
		idleExpiry = DefaultIdleEvict
	}
	return &TransportCache{
		capacity:   capacity,
		ttl:        ttl,
		idleExpiry: idleExpiry,
		factory:    factory,
		entries:    make(map[string]*cacheEntry),
		lru:        list.New(),
	}
}

// GetOrCreate returns the cached transport for namespace/name, creating one
// if absent or dead. Concurrent callers for the same key observe exactly
// one creation (spec §4.8 invariant: "at most one creation runs per key").
func (c *TransportCache) GetOrCreate(ctx context.Context, namespace, name string) (*transport.Transport, error) {
	key := transport.Key(namespace, name)

	if t, ok := c.touch(key); ok {
		return t, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if t, ok := c.touch(key); ok {
			return t, nil
		}
		t, err := c.factory(ctx, namespace, name)
		if err != nil {
			return nil, err
		}
		c.insert(key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*transport.Transport), nil
}

func (c *TransportCache) touch(key string) (*transport.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if entry.transport.IsDead() {
		c.removeLocked(entry)
		return nil, false
	}
	entry.lastUsed = time.Now()
	c.lru.MoveToFront(entry.elem)
	return entry.transport, true
}

func (c *TransportCache) insert(key string, t *transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	for len(c.entries) >= c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}

	now := time.Now()
	entry := &cacheEntry{key: key, transport: t, createdAt: now, lastUsed: now}
	entry.elem = c.lru.PushFront(entry)
	c.entries[key] = entry
	metrics.TransportCacheSize.Set(float64(len(c.entries)))
}

func (c *TransportCache) removeLocked(entry *cacheEntry) {
	delete(c.entries, entry.key)
	c.lru.Remove(entry.elem)
	entry.transport.Close()
	metrics.TransportCacheSize.Set(float64(len(c.entries)))
}

// Evict removes and tears down the entry for key, if any.
func (c *TransportCache) Evict(key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, entry.key)
		c.lru.Remove(entry.elem)
	}
	c.mu.Unlock()
	if ok {
		entry.transport.Close()
	}
}

// Sweep evicts every entry past its TTL or idle-expiry threshold as of now.
// Called periodically by a janitor goroutine.
func (c *TransportCache) Sweep(now time.Time) {
	c.mu.Lock()
	var stale []*cacheEntry
	for _, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl || now.Sub(entry.lastUsed) > c.idleExpiry {
			stale = append(stale, entry)
		}
	}
	for _, entry := range stale {
		c.removeLocked(entry)
	}
	c.mu.Unlock()

	for _, entry := range stale {
		klog.V(2).InfoS("evicted transport", "key", entry.key)
	}
}

// Len reports the current number of cached entries (spec §8 invariant 7:
// "at most one entry per <namespace>-<name> at any time" — enforced by the
// map itself; Len is for tests and metrics).
func (c *TransportCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunJanitor sweeps on interval until ctx is cancelled.
func (c *TransportCache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}
