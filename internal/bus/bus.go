package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus fans events out to in-process subscribers. A subscriber receives every
// event whose Kind starts with its namespace. Publish never blocks: an event
// for a subscriber with a full buffer is dropped and counted against that
// subscriber's namespace, so the reader can notice and recover.
type Bus struct {
	mu    sync.RWMutex
	subs  map[*subscriber]struct{}
	drops sync.Map // namespace -> *atomic.Uint64
}

type subscriber struct {
	namespace string
	ch        chan Event
	dropped   *atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers evt to every matching subscriber that has room for it.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.namespace) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped is the number of events lost so far by subscribers of namespace.
// It only grows; readers compare it against the last value they saw.
func (b *Bus) Dropped(namespace string) uint64 {
	return b.counter(namespace).Load()
}

func (b *Bus) counter(namespace string) *atomic.Uint64 {
	c, _ := b.drops.LoadOrStore(namespace, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

// Subscribe registers a subscriber for namespace with a buffer of size.
// The returned function unsubscribes and may be called more than once. The
// channel is never closed.
func (b *Bus) Subscribe(namespace string, size int) (<-chan Event, func()) {
	s := &subscriber{
		namespace: namespace,
		ch:        make(chan Event, size),
		dropped:   b.counter(namespace),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}
}
