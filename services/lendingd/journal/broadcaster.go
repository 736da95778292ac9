package journal

import (
	"context"
	"sync"

	"crossledger/core/events"
)

const subscriberBuffer = 64

// Broadcaster fans envelopes out to live subscribers. Slow subscribers lose
// envelopes rather than stalling the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan events.Envelope
	onDrop func()
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan events.Envelope)}
}

// OnDrop installs a callback invoked whenever a subscriber misses an envelope.
func (b *Broadcaster) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a subscriber. The channel closes when cancel is called
// or ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan events.Envelope, func()) {
	ch := make(chan events.Envelope, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// Publish delivers env to every subscriber without blocking.
func (b *Broadcaster) Publish(env events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
