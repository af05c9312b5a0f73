package bus

import (
	"context"
	"fmt"
	"sync"
)

// subscriberBuffer bounds how far a slow consumer may lag before
// payloads are dropped. Correctness never depends on delivery beyond
// the task row, so dropping is acceptable.
const subscriberBuffer = 256

// MemoryBroker is an in-process Broker for tests and single-process
// deployments. Semantics match the Redis broker: no replay, per-channel
// FIFO, slow subscribers lose messages.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memorySubscription)}
}

type memorySubscription struct {
	broker  *MemoryBroker
	channel string
	events  chan []byte
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan []byte {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.events)
	})
	return nil
}

// Publish delivers payload to current subscribers of channel.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}

	for _, sub := range b.subs[channel] {
		select {
		case sub.events <- payload:
		default:
			// Slow subscriber, drop.
		}
	}
	return nil
}

// Subscribe registers a new subscription on channel.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}

	sub := &memorySubscription{
		broker:  b,
		channel: channel,
		events:  make(chan []byte, subscriberBuffer),
	}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
}

// Subscribers reports the current subscription count on channel.
// Tests use it to sequence publishes after a subscriber attaches.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Ping always succeeds while the broker is open.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	return nil
}

// Close terminates all subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*memorySubscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.events) })
	}
	return nil
}
