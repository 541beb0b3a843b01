package events

import (
	"sync"
	"sync/atomic"
)

// Bus is the pub/sub surface for project and attempt topics.
type Bus interface {
	// Publish sends an envelope to all subscribers of its topic.
	Publish(ev Envelope)
	// Subscribe returns a channel receiving envelopes for the topic.
	// Use GlobalTopic ("*") to receive every envelope.
	Subscribe(topic string) <-chan Envelope
	// Unsubscribe removes a subscription channel and closes it.
	Unsubscribe(topic string, ch <-chan Envelope)
	// Close shuts down the bus and all subscriptions.
	Close()
}

// MemoryBus is an in-memory Bus. Delivery is non-blocking: a subscriber
// whose buffer is full misses the envelope rather than stalling the
// publisher. Missed deliveries are counted per bus and reported through
// the optional drop handler.
type MemoryBus struct {
	subscribers map[string][]chan Envelope
	mu          sync.RWMutex
	bufferSize  int
	closed      bool

	dropped atomic.Uint64
	onDrop  func(topic string)
}

// BusOption configures a MemoryBus.
type BusOption func(*MemoryBus)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(size int) BusOption {
	return func(b *MemoryBus) {
		b.bufferSize = size
	}
}

// WithDropHandler installs a callback invoked once per missed delivery,
// with the envelope's topic. Must not block.
func WithDropHandler(fn func(topic string)) BusOption {
	return func(b *MemoryBus) {
		b.onDrop = fn
	}
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(opts ...BusOption) *MemoryBus {
	b := &MemoryBus{
		subscribers: make(map[string][]chan Envelope),
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends an envelope to topic subscribers and global subscribers.
func (b *MemoryBus) Publish(ev Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[ev.Topic] {
		select {
		case ch <- ev:
		default:
			b.drop(ev.Topic)
		}
	}

	if ev.Topic != GlobalTopic {
		for _, ch := range b.subscribers[GlobalTopic] {
			select {
			case ch <- ev:
			default:
				b.drop(ev.Topic)
			}
		}
	}
}

func (b *MemoryBus) drop(topic string) {
	b.dropped.Add(1)
	if b.onDrop != nil {
		b.onDrop(topic)
	}
}

// Dropped returns the number of deliveries missed because a subscriber's
// buffer was full.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe returns a channel receiving envelopes for the topic.
func (b *MemoryBus) Subscribe(topic string) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Envelope)
		close(ch)
		return ch
	}

	ch := make(chan Envelope, b.bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (b *MemoryBus) Unsubscribe(topic string, ch <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(b.subscribers[topic]) == 0 {
		delete(b.subscribers, topic)
	}
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for topic, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// TopicCount returns the number of topics with subscribers.
func (b *MemoryBus) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// NopBus is a no-op bus for tests or when events are disabled.
type NopBus struct{}

// NewNopBus creates a no-op bus.
func NewNopBus() *NopBus {
	return &NopBus{}
}

// Publish does nothing.
func (b *NopBus) Publish(ev Envelope) {}

// Subscribe returns a closed channel.
func (b *NopBus) Subscribe(topic string) <-chan Envelope {
	ch := make(chan Envelope)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (b *NopBus) Unsubscribe(topic string, ch <-chan Envelope) {}

// Close does nothing.
func (b *NopBus) Close() {}
