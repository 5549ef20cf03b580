package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fan-outs the payload to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}

// Published is one delivery on a multi-topic subscription, tagged with the
// topic it arrived on.
type Published struct {
	Topic   Event `json:"topic"`
	Payload any   `json:"payload"`
}

// SubscribeMany merges several topics into one tagged channel. The channel
// closes once the returned unsubscribe function is called and all topic
// forwarders have drained.
func (b *Bus) SubscribeMany(buffer int, topics ...Event) (<-chan Published, func()) {
	merged := make(chan Published, buffer)
	done := make(chan struct{})

	var wg sync.WaitGroup
	unsubs := make([]func(), 0, len(topics))
	for _, topic := range topics {
		ch, unsub := b.Subscribe(topic, buffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func(topic Event, ch <-chan any) {
			defer wg.Done()
			for msg := range ch {
				select {
				case merged <- Published{Topic: topic, Payload: msg}:
				case <-done:
					return
				}
			}
		}(topic, ch)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			for _, unsub := range unsubs {
				unsub()
			}
			wg.Wait()
			close(merged)
		})
	}
	return merged, stop
}
