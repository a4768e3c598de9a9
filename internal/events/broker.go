package events

import (
	"encoding/json"
	"sync"

	"github.com/poemonsense/antigravity-router/internal/utils"
)

// Subscriber is a destination for SSE frames. Write returns an error when
// the client is gone; the broker drops the subscriber on the first failure.
type Subscriber interface {
	Write(frame []byte) error
}

// Broker fans recorded events out to stream subscribers. Delivery order per
// subscriber matches record order; a subscriber that fails a write is
// removed and never written again.
type Broker struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[Subscriber]struct{})}
}

// Add registers a subscriber for live events
func (b *Broker) Add(sub Subscriber) {
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
}

// Remove unregisters a subscriber
func (b *Broker) Remove(sub Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Count returns the number of connected subscribers
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast delivers one event to every subscriber. Writes happen outside
// the broker lock; dead subscribers are reaped afterwards.
func (b *Broker) Broadcast(evt *Event) {
	frame, err := Frame(evt)
	if err != nil {
		utils.Error("[Events] Failed to encode event %s: %v", evt.ID, err)
		return
	}

	b.mu.Lock()
	targets := make([]Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var dead []Subscriber
	for _, sub := range targets {
		if err := sub.Write(frame); err != nil {
			dead = append(dead, sub)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, sub := range dead {
			delete(b.subs, sub)
		}
		b.mu.Unlock()
	}
}

// Frame encodes a payload as a single SSE data frame
func Frame(payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
