// Package relay fans engine changes and notifications out to UI clients.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const subscriberBufSize = 256

// Feed names published by the history daemon.
const (
	FeedChange       = "change"
	FeedNotification = "notification"
)

// Event is one message on a feed. Payload is pre-encoded JSON.
type Event struct {
	ID      string
	Feed    string
	Payload string
}

// Broker fans out events to every subscriber.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
	closed      bool
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The returned channel is buffered; slow
// consumers lose events rather than stall publishers. A closed broker returns
// an already-closed channel.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishJSON encodes v and publishes it on feed.
func (b *Broker) PublishJSON(feed string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: encode %s event: %w", feed, err)
	}
	b.Publish(Event{Feed: feed, Payload: string(data)})
	return nil
}

// Close disconnects every subscriber. Later subscriptions are closed at once.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were lost to full subscriber buffers.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
