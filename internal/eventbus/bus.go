// Package eventbus is an in-process publish/subscribe bus keyed by
// subscription field name.
//
// Every subscriber owns an unbounded mailbox drained by a single goroutine,
// so a subscriber sees payloads for its field in publish order and a slow
// subscriber never blocks publishers or other subscribers.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrClosed              = errors.New("event bus closed")
	ErrNilHandler          = errors.New("nil handler")
)

const initialMailboxCapacity = 16

type subscriber struct {
	id    string
	field string
	fn    func(any)
	box   *mailbox[any]
	done  chan struct{}
}

// Stats summarizes the bus.
type Stats struct {
	Subscribers int            `json:"subscribers"`
	Fields      map[string]int `json:"fields"`
	Pending     int            `json:"pending"`
	Published   int64          `json:"published"`
}

// Bus routes published payloads to the subscribers of a field.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	subs      map[string]*subscriber
	byField   map[string]map[string]*subscriber
	published int64
	closed    bool
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:  logger,
		subs:    make(map[string]*subscriber),
		byField: make(map[string]map[string]*subscriber),
	}
}

// Subscribe registers fn for payloads published on field and returns the
// subscription id.
func (b *Bus) Subscribe(field string, fn func(any)) (string, error) {
	if fn == nil {
		return "", ErrNilHandler
	}

	sub := &subscriber{
		id:    uuid.NewString(),
		field: field,
		fn:    fn,
		box:   newMailbox[any](initialMailboxCapacity),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	b.subs[sub.id] = sub
	if b.byField[field] == nil {
		b.byField[field] = make(map[string]*subscriber)
	}
	b.byField[field][sub.id] = sub
	b.mu.Unlock()

	go b.drain(sub)

	b.logger.Debug("subscriber added", "field", field, "subscription_id", sub.id)
	return sub.id, nil
}

// Unsubscribe removes a subscription. Payloads still queued for it are
// dropped. It returns ErrUnknownSubscription for an id that is not active.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownSubscription
	}
	b.remove(sub)
	b.mu.Unlock()

	sub.box.close()
	b.logger.Debug("subscriber removed", "field", sub.field, "subscription_id", id)
	return nil
}

// Publish queues payload for every subscriber of field and returns how many
// subscribers it was queued for.
func (b *Bus) Publish(field string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	b.published++

	n := 0
	for _, sub := range b.byField[field] {
		if sub.box.put(payload) {
			n++
		}
	}
	return n
}

// Subscribers returns the number of subscribers of field.
func (b *Bus) Subscribers(field string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byField[field])
}

// Stats returns a snapshot of subscriber and queue counts.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Subscribers: len(b.subs),
		Fields:      make(map[string]int, len(b.byField)),
		Published:   b.published,
	}
	for field, subs := range b.byField {
		stats.Fields[field] = len(subs)
	}
	for _, sub := range b.subs {
		stats.Pending += sub.box.len()
	}
	return stats
}

// Close removes every subscription and waits for in-flight deliveries.
// Later Subscribe calls fail with ErrClosed and Publish becomes a no-op.
// It must not be called from a subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
		b.remove(sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.box.close()
		<-sub.done
	}
}

// remove must be called with b.mu held.
func (b *Bus) remove(sub *subscriber) {
	delete(b.subs, sub.id)
	if field := b.byField[sub.field]; field != nil {
		delete(field, sub.id)
		if len(field) == 0 {
			delete(b.byField, sub.field)
		}
	}
}

func (b *Bus) drain(sub *subscriber) {
	defer close(sub.done)
	for {
		payload, ok := sub.box.take()
		if !ok {
			return
		}
		b.deliver(sub, payload)
	}
}

func (b *Bus) deliver(sub *subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"field", sub.field,
				"subscription_id", sub.id,
				"panic", r,
			)
		}
	}()
	sub.fn(payload)
}
