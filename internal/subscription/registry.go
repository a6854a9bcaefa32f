package subscription

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrDuplicateID is returned when a subscription id is still outstanding.
var ErrDuplicateID = errors.New("subscription id already active")

// Entry tracks one active subscription.
type Entry struct {
	MessageID      string // Correlation id from the start envelope
	SubscriptionID string // Handle owned by the event bus
	FieldName      string

	state *entryState
}

// entryState holds the per-subscription resources torn down with the entry.
type entryState struct {
	closed    atomic.Bool
	coalescer *Coalescer
	feedRef   atomic.Bool // holds a reference on a shared feed
}

// Registry maps correlation ids to active subscriptions.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add stores an entry. An id may only be reused after its previous entry
// was removed.
func (r *Registry) Add(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.MessageID]; exists {
		return ErrDuplicateID
	}
	r.entries[e.MessageID] = e
	return nil
}

// Get returns the entry for id without removing it.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Take removes and returns the entry for id.
func (r *Registry) Take(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// Drain removes and returns every entry.
func (r *Registry) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.entries = make(map[string]Entry)
	return out
}

// Len returns the number of active entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
