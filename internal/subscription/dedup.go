package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// DedupCache remembers the last payload sent per key.
//
// Payloads are compared by value through their JSON encoding, which orders
// map keys, so two maps with the same contents are equal.
type DedupCache struct {
	mu   sync.Mutex
	last map[string][]byte
}

// NewDedupCache creates an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{last: make(map[string][]byte)}
}

// Changed reports whether payload differs from the cached value for key and,
// if so, stores it as the new value. The cache is updated before the caller
// sends, not after delivery is confirmed.
func (d *DedupCache) Changed(key string, payload any) (bool, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode payload for %s: %w", key, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.last[key]; ok && bytes.Equal(prev, encoded) {
		return false, nil
	}
	d.last[key] = encoded
	return true, nil
}

// Forget drops the cached value for key.
func (d *DedupCache) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, key)
}

// Reset drops every cached value.
func (d *DedupCache) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = make(map[string][]byte)
}

// Len returns the number of cached keys.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}
