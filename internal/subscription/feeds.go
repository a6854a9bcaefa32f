package subscription

import (
	"log/slog"
	"sync"
)

// Producer generates events for a shared feed while it has subscribers.
type Producer interface {
	Start() error
	Stop()
}

// Feeds reference-counts shared producers by feed name. A producer starts on
// its first subscriber and stops when the last one goes away. Names without a
// registered producer are ignored.
type Feeds struct {
	logger *slog.Logger

	mu        sync.Mutex
	producers map[string]Producer
	refs      map[string]int
}

// NewFeeds creates an empty feed set.
func NewFeeds(logger *slog.Logger) *Feeds {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeds{
		logger:    logger,
		producers: make(map[string]Producer),
		refs:      make(map[string]int),
	}
}

// Register installs the producer for a feed name.
func (f *Feeds) Register(name string, p Producer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producers[name] = p
}

// Shared reports whether name has a shared producer.
func (f *Feeds) Shared(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.producers[name]
	return ok
}

// Acquire adds a reference to the feed, starting its producer on the first
// one.
func (f *Feeds) Acquire(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.producers[name]
	if !ok {
		return nil
	}

	if f.refs[name] == 0 {
		if err := p.Start(); err != nil {
			return err
		}
		f.logger.Info("shared feed started", "feed", name)
	}
	f.refs[name]++
	return nil
}

// Release drops a reference, stopping the producer when none remain.
// Releasing a feed with no references is a no-op.
func (f *Feeds) Release(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.producers[name]
	if !ok || f.refs[name] == 0 {
		return
	}

	f.refs[name]--
	if f.refs[name] == 0 {
		p.Stop()
		f.logger.Info("shared feed stopped", "feed", name)
	}
}

// Refs returns the current reference count for name.
func (f *Feeds) Refs(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[name]
}
