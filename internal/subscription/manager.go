package subscription

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/relaylink/internal/protocol"
)

// EventBus is the publish/subscribe source of subscription events.
type EventBus interface {
	Subscribe(field string, fn func(payload any)) (string, error)
	Unsubscribe(id string) error
}

// Sender writes envelopes back to the relay.
type Sender interface {
	SendData(name, id string, data any) bool
	SendError(name, id, message string) bool
}

// Config configures a Manager.
type Config struct {
	CoalesceWindow  time.Duration // Window for high-churn fields
	HighChurnFields []string      // Fields whose updates are coalesced
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CoalesceWindow:  time.Second,
		HighChurnFields: []string{"dashboard"},
	}
}

// Manager handles start/stop envelopes for one relay connection.
type Manager struct {
	cfg    Config
	bus    EventBus
	feeds  *Feeds
	sender Sender
	logger *slog.Logger

	registry  *Registry
	dedup     *DedupCache
	highChurn map[string]struct{}
}

// NewManager creates a Manager. feeds may be nil.
func NewManager(cfg Config, bus EventBus, feeds *Feeds, sender Sender, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	highChurn := make(map[string]struct{}, len(cfg.HighChurnFields))
	for _, f := range cfg.HighChurnFields {
		highChurn[f] = struct{}{}
	}

	return &Manager{
		cfg:       cfg,
		bus:       bus,
		feeds:     feeds,
		sender:    sender,
		logger:    logger,
		registry:  NewRegistry(),
		dedup:     NewDedupCache(),
		highChurn: highChurn,
	}
}

// Len returns the number of active subscriptions.
func (m *Manager) Len() int {
	return m.registry.Len()
}

// Start handles a start envelope. Failures are reported to the relay as an
// error envelope and returned; no entry is created for them.
func (m *Manager) Start(env protocol.Envelope) error {
	field, err := m.subscriptionField(env)
	if err != nil {
		m.reject(env.ID, "subscription", err)
		return err
	}

	if _, exists := m.registry.Get(env.ID); exists {
		err := fmt.Errorf("%w: %s", ErrDuplicateID, env.ID)
		m.reject(env.ID, field, err)
		return err
	}

	state := &entryState{}
	notify := m.deliverFunc(env.ID, field, state)
	if _, ok := m.highChurn[field]; ok {
		state.coalescer = NewCoalescer(m.cfg.CoalesceWindow, notify)
		notify = state.coalescer.Push
	}

	subID, err := m.bus.Subscribe(field, notify)
	if err != nil {
		if state.coalescer != nil {
			state.coalescer.Stop()
		}
		err = fmt.Errorf("subscribe %s: %w", field, err)
		m.reject(env.ID, field, err)
		return err
	}

	entry := Entry{MessageID: env.ID, SubscriptionID: subID, FieldName: field, state: state}
	if err := m.registry.Add(entry); err != nil {
		m.release(entry, false)
		m.reject(env.ID, field, err)
		return err
	}

	if m.feeds != nil {
		if err := m.feeds.Acquire(field); err != nil {
			m.logger.Warn("failed to start shared feed", "feed", field, "error", err)
		} else {
			state.feedRef.Store(true)
		}
	}

	m.logger.Debug("subscription started",
		"id", env.ID,
		"field", field,
		"subscription_id", subID,
		"active", m.registry.Len(),
	)
	return nil
}

// Stop handles a stop envelope. Stopping an unknown id is logged and
// otherwise ignored. It reports whether a subscription was removed.
func (m *Manager) Stop(env protocol.Envelope) bool {
	entry, ok := m.registry.Take(env.ID)
	if !ok {
		m.logger.Debug("stop for unknown subscription", "id", env.ID)
		return false
	}

	m.release(entry, true)

	m.logger.Debug("subscription stopped",
		"id", entry.MessageID,
		"field", entry.FieldName,
		"active", m.registry.Len(),
	)
	return true
}

// Close unsubscribes every active subscription and clears the registry. It
// returns how many subscriptions were torn down.
func (m *Manager) Close() int {
	entries := m.registry.Drain()
	for _, e := range entries {
		m.release(e, true)
	}
	m.dedup.Reset()

	if len(entries) > 0 {
		m.logger.Info("subscriptions torn down", "count", len(entries))
	}
	return len(entries)
}

func (m *Manager) subscriptionField(env protocol.Envelope) (string, error) {
	payload, err := protocol.DecodeOperation(env)
	if err != nil {
		return "", err
	}
	op, err := protocol.ParseOperation(payload.Query)
	if err != nil {
		return "", err
	}
	return op.SubscriptionField()
}

// deliverFunc builds the bus callback for one subscription.
func (m *Manager) deliverFunc(id, field string, state *entryState) func(any) {
	key := dedupKey(field, id)

	return func(payload any) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("panic delivering subscription event", "id", id, "field", field, "panic", r)
			}
		}()

		if state.closed.Load() {
			return
		}

		changed, err := m.dedup.Changed(key, payload)
		if err != nil {
			m.logger.Warn("dropping undeliverable event", "id", id, "field", field, "error", err)
			return
		}
		if !changed {
			return
		}

		m.sender.SendData(field, id, payload)
	}
}

// release frees everything an entry holds. Unsubscribe failures are logged
// and treated as success.
func (m *Manager) release(e Entry, dropFeed bool) {
	if e.state != nil {
		e.state.closed.Store(true)
		if e.state.coalescer != nil {
			e.state.coalescer.Stop()
		}
	}

	if err := m.bus.Unsubscribe(e.SubscriptionID); err != nil {
		m.logger.Debug("unsubscribe failed", "id", e.MessageID, "subscription_id", e.SubscriptionID, "error", err)
	}

	m.dedup.Forget(dedupKey(e.FieldName, e.MessageID))

	if dropFeed && m.feeds != nil && e.state != nil && e.state.feedRef.Load() {
		m.feeds.Release(e.FieldName)
	}
}

func (m *Manager) reject(id, name string, err error) {
	m.logger.Warn("subscription rejected", "id", id, "error", err)
	m.sender.SendError(name, id, err.Error())
}

// dedupKey scopes the last-sent cache to one field of one subscription.
func dedupKey(field, id string) string {
	return field + "\x00" + id
}
