package dashboard

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/relaylink/internal/subscription"
)

type recordingBus struct {
	mu       sync.Mutex
	fields   []string
	payloads []any
}

func (b *recordingBus) Publish(field string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fields = append(b.fields, field)
	b.payloads = append(b.payloads, payload)
	return 1
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

func TestProducer_PublishesUntilStopped(t *testing.T) {
	bus := &recordingBus{}
	p := NewProducer(10*time.Millisecond, bus, func() Snapshot { return Snapshot{CPUs: 4} }, nil)

	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	assert.True(t, p.Running())

	require.Eventually(t, func() bool { return bus.count() >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.False(t, p.Running())

	n := bus.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, bus.count())

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, f := range bus.fields {
		assert.Equal(t, Field, f)
	}
	assert.Equal(t, Snapshot{CPUs: 4}, bus.payloads[0])
}

func TestProducer_Restart(t *testing.T) {
	bus := &recordingBus{}
	p := NewProducer(time.Hour, bus, func() Snapshot { return Snapshot{} }, nil)

	p.Stop()

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return bus.count() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return bus.count() == 2 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()
}

func TestProducer_InvalidInterval(t *testing.T) {
	p := NewProducer(0, &recordingBus{}, nil, nil)
	assert.True(t, errors.Is(p.Start(), ErrInvalidInterval))
	assert.False(t, p.Running())
}

func TestProducer_DrivenByFeeds(t *testing.T) {
	bus := &recordingBus{}
	p := NewProducer(time.Hour, bus, nil, nil)

	feeds := subscription.NewFeeds(nil)
	feeds.Register(Field, p)

	require.NoError(t, feeds.Acquire(Field))
	require.NoError(t, feeds.Acquire(Field))
	assert.True(t, p.Running())

	feeds.Release(Field)
	assert.True(t, p.Running())
	feeds.Release(Field)
	assert.False(t, p.Running())

	require.GreaterOrEqual(t, bus.count(), 1)
	snap, ok := bus.payloads[0].(Snapshot)
	require.True(t, ok)
	assert.Positive(t, snap.CPUs)
	assert.NotEmpty(t, snap.OS)
}
