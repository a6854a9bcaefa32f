package subscription

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddTake(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Add(Entry{MessageID: "1", SubscriptionID: "s1", FieldName: "array"}))
	err := r.Add(Entry{MessageID: "1", SubscriptionID: "s2", FieldName: "array"})
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Equal(t, 1, r.Len())

	e, ok := r.Take("1")
	require.True(t, ok)
	assert.Equal(t, "s1", e.SubscriptionID)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Take("1")
	assert.False(t, ok)

	// The id is free again once removed.
	require.NoError(t, r.Add(Entry{MessageID: "1", SubscriptionID: "s3"}))
}

func TestRegistry_Drain(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Add(Entry{MessageID: id}))
	}

	entries := r.Drain()
	assert.Len(t, entries, 3)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Drain())
}

func TestDedupCache(t *testing.T) {
	d := NewDedupCache()

	changed, err := d.Changed("k", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.True(t, changed)

	// Same contents, different map instance and insertion order.
	changed, err = d.Changed("k", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = d.Changed("k", map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.True(t, changed)

	// Keys are independent.
	changed, err = d.Changed("other", map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.True(t, changed)

	d.Forget("k")
	changed, err = d.Changed("k", map[string]any{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.True(t, changed)

	d.Reset()
	assert.Equal(t, 0, d.Len())
}

func TestDedupCache_UnencodablePayload(t *testing.T) {
	d := NewDedupCache()
	_, err := d.Changed("k", make(chan int))
	assert.Error(t, err)
	assert.Equal(t, 0, d.Len())
}

type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) deliver(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func TestCoalescer_DeliversLatest(t *testing.T) {
	rec := &recorder{}
	c := NewCoalescer(30*time.Millisecond, rec.deliver)

	c.Push(1)
	c.Push(2)
	c.Push(3)
	assert.True(t, c.Pending())

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{3}, rec.snapshot())
	assert.False(t, c.Pending())

	// A new burst re-arms the timer.
	c.Push(4)
	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{3, 4}, rec.snapshot())
}

func TestCoalescer_Flush(t *testing.T) {
	rec := &recorder{}
	c := NewCoalescer(time.Hour, rec.deliver)

	assert.False(t, c.Flush())

	c.Push("a")
	c.Push("b")
	assert.True(t, c.Flush())
	assert.Equal(t, []any{"b"}, rec.snapshot())
	assert.False(t, c.Pending())
}

func TestCoalescer_StopDiscards(t *testing.T) {
	rec := &recorder{}
	c := NewCoalescer(20*time.Millisecond, rec.deliver)

	c.Push("x")
	c.Stop()
	c.Push("y")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.False(t, c.Flush())
}

type fakeProducer struct {
	starts, stops int
	err           error
}

func (p *fakeProducer) Start() error {
	if p.err != nil {
		return p.err
	}
	p.starts++
	return nil
}

func (p *fakeProducer) Stop() { p.stops++ }

func TestFeeds_RefCount(t *testing.T) {
	f := NewFeeds(nil)
	p := &fakeProducer{}
	f.Register("dashboard", p)

	require.NoError(t, f.Acquire("dashboard"))
	require.NoError(t, f.Acquire("dashboard"))
	assert.Equal(t, 1, p.starts)
	assert.Equal(t, 2, f.Refs("dashboard"))

	f.Release("dashboard")
	assert.Equal(t, 0, p.stops)

	f.Release("dashboard")
	assert.Equal(t, 1, p.stops)
	assert.Equal(t, 0, f.Refs("dashboard"))

	// Extra releases are ignored.
	f.Release("dashboard")
	assert.Equal(t, 1, p.stops)

	// Restarts on the next subscriber.
	require.NoError(t, f.Acquire("dashboard"))
	assert.Equal(t, 2, p.starts)
}

func TestFeeds_UnknownAndFailing(t *testing.T) {
	f := NewFeeds(nil)
	assert.NoError(t, f.Acquire("nothing"))
	f.Release("nothing")
	assert.False(t, f.Shared("nothing"))

	p := &fakeProducer{err: errors.New("boom")}
	f.Register("broken", p)
	assert.Error(t, f.Acquire("broken"))
	assert.Equal(t, 0, f.Refs("broken"))
}
