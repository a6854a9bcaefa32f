package eventbus

import "sync"

// mailbox is an unbounded FIFO queue backed by a ring buffer that doubles
// once it is 70% full. Senders never block.
type mailbox[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	resizes int
}

func newMailbox[T any](initialCapacity int) *mailbox[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	m := &mailbox[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put appends item. It returns false once the mailbox is closed.
func (m *mailbox[T]) put(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	threshold := (m.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if m.count+1 >= threshold {
		m.grow()
	}

	m.buf[m.tail] = item
	m.tail = (m.tail + 1) % m.capacity
	m.count++

	m.cond.Signal()
	return true
}

// take blocks until an item is available. It returns false once the
// mailbox is closed; items still queued at that point are discarded.
func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.count == 0 && !m.closed {
		m.cond.Wait()
	}

	var zero T
	if m.closed {
		return zero, false
	}

	item := m.buf[m.head]
	m.buf[m.head] = zero
	m.head = (m.head + 1) % m.capacity
	m.count--
	return item, true
}

// close drops queued items and wakes the reader.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	clear(m.buf)
	m.count = 0
	m.cond.Broadcast()
}

func (m *mailbox[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// grow doubles the capacity. Must be called with lock held.
func (m *mailbox[T]) grow() {
	newCapacity := m.capacity * 2
	newBuf := make([]T, newCapacity)

	if m.count > 0 {
		if m.head < m.tail {
			copy(newBuf, m.buf[m.head:m.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, m.buf[m.head:])
			copy(newBuf[n:], m.buf[:m.tail])
		}
	}

	m.buf = newBuf
	m.head = 0
	m.tail = m.count
	m.capacity = newCapacity
	m.resizes++
}
