package hub

import (
	"sync"
)

// Queue is a thread-safe FIFO that backs a connection's direct messages.
//
// The ring starts small and doubles its capacity when it reaches 70% full.
// With a positive max capacity it stops growing there and evicts the oldest
// pending item to admit a new one, so an unresponsive reader cannot grow the
// queue without bound. A max capacity of 0 keeps growing forever.
type Queue[T any] struct {
	mu          sync.Mutex
	buf         []T
	head        int // read position
	tail        int // write position
	count       int
	capacity    int
	maxCapacity int
	closed      bool

	ready chan struct{} // holds a token while items are pending
	done  chan struct{} // closed by Close

	// Stats
	totalReceived int64
	totalSent     int64
	dropped       int64
	resizeCount   int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count         int
	Capacity      int
	MaxCapacity   int
	TotalReceived int64
	TotalSent     int64
	Dropped       int64
	ResizeCount   int
}

// NewQueue creates a queue with the given initial and max capacity.
func NewQueue[T any](initialCapacity, maxCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < 0 {
		maxCapacity = 0
	}
	if maxCapacity > 0 && initialCapacity > maxCapacity {
		initialCapacity = maxCapacity
	}
	return &Queue[T]{
		buf:         make([]T, initialCapacity),
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Send adds an item to the queue. Grows the ring if at 70% capacity and
// evicts the oldest item when the ring is full at max capacity.
// Returns false if the queue is closed.
func (b *Queue[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.canGrow() {
		b.grow()
	}

	if b.count == b.capacity {
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.dropped++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.signal()
	return true
}

// TryReceive removes and returns the oldest item without blocking.
// Returns the item and true if available, or zero value and false otherwise.
func (b *Queue[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++

	if b.count > 0 {
		b.signal()
	}

	return item, true
}

// Ready returns a channel that yields while items are pending.
// A receive from it should be followed by TryReceive.
func (b *Queue[T]) Ready() <-chan struct{} {
	return b.ready
}

// Done returns a channel that is closed when the queue is closed.
func (b *Queue[T]) Done() <-chan struct{} {
	return b.done
}

// Close closes the queue. After closing, Send returns false.
// Closing twice is a no-op.
func (b *Queue[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Len returns the current number of items in the queue.
func (b *Queue[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the ring.
func (b *Queue[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns current queue statistics.
func (b *Queue[T]) Stats() QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return QueueStats{
		Count:         b.count,
		Capacity:      b.capacity,
		MaxCapacity:   b.maxCapacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		Dropped:       b.dropped,
		ResizeCount:   b.resizeCount,
	}
}

// signal leaves a token on ready if none is there. Must be called with lock held.
func (b *Queue[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *Queue[T]) canGrow() bool {
	return b.maxCapacity == 0 || b.capacity < b.maxCapacity
}

// grow doubles the ring capacity, capped at maxCapacity. Must be called with lock held.
func (b *Queue[T]) grow() {
	newCapacity := b.capacity * 2
	if b.maxCapacity > 0 && newCapacity > b.maxCapacity {
		newCapacity = b.maxCapacity
	}
	newBuf := make([]T, newCapacity)

	// Copy existing items to new buffer
	if b.count > 0 {
		if b.head < b.tail {
			// Contiguous: [head...tail)
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
