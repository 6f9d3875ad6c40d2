package hub

import (
	"sync"
)

// closedCh is returned by Subscription.Ready when events are already pending.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Fanout is a room's broadcast bus: a fixed-size ring of encoded frames read
// independently by every subscriber.
//
// Delivery is at-most-once and lossy. Publishers never wait for
// readers; the newest frame overwrites the oldest once the ring is full, and a
// subscriber that fell more than capacity frames behind skips forward to the
// oldest frame still retained.
type Fanout struct {
	mu          sync.Mutex
	ring        [][]byte
	head        uint64        // sequence number of the next frame
	wake        chan struct{} // closed and replaced on every publish
	subscribers int
}

// newFanout creates a fan-out channel with the given capacity.
func newFanout(capacity int) *Fanout {
	if capacity < 1 {
		capacity = 1
	}
	return &Fanout{
		ring: make([][]byte, capacity),
		wake: make(chan struct{}),
	}
}

// Publish appends a frame for all current subscribers.
// Returns false, discarding the frame, when nobody is subscribed.
func (f *Fanout) Publish(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers == 0 {
		return false
	}

	f.ring[f.head%uint64(len(f.ring))] = frame
	f.head++

	close(f.wake)
	f.wake = make(chan struct{})
	return true
}

// Subscribe returns a subscription that observes frames published from now on.
func (f *Fanout) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribers++
	return &Subscription{f: f, next: f.head}
}

// Subscribers returns the number of open subscriptions.
func (f *Fanout) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers
}

// Capacity returns the ring size.
func (f *Fanout) Capacity() int {
	return len(f.ring)
}

// Subscription is one reader's cursor into a Fanout. It is not safe for
// concurrent use; each connection's outbound loop owns its own.
type Subscription struct {
	f      *Fanout
	next   uint64
	lagged uint64
	closed bool
}

// Ready returns a channel that is closed once a frame is available.
// Call it again after every Next.
func (s *Subscription) Ready() <-chan struct{} {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.next < s.f.head {
		return closedCh
	}
	return s.f.wake
}

// Next returns the next frame without blocking. skipped is the number of
// frames this subscriber lost because it fell behind the ring.
func (s *Subscription) Next() (frame []byte, skipped uint64, ok bool) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()

	if s.closed {
		return nil, 0, false
	}

	capacity := uint64(len(s.f.ring))
	if s.f.head > capacity && s.next < s.f.head-capacity {
		oldest := s.f.head - capacity
		skipped = oldest - s.next
		s.lagged += skipped
		s.next = oldest
	}

	if s.next == s.f.head {
		return nil, skipped, false
	}

	frame = s.f.ring[s.next%capacity]
	s.next++
	return frame, skipped, true
}

// Lagged returns the total number of frames skipped so far.
func (s *Subscription) Lagged() uint64 {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return s.lagged
}

// Close detaches the subscription. Closing twice is a no-op.
func (s *Subscription) Close() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.f.subscribers--
}
