package peripheral

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/srg/blimp/internal/groutine"
)

// Unbounded is the capacity sentinel for a write stream without a buffering bound.
const Unbounded = math.MaxInt

// OverflowPolicy decides what happens when a write arrives at a full stream.
// The stream itself only accepts or rejects; the policy is chosen by the transport shim.
type OverflowPolicy int

const (
	// OverflowReject refuses the new request with ErrStreamFull.
	OverflowReject OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest queued request to make room.
	OverflowDropOldest
	// OverflowBlock waits for room until the producer's context ends.
	OverflowBlock
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowReject:
		return "reject"
	case OverflowDropOldest:
		return "drop-oldest"
	case OverflowBlock:
		return "block"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy maps a policy name ("reject", "drop-oldest", "block") to its value.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return OverflowReject, nil
	case "drop-oldest", "drop_oldest":
		return OverflowDropOldest, nil
	case "block":
		return OverflowBlock, nil
	default:
		return OverflowReject, fmt.Errorf("invalid overflow policy: %s (must be reject, drop-oldest, or block)", s)
	}
}

// StreamMetrics is a snapshot of write stream counters.
type StreamMetrics struct {
	Accepted  int64 // requests queued
	Delivered int64 // requests received by the consumer
	Dropped   int64 // requests evicted by OverflowDropOldest or abandoned on shutdown
	Rejected  int64 // requests refused because the stream was full
	Forwarded int64 // requests moved unread to the next registered stream
}

// WriteStream is a capacity-bounded queue of incoming writes consumed through C().
//
// Producers never block unless they ask for OverflowBlock. A pump goroutine moves queued
// requests to the consumer channel, so besides the Cap() queued requests one more may be
// in hand-off to the consumer.
//
// After close the stream accepts nothing new, the remaining backlog is still delivered,
// and then C() is closed. If a successor stream is registered before the backlog is read,
// whatever is still unread moves to the successor instead.
type WriteStream struct {
	name     string
	capacity int
	out      chan IncomingWrite

	mu        sync.Mutex
	pending   []IncomingWrite
	closed    bool
	finished  bool          // pump exited, pending is no longer served
	successor *WriteStream  // set by handOver
	space     chan struct{} // closed and replaced whenever a slot frees up

	wake        chan struct{}
	abort       chan struct{}
	abortOnce   sync.Once
	handoff     chan struct{}
	handoffOnce sync.Once
	done        chan struct{}

	accepted  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
	forwarded atomic.Int64
}

func newWriteStream(ctx context.Context, name string, capacity int) *WriteStream {
	if capacity <= 0 {
		capacity = Unbounded
	}
	s := &WriteStream{
		name:     name,
		capacity: capacity,
		out:      make(chan IncomingWrite),
		space:    make(chan struct{}),
		wake:     make(chan struct{}, 1),
		abort:    make(chan struct{}),
		handoff:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	groutine.Go(ctx, "write-stream-"+name, func(ctx context.Context) {
		s.pump()
	})
	return s
}

// C returns the consumer channel. It is closed once the stream is stopped and drained.
func (s *WriteStream) C() <-chan IncomingWrite {
	return s.out
}

// Len returns the number of queued requests not yet handed to the consumer.
func (s *WriteStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cap returns the stream capacity, Unbounded if no bound was requested.
func (s *WriteStream) Cap() int {
	return s.capacity
}

// Closed reports whether the stream stopped accepting requests.
func (s *WriteStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the pump goroutine has exited.
func (s *WriteStream) Done() <-chan struct{} {
	return s.done
}

// Metrics returns a snapshot of the stream counters.
func (s *WriteStream) Metrics() StreamMetrics {
	return StreamMetrics{
		Accepted:  s.accepted.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Rejected:  s.rejected.Load(),
		Forwarded: s.forwarded.Load(),
	}
}

// offer queues item according to policy.
func (s *WriteStream) offer(ctx context.Context, item IncomingWrite, policy OverflowPolicy) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrStreamClosed
		}

		if len(s.pending) < s.capacity {
			s.pending = append(s.pending, item)
			s.mu.Unlock()
			s.accepted.Add(1)
			s.signalWake()
			return nil
		}

		switch policy {
		case OverflowDropOldest:
			s.pending[0] = IncomingWrite{}
			s.pending = append(s.pending[1:], item)
			s.mu.Unlock()
			s.dropped.Add(1)
			s.accepted.Add(1)
			s.signalWake()
			return nil

		case OverflowBlock:
			space := s.space
			s.mu.Unlock()
			select {
			case <-space:
				continue
			case <-s.abort:
				return ErrStreamClosed
			case <-ctx.Done():
				s.rejected.Add(1)
				return fmt.Errorf("%w: %w", ErrStreamFull, ctx.Err())
			}

		default:
			s.mu.Unlock()
			s.rejected.Add(1)
			return ErrStreamFull
		}
	}
}

// close stops accepting new requests; the backlog is still delivered.
func (s *WriteStream) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.releaseSpaceLocked()
	}
	s.mu.Unlock()
	s.signalWake()
}

// abandon closes the stream and discards the backlog without waiting for a consumer.
// Discarded requests are answered with ErrInsuffResources.
func (s *WriteStream) abandon() {
	s.close()
	s.abortOnce.Do(func() {
		close(s.abort)
	})
}

// handOver closes the stream and moves every request its consumer has not received,
// including one already in hand-off, to next. C() is closed afterwards.
func (s *WriteStream) handOver(next *WriteStream) {
	s.mu.Lock()
	s.successor = next
	s.mu.Unlock()
	s.close()
	s.handoffOnce.Do(func() {
		close(s.handoff)
	})
}

// adopt puts requests forwarded by a predecessor ahead of the local backlog. They were
// already accepted once, so capacity does not apply. Returns false if the pump has exited.
func (s *WriteStream) adopt(items []IncomingWrite) bool {
	if len(items) == 0 {
		return true
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	merged := make([]IncomingWrite, 0, len(items)+len(s.pending))
	merged = append(merged, items...)
	s.pending = append(merged, s.pending...)
	s.mu.Unlock()
	s.accepted.Add(int64(len(items)))
	s.signalWake()
	return true
}

func (s *WriteStream) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *WriteStream) releaseSpaceLocked() {
	close(s.space)
	s.space = make(chan struct{})
}

func (s *WriteStream) pump() {
	defer close(s.done)
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.pending) == 0 {
			if s.closed {
				s.finished = true
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.abort:
				s.discard(nil)
				return
			case <-s.handoff:
				s.forward(nil)
				return
			}
			s.mu.Lock()
		}
		item := s.pending[0]
		s.pending[0] = IncomingWrite{}
		s.pending = s.pending[1:]
		s.releaseSpaceLocked()
		s.mu.Unlock()

		select {
		case s.out <- item:
			s.delivered.Add(1)
		case <-s.abort:
			s.discard([]IncomingWrite{item})
			return
		case <-s.handoff:
			s.forward([]IncomingWrite{item})
			return
		}
	}
}

// takeRemaining marks the pump finished and returns inHand followed by the backlog.
func (s *WriteStream) takeRemaining(inHand []IncomingWrite) ([]IncomingWrite, *WriteStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	items := append(inHand, s.pending...)
	s.pending = nil
	return items, s.successor
}

// discard drops the backlog plus requests already taken by the pump.
func (s *WriteStream) discard(inHand []IncomingWrite) {
	items, _ := s.takeRemaining(inHand)
	s.dropped.Add(int64(len(items)))
	refuse(items)
}

// forward moves the backlog plus requests already taken by the pump to the successor.
func (s *WriteStream) forward(inHand []IncomingWrite) {
	items, next := s.takeRemaining(inHand)
	if len(items) == 0 {
		return
	}
	if next != nil && next.adopt(items) {
		s.forwarded.Add(int64(len(items)))
		return
	}
	s.dropped.Add(int64(len(items)))
	refuse(items)
}

// refuse answers requests that will never reach a consumer.
func refuse(items []IncomingWrite) {
	for _, it := range items {
		if it.Request != nil && !it.Request.WithoutResponse {
			_ = it.Request.resolve(ble.ErrInsuffResources)
		}
	}
}
