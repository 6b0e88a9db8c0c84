package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default sizes.
const (
	DefaultBuffer  = 256
	DefaultHistory = 512
)

// Option configures a Sink.
type Option func(*Sink)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithHistory sets how many recent events are kept for replay.
func WithHistory(n int) Option {
	return func(s *Sink) {
		if n >= 0 {
			s.historySize = n
		}
	}
}

// Sink is an ordered, append-only broadcast stream. It is safe for
// concurrent use.
type Sink struct {
	buffer      int
	historySize int

	mu      sync.Mutex
	seq     uint64
	history []Event
	subs    map[*Subscription]struct{}
	closed  bool

	dropped atomic.Int64
	now     func() time.Time
}

// NewSink returns an open Sink.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		buffer:      DefaultBuffer,
		historySize: DefaultHistory,
		subs:        make(map[*Subscription]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish stamps e with the next sequence number and delivers it to every
// subscriber. It never blocks. Events published after Close are discarded.
func (s *Sink) Publish(e Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return e
	}
	s.seq++
	e.Seq = s.seq
	if e.At.IsZero() {
		e.At = s.now()
	}
	if s.historySize > 0 {
		if len(s.history) == s.historySize {
			copy(s.history, s.history[1:])
			s.history = s.history[:len(s.history)-1]
		}
		s.history = append(s.history, e)
	}
	for sub := range s.subs {
		if !sub.deliver(e) {
			s.dropped.Add(1)
		}
	}
	return e
}

// Subscribe registers a subscriber. With replay the retained history is
// queued first, subject to the subscriber's buffer. Subscribing to a closed
// Sink returns a subscription whose channel is already closed.
func (s *Sink) Subscribe(replay bool) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription{sink: s, ch: make(chan Event, s.buffer)}
	if s.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	if replay {
		for _, e := range s.history {
			if !sub.deliver(e) {
				s.dropped.Add(1)
			}
		}
	}
	s.subs[sub] = struct{}{}
	return sub
}

// History returns a copy of the retained events.
func (s *Sink) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.history...)
}

// Dropped is the number of events discarded because a subscriber's buffer
// was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close ends every subscription. It is idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.closeLocked()
	}
	s.subs = nil
}

// Subscription is one consumer of a Sink.
type Subscription struct {
	sink    *Sink
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// Events returns the channel events arrive on. It is closed when the
// subscription or the Sink is closed.
func (sub *Subscription) Events() <-chan Event { return sub.ch }

// Dropped is the number of events this subscriber missed.
func (sub *Subscription) Dropped() int64 { return sub.dropped.Load() }

// Close unsubscribes. It is idempotent.
func (sub *Subscription) Close() {
	sub.sink.mu.Lock()
	defer sub.sink.mu.Unlock()
	if sub.closed {
		return
	}
	delete(sub.sink.subs, sub)
	sub.closeLocked()
}

func (sub *Subscription) closeLocked() {
	sub.closed = true
	close(sub.ch)
}

// deliver queues e, evicting the oldest queued event when the buffer is full.
// It reports false when an event was evicted. Callers hold the sink lock.
func (sub *Subscription) deliver(e Event) bool {
	evicted := false
	for {
		select {
		case sub.ch <- e:
			return !evicted
		default:
		}
		select {
		case <-sub.ch:
			evicted = true
			sub.dropped.Add(1)
		default:
		}
	}
}
