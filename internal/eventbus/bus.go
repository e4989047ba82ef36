package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory message between components.
//
// Contract:
//   - Publish never blocks; slow subscribers drop events.
//   - Deliver blocks until every matching subscriber accepted the event, so
//     ingest paths get backpressure instead of loss.
//   - Key groups events that must be handled in order (vehicle or camera id).
type Event struct {
	Topic string
	Key   string
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	Deliver(ctx context.Context, e Event) error
	// Subscribe returns events for the given topics, or all topics when none
	// are named.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	topics map[string]struct{}
	done   chan struct{}
}

func (s *sub) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) matching(topic string) []*sub {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(topic) {
			out = append(out, s)
		}
	}
	return out
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range b.matching(e.Topic) {
		select {
		case <-s.done:
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Deliver(ctx context.Context, e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range b.matching(e.Topic) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
		case s.ch <- e:
		}
	}
	return nil
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe never closes the returned channel; receivers select on their own
// context and call unsubscribe when done.
func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), done: make(chan struct{})}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.done)
		})
	}
	return s.ch, unsub
}
