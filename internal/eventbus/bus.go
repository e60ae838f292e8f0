// Package eventbus is the in-process fanout between the notification core and
// its readers (view stream, digest, app log).
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the notification core.
const (
	// TypeStateChanged carries a notify.Change after every committed mutation.
	TypeStateChanged = "notify.changed"
	// TypePollCycle carries a poll.CycleReport after each finished poller cycle.
	TypePollCycle = "poll.cycle"
	// TypeDigestSent is published by the digest notifier after a push attempt.
	TypeDigestSent = "digest.sent"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks the publisher. A subscriber whose buffer is full misses
// the event; readers of TypeStateChanged recover by re-reading the snapshot.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events of the given types, or of
	// every type when none are given. unsubscribe closes the channel.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

type Option func(*memBus)

// WithDropHook is called once per published event that at least one
// subscriber missed, with the number of subscribers that missed it.
func WithDropHook(fn func(e Event, missed int)) Option {
	return func(b *memBus) { b.onDrop = fn }
}

// New returns an in-memory bus. It owns no goroutines.
func New(opts ...Option) Bus {
	b := &memBus{subs: map[uint64]*subscriber{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscriber) wants(t string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	next   uint64
	onDrop func(Event, int)
}

// Publish holds the read lock across the sends; unsubscribe closes under the
// write lock, so a send never hits a closed channel.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	missed := 0
	b.mu.RLock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			missed++
		}
	}
	b.mu.RUnlock()

	if missed > 0 && b.onDrop != nil {
		b.onDrop(e, missed)
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return s.ch, unsub
}
