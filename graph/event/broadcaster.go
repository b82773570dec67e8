package event

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber channel depth used when no
// WithBufferSize option is given.
const DefaultBufferSize = 64

// Subscription is a live handle on one run's event stream.
//
// The channel returned by Events is closed when the run reaches a terminal
// status, when the subscriber is dropped for falling behind, or on
// Unsubscribe. A subscription is bound to one connection; reconnecting means
// subscribing again (the stream is not globally restartable).
type Subscription struct {
	runID     string
	id        uint64
	ch        chan Event
	closeOnce sync.Once
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// RunID returns the run this subscription observes.
func (s *Subscription) RunID() string {
	return s.runID
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBufferSize sets the per-subscriber channel depth. A subscriber whose
// buffer is full at publish time is dropped rather than blocking the
// publisher.
func WithBufferSize(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithDropHandler installs a callback invoked whenever a slow or closed
// subscriber is pruned. Used to feed metrics; must not block.
func WithDropHandler(fn func(runID string)) BroadcasterOption {
	return func(b *Broadcaster) {
		b.onDrop = fn
	}
}

// Broadcaster fans execution events out to any number of live observers,
// one subscriber set per run.
//
// Publish is fire-and-forget: a subscriber whose channel is full (slow
// consumer) or already closed is removed from the set rather than blocking
// or crashing the publisher, so one slow observer can never starve the rest.
//
// Each run's subscriber set is guarded by its own lock; no lock spans
// publishes to different runs.
type Broadcaster struct {
	mu      sync.RWMutex
	topics  map[string]*topic
	done    map[string]struct{} // runs terminated via CloseRun
	nextID  atomic.Uint64
	bufSize int
	onDrop  func(runID string)
}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		topics:  make(map[string]*topic),
		done:    make(map[string]struct{}),
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new observer for the given run and returns its
// handle. Subscribing to a run already terminated via CloseRun yields an
// immediately-closed stream, so a ranging consumer returns at once.
func (b *Broadcaster) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		runID: runID,
		id:    b.nextID.Add(1),
		ch:    make(chan Event, b.bufSize),
	}

	b.mu.Lock()
	if _, terminal := b.done[runID]; terminal {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	t, ok := b.topics[runID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		b.topics[runID] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// multiple times and after the subscriber was already dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.RLock()
	t := b.topics[sub.runID]
	b.mu.RUnlock()

	if t != nil {
		t.mu.Lock()
		delete(t.subs, sub.id)
		t.mu.Unlock()
	}
	sub.close()
}

// Publish delivers an event to every current subscriber of the run.
// Best-effort: subscribers that cannot accept the event immediately are
// dropped and their channels closed. Never blocks.
func (b *Broadcaster) Publish(runID string, ev Event) {
	b.mu.RLock()
	t := b.topics[runID]
	b.mu.RUnlock()

	if t == nil {
		return
	}

	t.mu.Lock()
	var dropped []*Subscription
	for id, sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(t.subs, id)
			dropped = append(dropped, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range dropped {
		sub.close()
		if b.onDrop != nil {
			b.onDrop(runID)
		}
	}
}

// CloseRun terminates every subscription for a run. The engine calls this
// once the run reaches a terminal status, ending all live streams. The run is
// remembered as terminated so late subscribers get a closed stream too.
func (b *Broadcaster) CloseRun(runID string) {
	b.mu.Lock()
	t := b.topics[runID]
	delete(b.topics, runID)
	b.done[runID] = struct{}{}
	b.mu.Unlock()

	if t == nil {
		return
	}

	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[uint64]*Subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount returns the number of live subscribers for a run.
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.RLock()
	t := b.topics[runID]
	b.mu.RUnlock()

	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
