package events

import "sync"

// ChannelEvent fans a value out to subscriber channels. Sends never block:
// a subscriber that cannot keep up misses values rather than stalling the
// publisher, which matters when the publisher is the live metrics loop.
type ChannelEvent[T any] struct {
	mu         sync.RWMutex
	subs       map[uint64]chan<- T
	nextID     uint64
	replayLast bool
	last       *T
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, a new
// subscriber immediately receives the most recent published value, so late
// listeners (a display attaching mid-session) start from current state.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		subs:       make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Listen registers a channel and returns its deregistration func.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("events: listen channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	var replay *T
	if e.replayLast && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Notify publishes a value to every registered channel without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		v := value
		e.last = &v
	}
	targets := make([]chan<- T, 0, len(e.subs))
	for _, ch := range e.subs {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount reports how many channels are registered.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
