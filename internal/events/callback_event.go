package events

import "sync"

// CallbackEvent is the function-callback sibling of ChannelEvent, used where
// a subscriber wants to run inline on delivery instead of owning a channel.
type CallbackEvent[T any] struct {
	mu         sync.RWMutex
	subs       map[uint64]func(T)
	nextID     uint64
	replayLast bool
	last       *T
}

// NewCallbackEvent creates a CallbackEvent; see NewChannelEvent for the
// replayLast semantics.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		subs:       make(map[uint64]func(T)),
		replayLast: replayLast,
	}
}

// Listen registers a callback and returns its deregistration func. The
// callback runs outside the event's lock, so it may call back into the event.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("events: listen callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = callback
	var replay *T
	if e.replayLast && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	if replay != nil {
		callback(*replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Notify invokes every registered callback with the value.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		v := value
		e.last = &v
	}
	targets := make([]func(T), 0, len(e.subs))
	for _, cb := range e.subs {
		targets = append(targets, cb)
	}
	e.mu.Unlock()

	for _, cb := range targets {
		cb(value)
	}
}

// ListenerCount reports how many callbacks are registered.
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
