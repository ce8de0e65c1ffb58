package replicate

import (
	"context"
	"fmt"
	"sync"
)

// loopbackLink is the shared state of a loopback pair. Reachability is a
// property of the link, not of either endpoint.
type loopbackLink struct {
	mu        sync.Mutex
	reachable bool
}

// LoopbackTransport is an in-memory Transport. Two endpoints created by
// NewLoopbackPair deliver to each other directly: Request synchronously while
// reachable, Send through a store-and-forward queue that flushes when
// reachability returns. Used by tests and by single-process demo runs.
type LoopbackTransport struct {
	link *loopbackLink
	peer *LoopbackTransport

	mu        sync.Mutex
	pending   [][]byte
	onReceive func([]byte)
	onRequest func([]byte) []byte
}

// NewLoopbackPair creates two linked endpoints. The link starts reachable.
func NewLoopbackPair() (*LoopbackTransport, *LoopbackTransport) {
	link := &loopbackLink{reachable: true}
	a := &LoopbackTransport{link: link}
	b := &LoopbackTransport{link: link}
	a.peer = b
	b.peer = a
	return a, b
}

// SetReachable toggles the link. Turning it on flushes both endpoints'
// store-and-forward queues.
func (t *LoopbackTransport) SetReachable(reachable bool) {
	t.link.mu.Lock()
	t.link.reachable = reachable
	t.link.mu.Unlock()

	if reachable {
		t.flush()
		t.peer.flush()
	}
}

// IsReachable implements Transport.
func (t *LoopbackTransport) IsReachable() bool {
	t.link.mu.Lock()
	defer t.link.mu.Unlock()
	return t.link.reachable
}

// Request implements Transport. Delivery is synchronous; the peer's request
// handler runs on the caller's goroutine.
func (t *LoopbackTransport) Request(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.IsReachable() {
		return nil, ErrPeerUnreachable
	}

	t.peer.mu.Lock()
	handler := t.peer.onRequest
	t.peer.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("peer has no request handler")
	}
	return handler(msg), nil
}

// Send implements Transport. While unreachable the payload is queued and
// delivered when the link comes back.
func (t *LoopbackTransport) Send(payload []byte) error {
	copied := make([]byte, len(payload))
	copy(copied, payload)

	if !t.IsReachable() {
		t.mu.Lock()
		t.pending = append(t.pending, copied)
		t.mu.Unlock()
		return nil
	}
	t.deliver(copied)
	return nil
}

// HandleReceived implements Transport.
func (t *LoopbackTransport) HandleReceived(fn func([]byte)) {
	t.mu.Lock()
	t.onReceive = fn
	t.mu.Unlock()
}

// HandleRequest implements Transport.
func (t *LoopbackTransport) HandleRequest(fn func([]byte) []byte) {
	t.mu.Lock()
	t.onRequest = fn
	t.mu.Unlock()
}

// deliver hands one payload to the peer's receive handler. Payloads arriving
// before a handler is registered are dropped, matching a platform channel
// that only buffers for installed listeners.
func (t *LoopbackTransport) deliver(payload []byte) {
	t.peer.mu.Lock()
	handler := t.peer.onReceive
	t.peer.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// flush drains this endpoint's store-and-forward queue in order.
func (t *LoopbackTransport) flush() {
	t.mu.Lock()
	queued := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, payload := range queued {
		t.deliver(payload)
	}
}
