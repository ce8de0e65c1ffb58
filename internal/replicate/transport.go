package replicate

import (
	"context"
	"errors"
)

// ErrPeerUnreachable is returned by reachability-dependent operations when
// the other device is not currently connected.
var ErrPeerUnreachable = errors.New("peer device unreachable")

// Transport is the short-range link between the two devices. It offers two
// primitives with different guarantees: Request is request/reply and only
// works while both endpoints are reachable; Send is eventually delivered
// even across reachability gaps.
type Transport interface {
	// IsReachable reports whether the peer is currently connected.
	IsReachable() bool

	// Request sends msg and waits for the peer's reply. Fails with
	// ErrPeerUnreachable when the peer is not connected, and respects ctx.
	Request(ctx context.Context, msg []byte) ([]byte, error)

	// Send queues payload on the eventually-delivered channel. Delivery may
	// happen much later, after reachability returns.
	Send(payload []byte) error

	// HandleReceived registers the callback for payloads arriving on the
	// eventually-delivered channel.
	HandleReceived(fn func(payload []byte))

	// HandleRequest registers the callback that answers incoming requests.
	HandleRequest(fn func(msg []byte) []byte)
}
