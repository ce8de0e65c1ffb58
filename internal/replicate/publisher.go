package replicate

import (
	"log"
	"sync"
	"time"

	"github.com/centerseed/havital-watch/internal/plan"
)

// syncRequestMessage is the companion's on-demand sync request.
var syncRequestMessage = []byte("sync_request")

// Publisher is the primary-device side of replication. It holds the
// authoritative plan and profile, pushes a full payload whenever they change,
// and answers the companion's sync requests with the current payload.
type Publisher struct {
	transport Transport
	logger    *log.Logger
	now       func() time.Time

	mu      sync.RWMutex
	current SyncPayload
}

// NewPublisher wires a publisher to its transport and registers the sync
// request handler.
func NewPublisher(transport Transport, logger *log.Logger) *Publisher {
	if transport == nil {
		panic("Publisher: transport cannot be nil")
	}
	if logger == nil {
		panic("Publisher: logger cannot be nil")
	}

	p := &Publisher{
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
	transport.HandleRequest(p.handleSyncRequest)
	return p
}

// SetClock replaces the publisher's time source, for tests.
func (p *Publisher) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// PublishUpdate stamps and pushes a new authoritative plan/profile over the
// eventually-delivered channel. The payload reaches the companion even if it
// is unreachable right now.
func (p *Publisher) PublishUpdate(weekly plan.WeeklyPlan, profile plan.UserProfile) error {
	p.mu.Lock()
	p.current = SyncPayload{Plan: weekly, Profile: profile, SyncedAt: p.now()}
	payload := p.current
	p.mu.Unlock()

	raw, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	if err := p.transport.Send(raw); err != nil {
		return err
	}
	p.logger.Printf("Publisher: pushed plan with %d days, synced_at=%s", len(weekly.Days), payload.SyncedAt.Format(time.RFC3339))
	return nil
}

// handleSyncRequest answers an on-demand sync with the current payload, or
// nil when nothing has been published yet.
func (p *Publisher) handleSyncRequest(msg []byte) []byte {
	if string(msg) != string(syncRequestMessage) {
		p.logger.Printf("Publisher: ignoring unknown request %q", msg)
		return nil
	}

	p.mu.RLock()
	payload := p.current
	p.mu.RUnlock()

	if payload.SyncedAt.IsZero() {
		p.logger.Printf("Publisher: sync requested before any plan was published")
		return nil
	}

	raw, err := EncodePayload(payload)
	if err != nil {
		p.logger.Printf("Publisher: failed to encode sync reply: %v", err)
		return nil
	}
	return raw
}
