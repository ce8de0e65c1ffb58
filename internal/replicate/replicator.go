package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/centerseed/havital-watch/internal/events"
	"github.com/centerseed/havital-watch/internal/plan"
)

// Cache is the slice of the durable store replication needs. Entries are
// read and written only as whole documents.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// Cache keys, shared with the store package's constants by value.
const (
	cacheKeyPlan     = "weekly_plan"
	cacheKeyProfile  = "user_profile"
	cacheKeyLastSync = "last_sync_time"
)

// Replicator is the companion-device side of replication: a read-only mirror
// of the primary's weekly plan and profile. Updates arrive passively over the
// background channel or on demand via SyncNow; both paths converge on apply.
type Replicator struct {
	transport Transport
	cache     Cache
	logger    *log.Logger

	mu       sync.RWMutex
	plan     plan.WeeklyPlan
	profile  plan.UserProfile
	lastSync time.Time

	updateEvent *events.ChannelEvent[SyncPayload]
}

// NewReplicator builds the mirror, repopulates it from the cache, and
// registers for passive payloads. Cold start never touches the transport.
func NewReplicator(transport Transport, cache Cache, logger *log.Logger) (*Replicator, error) {
	if transport == nil {
		panic("Replicator: transport cannot be nil")
	}
	if cache == nil {
		panic("Replicator: cache cannot be nil")
	}
	if logger == nil {
		panic("Replicator: logger cannot be nil")
	}

	r := &Replicator{
		transport:   transport,
		cache:       cache,
		logger:      logger,
		updateEvent: events.NewChannelEvent[SyncPayload](true),
	}
	if err := r.loadFromCache(); err != nil {
		return nil, err
	}

	transport.HandleReceived(func(raw []byte) {
		if err := r.apply(raw); err != nil {
			r.logger.Printf("Replicator: rejected pushed payload: %v", err)
		}
	})

	return r, nil
}

// UpdateEvent publishes every applied payload, replaying the latest to new
// listeners.
func (r *Replicator) UpdateEvent() *events.ChannelEvent[SyncPayload] { return r.updateEvent }

// LastSync reports when the mirrored state was stamped by the primary, zero
// when nothing has ever been synced.
func (r *Replicator) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

// Profile returns the mirrored user profile.
func (r *Replicator) Profile() plan.UserProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profile
}

// TrainingForDate looks up the prescribed day in the mirrored plan.
func (r *Replicator) TrainingForDate(key plan.DateKey) (plan.TrainingDay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plan.DayFor(key)
}

// TodaysTraining is TrainingForDate for the current date.
func (r *Replicator) TodaysTraining() (plan.TrainingDay, bool) {
	return r.TrainingForDate(plan.DateKeyFor(time.Now()))
}

// SyncNow requests the current payload from the primary. It fails fast with
// ErrPeerUnreachable when the peer is not connected, leaving the mirror
// untouched; it never queues or retries on its own.
func (r *Replicator) SyncNow(ctx context.Context) error {
	if !r.transport.IsReachable() {
		return ErrPeerUnreachable
	}

	reply, err := r.transport.Request(ctx, syncRequestMessage)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	if len(reply) == 0 {
		return fmt.Errorf("sync request: empty reply from primary")
	}
	return r.apply(reply)
}

// apply is the single convergence point for both replication paths: decode,
// last-write-wins by the primary's timestamp, wholesale replacement of the
// in-memory mirror, wholesale persist. A decode failure leaves everything
// exactly as it was.
func (r *Replicator) apply(raw []byte) error {
	payload, err := DecodePayload(raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !payload.SyncedAt.After(r.lastSync) {
		r.mu.Unlock()
		r.logger.Printf("Replicator: ignoring stale payload synced_at=%s", payload.SyncedAt.Format(time.RFC3339))
		return nil
	}
	r.plan = payload.Plan
	r.profile = payload.Profile
	r.lastSync = payload.SyncedAt
	r.mu.Unlock()

	if err := r.persist(payload); err != nil {
		return err
	}

	r.updateEvent.Notify(payload)
	r.logger.Printf("Replicator: applied payload with %d days, synced_at=%s", len(payload.Plan.Days), payload.SyncedAt.Format(time.RFC3339))
	return nil
}

func (r *Replicator) persist(payload SyncPayload) error {
	planDoc, err := json.Marshal(payload.Plan)
	if err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}
	profileDoc, err := json.Marshal(payload.Profile)
	if err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}

	if err := r.cache.Put(cacheKeyPlan, planDoc); err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}
	if err := r.cache.Put(cacheKeyProfile, profileDoc); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	if err := r.cache.Put(cacheKeyLastSync, []byte(payload.SyncedAt.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("persist sync time: %w", err)
	}
	return nil
}

// loadFromCache repopulates the mirror at cold start. Each entry is read
// independently; a missing entry just leaves its zero value.
func (r *Replicator) loadFromCache() error {
	if raw, ok, err := r.cache.Get(cacheKeyPlan); err != nil {
		return fmt.Errorf("load cached plan: %w", err)
	} else if ok {
		var weekly plan.WeeklyPlan
		if err := json.Unmarshal(raw, &weekly); err != nil {
			return fmt.Errorf("load cached plan: %w", err)
		}
		r.plan = weekly
	}

	if raw, ok, err := r.cache.Get(cacheKeyProfile); err != nil {
		return fmt.Errorf("load cached profile: %w", err)
	} else if ok {
		var profile plan.UserProfile
		if err := json.Unmarshal(raw, &profile); err != nil {
			return fmt.Errorf("load cached profile: %w", err)
		}
		r.profile = profile
	}

	if raw, ok, err := r.cache.Get(cacheKeyLastSync); err != nil {
		return fmt.Errorf("load last sync time: %w", err)
	} else if ok {
		ts, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return fmt.Errorf("load last sync time: %w", err)
		}
		r.lastSync = ts
	}

	if !r.lastSync.IsZero() {
		r.logger.Printf("Replicator: cold start from cache, last sync %s", r.lastSync.Format(time.RFC3339))
	}
	return nil
}
