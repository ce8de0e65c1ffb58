package replicate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/centerseed/havital-watch/internal/plan"
)

// SyncPayload is the unit of replication: the whole weekly plan, the whole
// profile, and the primary's sync timestamp. It is always transmitted and
// cached as one document; there is no field-level merging.
type SyncPayload struct {
	Plan     plan.WeeklyPlan  `json:"plan"`
	Profile  plan.UserProfile `json:"profile"`
	SyncedAt time.Time        `json:"synced_at"`
}

// EncodePayload serializes a payload for the wire and the cache.
func EncodePayload(p SyncPayload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode sync payload: %w", err)
	}
	return raw, nil
}

// DecodePayload parses a wire document. Training details inside the plan are
// re-validated during decode, so a structurally broken workout rejects the
// whole payload.
func DecodePayload(raw []byte) (SyncPayload, error) {
	var p SyncPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return SyncPayload{}, fmt.Errorf("decode sync payload: %w", err)
	}
	if p.SyncedAt.IsZero() {
		return SyncPayload{}, fmt.Errorf("decode sync payload: missing synced_at")
	}
	return p, nil
}
