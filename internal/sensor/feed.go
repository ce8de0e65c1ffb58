package sensor

import "time"

// EventKind discriminates the sensor event union.
type EventKind int

const (
	KindMotion    EventKind = iota // cumulative distance / speed / cadence
	KindHeartRate                  // heart rate sample
	KindLocation                   // GPS fix
	KindError                      // transient sensor error
)

// MotionSample carries one distance/speed reading. Distance is cumulative
// since the sensor powered on and monotonically increasing; the session
// controller owns converting it to a per-session total.
type MotionSample struct {
	DistanceMeters float64
	SpeedMPS       float64
	CadenceSPM     int
}

// GeoPoint is one GPS fix.
type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AltitudeM float64 `json:"altitude_m,omitempty"`
}

// Event is the single inbound sensor event type. All sensor sources -
// heart rate strap, foot pod, GPS - are multiplexed onto one channel so the
// consumer can apply them from a single serialized loop. Each source is
// internally ordered; no ordering holds across sources.
type Event struct {
	Kind      EventKind
	At        time.Time
	Motion    MotionSample
	HeartRate int
	Location  GeoPoint
	Err       error
}

// Feed is a live sensor source. Events must be read promptly; a feed is free
// to drop events when its channel is full rather than block the sensor
// callback that produced them.
type Feed interface {
	// Start begins delivery. It blocks only for sensor discovery/connection.
	Start() error
	// Stop ends delivery and closes the event channel.
	Stop()
	// Events is the single multiplexed event channel.
	Events() <-chan Event
}
