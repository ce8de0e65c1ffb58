package plan

import (
	"encoding/json"
	"fmt"
	"time"
)

// DayType is the training-type tag a coach assigns to one calendar day.
type DayType string

const (
	DayTypeEasy        DayType = "easy"
	DayTypeTempo       DayType = "tempo"
	DayTypeInterval    DayType = "interval"
	DayTypeCombination DayType = "combination"
	DayTypeLSD         DayType = "lsd" // long slow distance
	DayTypeRest        DayType = "rest"
)

// WorkoutMode selects which live-tracking structure a session runs with.
type WorkoutMode string

const (
	ModeFree        WorkoutMode = "free"        // no structure, just record
	ModeInterval    WorkoutMode = "interval"    // repeats of work/recovery
	ModeCombination WorkoutMode = "combination" // ordered free-form segments
)

// WorkoutModeForDayType maps a day's declared type to the live workout mode.
func WorkoutModeForDayType(t DayType) WorkoutMode {
	switch t {
	case DayTypeInterval:
		return ModeInterval
	case DayTypeCombination:
		return ModeCombination
	default:
		return ModeFree
	}
}

// WorkBlock is the work portion of one interval repeat.
// Distances are meters everywhere in this package; payloads that arrive in
// other units must be normalized before they get here.
type WorkBlock struct {
	DistanceMeters     float64 `json:"distance_meters"`
	TargetPaceSecPerKm int     `json:"target_pace_sec_per_km,omitempty"`
}

// RecoveryKind classifies how the recovery portion of a repeat completes.
type RecoveryKind int

const (
	RecoveryNone   RecoveryKind = iota // no recovery, work laps back to back
	RecoveryActive                     // distance-based jog/walk recovery
	RecoveryRest                       // timed standing rest
)

// RecoveryBlock is the recovery portion of one interval repeat. Exactly one
// of DistanceMeters or RestDuration is expected to be set; a block with
// neither counts as absent.
type RecoveryBlock struct {
	DistanceMeters     float64       `json:"distance_meters,omitempty"`
	TargetPaceSecPerKm int           `json:"target_pace_sec_per_km,omitempty"`
	RestDuration       time.Duration `json:"rest_duration,omitempty"`
}

// Kind classifies the block. Distance wins if both fields are set.
func (r *RecoveryBlock) Kind() RecoveryKind {
	if r == nil {
		return RecoveryNone
	}
	if r.DistanceMeters > 0 {
		return RecoveryActive
	}
	if r.RestDuration > 0 {
		return RecoveryRest
	}
	return RecoveryNone
}

// IntervalPlan prescribes repeats of a work block with optional recovery.
type IntervalPlan struct {
	Work     WorkBlock      `json:"work"`
	Recovery *RecoveryBlock `json:"recovery,omitempty"`
	Repeats  int            `json:"repeats"`
}

// Segment is one ordered block of a combination workout.
type Segment struct {
	DistanceMeters     float64 `json:"distance_meters"`
	TargetPaceSecPerKm int     `json:"target_pace_sec_per_km,omitempty"`
	Description        string  `json:"description,omitempty"`
}

// TrainingDetails is the structured payload of a prescribed workout. It is a
// tagged union: interval mode carries an IntervalPlan, combination mode
// carries an ordered segment list. Invalid shapes are rejected at
// construction and at decode, never checked ad hoc downstream.
type TrainingDetails struct {
	mode        WorkoutMode
	interval    *IntervalPlan
	combination []Segment
}

// NewIntervalDetails builds interval-mode details. The work block must have a
// positive distance and the repeat count must be at least 1.
func NewIntervalDetails(p IntervalPlan) (TrainingDetails, error) {
	if p.Work.DistanceMeters <= 0 {
		return TrainingDetails{}, fmt.Errorf("interval plan: work block must have a positive distance")
	}
	if p.Repeats < 1 {
		return TrainingDetails{}, fmt.Errorf("interval plan: repeats must be >= 1, got %d", p.Repeats)
	}
	return TrainingDetails{mode: ModeInterval, interval: &p}, nil
}

// NewCombinationDetails builds combination-mode details from a non-empty
// segment sequence. Every segment needs a positive distance.
func NewCombinationDetails(segments []Segment) (TrainingDetails, error) {
	if len(segments) == 0 {
		return TrainingDetails{}, fmt.Errorf("combination plan: segment list must not be empty")
	}
	for i, s := range segments {
		if s.DistanceMeters <= 0 {
			return TrainingDetails{}, fmt.Errorf("combination plan: segment %d must have a positive distance", i)
		}
	}
	copied := make([]Segment, len(segments))
	copy(copied, segments)
	return TrainingDetails{mode: ModeCombination, combination: copied}, nil
}

// Mode returns which variant this details value carries.
func (d TrainingDetails) Mode() WorkoutMode { return d.mode }

// Interval returns the interval plan, ok=false for other modes.
func (d TrainingDetails) Interval() (IntervalPlan, bool) {
	if d.mode != ModeInterval || d.interval == nil {
		return IntervalPlan{}, false
	}
	return *d.interval, true
}

// Combination returns the segment sequence, ok=false for other modes.
// The returned slice is a copy; the union stays immutable.
func (d TrainingDetails) Combination() ([]Segment, bool) {
	if d.mode != ModeCombination || len(d.combination) == 0 {
		return nil, false
	}
	copied := make([]Segment, len(d.combination))
	copy(copied, d.combination)
	return copied, true
}

// detailsJSON is the wire shape of TrainingDetails with a mode discriminator.
type detailsJSON struct {
	Mode        WorkoutMode   `json:"mode"`
	Interval    *IntervalPlan `json:"interval,omitempty"`
	Combination []Segment     `json:"combination,omitempty"`
}

func (d TrainingDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal(detailsJSON{
		Mode:        d.mode,
		Interval:    d.interval,
		Combination: d.combination,
	})
}

// UnmarshalJSON decodes and re-validates through the constructors, so a
// malformed document yields an error instead of a half-built value.
func (d *TrainingDetails) UnmarshalJSON(raw []byte) error {
	var wire detailsJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	switch wire.Mode {
	case ModeInterval:
		if wire.Interval == nil {
			return fmt.Errorf("training details: interval mode without work block")
		}
		decoded, err := NewIntervalDetails(*wire.Interval)
		if err != nil {
			return err
		}
		*d = decoded
	case ModeCombination:
		decoded, err := NewCombinationDetails(wire.Combination)
		if err != nil {
			return err
		}
		*d = decoded
	default:
		return fmt.Errorf("training details: unknown mode %q", wire.Mode)
	}
	return nil
}

// DateKey is a canonical YYYY-MM-DD calendar-day key.
type DateKey string

const dateKeyLayout = "2006-01-02"

// DateKeyFor converts a time to its calendar-day key in the time's location.
func DateKeyFor(t time.Time) DateKey {
	return DateKey(t.Format(dateKeyLayout))
}

// TrainingDay is one calendar day's prescribed workout. It is immutable once
// delivered to a device and replaced wholesale on resync.
type TrainingDay struct {
	Date    DateKey          `json:"date"`
	Type    DayType          `json:"type"`
	Details *TrainingDetails `json:"details,omitempty"`
}

// WeeklyPlan is the ordered collection of prescribed days for one week.
type WeeklyPlan struct {
	Days []TrainingDay `json:"days"`
}

// DayFor looks up the prescribed day by its canonical date key.
func (p WeeklyPlan) DayFor(key DateKey) (TrainingDay, bool) {
	for _, day := range p.Days {
		if day.Date == key {
			return day, true
		}
	}
	return TrainingDay{}, false
}

// UserProfile is the runner profile replicated alongside the weekly plan.
type UserProfile struct {
	Name             string  `json:"name"`
	MaxHeartRate     int     `json:"max_heart_rate,omitempty"`
	RestingHeartRate int     `json:"resting_heart_rate,omitempty"`
	WeightKg         float64 `json:"weight_kg,omitempty"`
}
