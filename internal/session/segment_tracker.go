package session

import (
	"fmt"
	"time"

	"github.com/centerseed/havital-watch/internal/plan"
)

// Phase is the current sub-state of an interval workout.
type Phase string

const (
	PhaseWork           Phase = "work"
	PhaseActiveRecovery Phase = "activeRecovery"
	PhaseRest           Phase = "rest"
)

// transitionWarningLead is how far ahead of a segment boundary the
// approaching-transition cue fires, judged from current speed.
const transitionWarningLead = 5 * time.Second

// ProgressUpdate is what one UpdateProgress call observed.
type ProgressUpdate struct {
	Warning          bool // about to finish the current segment
	Completed        bool // a segment or phase just finished
	WorkoutCompleted bool // the whole structure just finished
	RemainingMeters  float64
}

// TrackerState is a read-only snapshot of the tracker for display.
type TrackerState struct {
	Mode               plan.WorkoutMode
	Phase              Phase // interval mode only
	Lap                int   // interval mode only, 1-based
	SegmentIndex       int   // combination mode only, 0-based
	RemainingMeters    float64
	CurrentDescription string
	NextDescription    string
	Completed          bool
}

// SegmentTracker turns a structured workout description into live progress.
// It is driven from a single goroutine and is not safe for concurrent use;
// the session controller serializes all calls onto its run loop.
type SegmentTracker struct {
	details plan.TrainingDetails
	now     func() time.Time

	// interval mode
	interval plan.IntervalPlan
	phase    Phase
	lap      int

	// combination mode
	segments []plan.Segment
	segIdx   int

	segmentStartMeters float64
	warned             bool
	restStartedAt      time.Time
	lastRemaining      float64
}

// NewSegmentTracker builds a tracker for the given workout details. Free mode
// has no structure to track and is rejected.
func NewSegmentTracker(details plan.TrainingDetails) (*SegmentTracker, error) {
	t := &SegmentTracker{
		details: details,
		now:     time.Now,
	}
	switch details.Mode() {
	case plan.ModeInterval:
		ip, ok := details.Interval()
		if !ok {
			return nil, fmt.Errorf("segment tracker: interval details missing plan")
		}
		t.interval = ip
		t.phase = PhaseWork
		t.lap = 1
	case plan.ModeCombination:
		segs, ok := details.Combination()
		if !ok {
			return nil, fmt.Errorf("segment tracker: combination details missing segments")
		}
		t.segments = segs
		t.segIdx = 0
	default:
		return nil, fmt.Errorf("segment tracker: unsupported mode %q", details.Mode())
	}
	t.lastRemaining = t.currentTargetMeters()
	return t, nil
}

// SetClock replaces the tracker's time source. Used by tests to drive timed
// rest phases deterministically.
func (t *SegmentTracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// IsCompleted reports whether the whole structure has finished. Pure, safe to
// call at any time.
func (t *SegmentTracker) IsCompleted() bool {
	switch t.details.Mode() {
	case plan.ModeInterval:
		return t.lap > t.interval.Repeats
	case plan.ModeCombination:
		return t.segIdx >= len(t.segments)
	default:
		return true
	}
}

// UpdateProgress feeds one live sample into the tracker. distanceMeters is
// the session's cumulative distance, speedMPS the instantaneous speed. At
// most one transition happens per call; callers feed samples continuously
// rather than compensating for gaps.
func (t *SegmentTracker) UpdateProgress(distanceMeters, speedMPS float64) ProgressUpdate {
	if t.IsCompleted() {
		return ProgressUpdate{RemainingMeters: 0}
	}

	if t.phase == PhaseRest {
		return t.updateRest(distanceMeters)
	}

	target := t.currentTargetMeters()
	progress := distanceMeters - t.segmentStartMeters
	remaining := target - progress
	if remaining < 0 {
		remaining = 0
	}

	update := ProgressUpdate{RemainingMeters: remaining}

	if !t.warned && speedMPS > 0 && remaining/speedMPS <= transitionWarningLead.Seconds() {
		t.warned = true
		update.Warning = true
	}

	if progress >= target {
		t.advance(distanceMeters)
		update.Completed = true
		update.WorkoutCompleted = t.IsCompleted()
		update.RemainingMeters = t.currentTargetMeters()
		if t.phase == PhaseRest {
			update.RemainingMeters = 0
		}
	}

	t.lastRemaining = update.RemainingMeters
	return update
}

// updateRest handles the timed rest phase. Distance is ignored; the phase
// completes once the configured duration has elapsed on the tracker's clock.
func (t *SegmentTracker) updateRest(distanceMeters float64) ProgressUpdate {
	rest := t.interval.Recovery.RestDuration
	if t.now().Sub(t.restStartedAt) < rest {
		return ProgressUpdate{RemainingMeters: 0}
	}

	t.lap++
	t.phase = PhaseWork
	t.segmentStartMeters = distanceMeters
	t.warned = false

	update := ProgressUpdate{
		Completed:        true,
		WorkoutCompleted: t.IsCompleted(),
		RemainingMeters:  t.currentTargetMeters(),
	}
	t.lastRemaining = update.RemainingMeters
	return update
}

// advance moves to the next phase or segment. Call only when the current
// distance target has been met.
func (t *SegmentTracker) advance(distanceMeters float64) {
	t.segmentStartMeters = distanceMeters
	t.warned = false

	if t.details.Mode() == plan.ModeCombination {
		t.segIdx++
		return
	}

	switch t.phase {
	case PhaseWork:
		switch t.interval.Recovery.Kind() {
		case plan.RecoveryActive:
			t.phase = PhaseActiveRecovery
		case plan.RecoveryRest:
			t.phase = PhaseRest
			t.restStartedAt = t.now()
		default:
			// no recovery, laps run back to back
			t.lap++
		}
	case PhaseActiveRecovery:
		t.lap++
		t.phase = PhaseWork
	}
}

// currentTargetMeters is the distance target of the current phase/segment.
// Timed rest has no distance target and reports zero.
func (t *SegmentTracker) currentTargetMeters() float64 {
	if t.IsCompleted() {
		return 0
	}
	switch t.details.Mode() {
	case plan.ModeInterval:
		switch t.phase {
		case PhaseWork:
			return t.interval.Work.DistanceMeters
		case PhaseActiveRecovery:
			return t.interval.Recovery.DistanceMeters
		default:
			return 0
		}
	case plan.ModeCombination:
		return t.segments[t.segIdx].DistanceMeters
	}
	return 0
}

// State returns a display snapshot of where the workout stands.
func (t *SegmentTracker) State() TrackerState {
	state := TrackerState{
		Mode:            t.details.Mode(),
		Phase:           t.phase,
		Lap:             t.lap,
		SegmentIndex:    t.segIdx,
		RemainingMeters: t.lastRemaining,
		Completed:       t.IsCompleted(),
	}
	state.CurrentDescription = t.describe(0)
	state.NextDescription = t.describe(1)
	return state
}

// describe renders the segment at the given offset from the current one.
// Offset 0 is the current segment, 1 the next.
func (t *SegmentTracker) describe(offset int) string {
	switch t.details.Mode() {
	case plan.ModeCombination:
		idx := t.segIdx + offset
		if idx >= len(t.segments) {
			return "finish"
		}
		s := t.segments[idx]
		if s.Description != "" {
			return s.Description
		}
		if s.TargetPaceSecPerKm > 0 {
			return fmt.Sprintf("%.0f m @ %s/km", s.DistanceMeters, plan.FormatPace(s.TargetPaceSecPerKm))
		}
		return fmt.Sprintf("%.0f m", s.DistanceMeters)

	case plan.ModeInterval:
		phase, lap := t.phase, t.lap
		for i := 0; i < offset; i++ {
			phase, lap = t.peekNext(phase, lap)
		}
		if lap > t.interval.Repeats {
			return "finish"
		}
		switch phase {
		case PhaseWork:
			w := t.interval.Work
			if w.TargetPaceSecPerKm > 0 {
				return fmt.Sprintf("work %d/%d: %.0f m @ %s/km", lap, t.interval.Repeats, w.DistanceMeters, plan.FormatPace(w.TargetPaceSecPerKm))
			}
			return fmt.Sprintf("work %d/%d: %.0f m", lap, t.interval.Repeats, w.DistanceMeters)
		case PhaseActiveRecovery:
			return fmt.Sprintf("recover: %.0f m", t.interval.Recovery.DistanceMeters)
		case PhaseRest:
			return fmt.Sprintf("rest: %s", t.interval.Recovery.RestDuration)
		}
	}
	return ""
}

// peekNext computes the phase/lap that follows the given one without
// mutating the tracker.
func (t *SegmentTracker) peekNext(phase Phase, lap int) (Phase, int) {
	if phase == PhaseWork {
		switch t.interval.Recovery.Kind() {
		case plan.RecoveryActive:
			return PhaseActiveRecovery, lap
		case plan.RecoveryRest:
			return PhaseRest, lap
		default:
			return PhaseWork, lap + 1
		}
	}
	return PhaseWork, lap + 1
}
