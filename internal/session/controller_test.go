package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centerseed/havital-watch/internal/plan"
	"github.com/centerseed/havital-watch/internal/sensor"
)

// fakeFeed delivers hand-crafted events on an unbuffered channel, so a push
// returning means the run loop has picked the event up and any later command
// is handled strictly after it.
type fakeFeed struct {
	events chan sensor.Event

	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan sensor.Event)}
}

func (f *fakeFeed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeFeed) Events() <-chan sensor.Event { return f.events }

func (f *fakeFeed) pushMotion(t *testing.T, distance, speed float64) {
	t.Helper()
	select {
	case f.events <- sensor.Event{
		Kind:   sensor.KindMotion,
		At:     time.Now(),
		Motion: sensor.MotionSample{DistanceMeters: distance, SpeedMPS: speed},
	}:
	case <-time.After(time.Second):
		t.Fatal("run loop never consumed motion event")
	}
}

func (f *fakeFeed) pushHeartRate(t *testing.T, bpm int) {
	t.Helper()
	select {
	case f.events <- sensor.Event{Kind: sensor.KindHeartRate, At: time.Now(), HeartRate: bpm}:
	case <-time.After(time.Second):
		t.Fatal("run loop never consumed heart-rate event")
	}
}

func (f *fakeFeed) pushLocation(t *testing.T, lat, lon float64) {
	t.Helper()
	select {
	case f.events <- sensor.Event{Kind: sensor.KindLocation, At: time.Now(), Location: sensor.GeoPoint{Lat: lat, Lon: lon}}:
	case <-time.After(time.Second):
		t.Fatal("run loop never consumed location event")
	}
}

// fakeLifecycle records Begin/Finish calls.
type fakeLifecycle struct {
	mu          sync.Mutex
	beginErr    error
	finishErr   error
	beginCount  int
	finishCount int
	finished    *Activity
}

func (l *fakeLifecycle) Begin(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beginCount++
	return l.beginErr
}

func (l *fakeLifecycle) Finish(ctx context.Context, activity *Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishCount++
	l.finished = activity
	return l.finishErr
}

func newTestController(t *testing.T, feed *fakeFeed, lifecycle *fakeLifecycle, tracker *SegmentTracker) *Controller {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	c := NewController(feed, lifecycle, tracker, logger)
	t.Cleanup(c.Shutdown)
	return c
}

func TestControllerStartDeniedStaysIdle(t *testing.T) {
	feed := newFakeFeed()
	lifecycle := &fakeLifecycle{beginErr: ErrSensorAccessDenied}
	c := newTestController(t, feed, lifecycle, nil)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrSensorAccessDenied)
	assert.Equal(t, StateIdle, c.State())

	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.False(t, feed.started)
}

func TestControllerLifecycleVerbs(t *testing.T) {
	feed := newFakeFeed()
	lifecycle := &fakeLifecycle{}
	c := newTestController(t, feed, lifecycle, nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.Pause(ctx), ErrNotActive)
	assert.ErrorIs(t, c.Resume(ctx), ErrNotPaused)

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateActive, c.State())
	assert.ErrorIs(t, c.Start(ctx), ErrNotIdle)

	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StatePaused, c.State())
	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, StateActive, c.State())

	require.NoError(t, c.End(ctx))
	assert.Equal(t, StateEnded, c.State())
	assert.ErrorIs(t, c.End(ctx), ErrEnded)
	assert.ErrorIs(t, c.Start(ctx), ErrEnded)

	assert.Equal(t, 1, lifecycle.finishCount)
	feed.mu.Lock()
	defer feed.mu.Unlock()
	assert.True(t, feed.stopped)
}

func TestControllerAccumulatesDistanceAndPace(t *testing.T) {
	feed := newFakeFeed()
	c := newTestController(t, feed, &fakeLifecycle{}, nil)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	// first sample is the baseline, distance counts from there
	feed.pushMotion(t, 500, 2.0)
	feed.pushMotion(t, 600, 2.0)

	require.Eventually(t, func() bool {
		return c.Metrics().DistanceMeters == 100
	}, time.Second, 5*time.Millisecond)

	m := c.Metrics()
	assert.InDelta(t, 500.0, m.PaceSecPerKm, 0.001) // 2 m/s = 8:20/km

	// zero speed keeps the last valid pace
	feed.pushMotion(t, 600, 0)
	require.Eventually(t, func() bool {
		return c.Metrics().SpeedMPS == 0
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 500.0, c.Metrics().PaceSecPerKm, 0.001)
}

func TestControllerPauseDiscardsInFlightDistance(t *testing.T) {
	feed := newFakeFeed()
	lifecycle := &fakeLifecycle{}
	c := newTestController(t, feed, lifecycle, nil)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	feed.pushMotion(t, 0, 3.0)
	feed.pushMotion(t, 100, 3.0)
	require.Eventually(t, func() bool {
		return c.Metrics().DistanceMeters == 100
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Pause(ctx))

	// the sensor keeps counting while we stand at a crossing
	feed.pushMotion(t, 150, 3.0)
	feed.pushMotion(t, 200, 3.0)
	feed.pushMotion(t, 200, 0) // settles, and guarantees the burst is consumed

	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, 100.0, c.Metrics().DistanceMeters)

	// distance resumes from the sensor's current counter, not the burst
	feed.pushMotion(t, 210, 3.0)
	require.Eventually(t, func() bool {
		return c.Metrics().DistanceMeters == 110
	}, time.Second, 5*time.Millisecond)
}

func TestControllerFinalizeFailureSurfaced(t *testing.T) {
	feed := newFakeFeed()
	lifecycle := &fakeLifecycle{finishErr: errors.New("disk full")}
	c := newTestController(t, feed, lifecycle, nil)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	err := c.End(ctx)
	require.ErrorIs(t, err, ErrFinalizeFailed)
	assert.Equal(t, StateEnded, c.State())

	// ended anyway, and never retried internally
	assert.ErrorIs(t, c.End(ctx), ErrEnded)
	assert.Equal(t, 1, lifecycle.finishCount)
}

func TestControllerActivityCarriesSampleLogs(t *testing.T) {
	feed := newFakeFeed()
	lifecycle := &fakeLifecycle{}
	c := newTestController(t, feed, lifecycle, nil)
	ctx := context.Background()

	feed.pushLocation(t, 25.03, 121.56) // idle, dropped
	require.NoError(t, c.Start(ctx))

	feed.pushMotion(t, 0, 3.0)
	feed.pushMotion(t, 90, 3.0)
	feed.pushHeartRate(t, 150)
	feed.pushLocation(t, 25.04, 121.57)

	require.NoError(t, c.Pause(ctx))
	feed.pushHeartRate(t, 160)          // display only while paused
	feed.pushLocation(t, 25.05, 121.58) // dropped while paused
	require.NoError(t, c.Resume(ctx))

	assert.Equal(t, 160, c.Metrics().HeartRate)
	require.NoError(t, c.End(ctx))

	require.NotNil(t, lifecycle.finished)
	activity := lifecycle.finished
	assert.NotEmpty(t, activity.ID)
	assert.Equal(t, 90.0, activity.DistanceMeters)
	assert.Len(t, activity.DistanceLog, 2)
	require.Len(t, activity.HeartRateLog, 1)
	assert.Equal(t, 150, activity.HeartRateLog[0].BPM)
	require.Len(t, activity.Route, 1)
	assert.InDelta(t, 25.04, activity.Route[0].Lat, 0.0001)
}

func TestControllerEmitsCuesFromTracker(t *testing.T) {
	details, err := plan.NewCombinationDetails([]plan.Segment{
		{DistanceMeters: 100, Description: "strides"},
		{DistanceMeters: 50, Description: "float"},
	})
	require.NoError(t, err)
	tracker, err := NewSegmentTracker(details)
	require.NoError(t, err)

	feed := newFakeFeed()
	c := newTestController(t, feed, &fakeLifecycle{}, tracker)

	cues := make(chan Cue, 16)
	defer c.CueEvent().Listen(cues)()

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	feed.pushMotion(t, 0, 3.0)
	feed.pushMotion(t, 100, 3.0) // first segment done
	feed.pushMotion(t, 150, 3.0) // second segment done, workout done

	var kinds []CueKind
	deadline := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case cue := <-cues:
			if cue.Kind == CueApproaching {
				continue // timing-dependent, may or may not fire
			}
			kinds = append(kinds, cue.Kind)
		case <-deadline:
			t.Fatalf("timed out waiting for cues, got %v", kinds)
		}
	}

	assert.Equal(t, []CueKind{CueSegmentDone, CueWorkoutDone}, kinds)
	assert.True(t, tracker.IsCompleted())
}

func TestControllerMetricsIncludeTrackerState(t *testing.T) {
	details, err := plan.NewIntervalDetails(plan.IntervalPlan{
		Work:    plan.WorkBlock{DistanceMeters: 1000},
		Repeats: 2,
	})
	require.NoError(t, err)
	tracker, err := NewSegmentTracker(details)
	require.NoError(t, err)

	feed := newFakeFeed()
	c := newTestController(t, feed, &fakeLifecycle{}, tracker)
	require.NoError(t, c.Start(context.Background()))

	m := c.Metrics()
	require.NotNil(t, m.Tracker)
	assert.Equal(t, PhaseWork, m.Tracker.Phase)
	assert.Equal(t, 1, m.Tracker.Lap)
}

func TestControllerStateEventFollowsTransitions(t *testing.T) {
	feed := newFakeFeed()
	c := newTestController(t, feed, &fakeLifecycle{}, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []State
	defer c.StateEvent().Listen(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Pause(ctx))
	require.NoError(t, c.Resume(ctx))
	require.NoError(t, c.End(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateActive, StatePaused, StateActive, StateEnded}, seen)
}

func TestControllerSensorErrorsDoNotEndSession(t *testing.T) {
	feed := newFakeFeed()
	c := newTestController(t, feed, &fakeLifecycle{}, nil)
	require.NoError(t, c.Start(context.Background()))

	select {
	case feed.events <- sensor.Event{Kind: sensor.KindError, Err: errors.New("dropout")}:
	case <-time.After(time.Second):
		t.Fatal("run loop never consumed error event")
	}

	feed.pushMotion(t, 0, 3.0)
	feed.pushMotion(t, 10, 3.0)
	require.Eventually(t, func() bool {
		return c.Metrics().DistanceMeters == 10
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, c.State())
}
