package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/centerseed/havital-watch/internal/events"
	"github.com/centerseed/havital-watch/internal/go_func_utils"
	"github.com/centerseed/havital-watch/internal/plan"
	"github.com/centerseed/havital-watch/internal/sensor"
)

// State is the session controller's lifecycle state.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

var (
	// ErrSensorAccessDenied is returned by a Lifecycle whose platform
	// refused sensor authorization. Starting fails; the session stays idle.
	ErrSensorAccessDenied = errors.New("sensor access denied")

	// ErrFinalizeFailed wraps a Lifecycle.Finish error. The session is
	// still ended, but the recorded activity may not have been saved.
	ErrFinalizeFailed = errors.New("failed to finalize session")

	ErrNotIdle   = errors.New("session already started")
	ErrNotActive = errors.New("session not active")
	ErrNotPaused = errors.New("session not paused")
	ErrEnded     = errors.New("session already ended")
)

// Lifecycle is the session lifecycle authority. Begin requests sensor
// access and opens a recording session; Finish persists the completed
// activity. Finish is called exactly once per session.
type Lifecycle interface {
	Begin(ctx context.Context) error
	Finish(ctx context.Context, activity *Activity) error
}

// DistanceSample is one timestamped distance/speed reading.
type DistanceSample struct {
	Elapsed        time.Duration `json:"elapsed"`
	DistanceMeters float64       `json:"distance_meters"`
	SpeedMPS       float64       `json:"speed_mps"`
}

// HeartRateSample is one timestamped heart-rate reading.
type HeartRateSample struct {
	Elapsed time.Duration `json:"elapsed"`
	BPM     int           `json:"bpm"`
}

// Activity is a finished session, handed to the Lifecycle for persistence.
type Activity struct {
	ID             string            `json:"id"`
	StartedAt      time.Time         `json:"started_at"`
	Duration       time.Duration     `json:"duration"`
	DistanceMeters float64           `json:"distance_meters"`
	DistanceLog    []DistanceSample  `json:"distance_log,omitempty"`
	HeartRateLog   []HeartRateSample `json:"heart_rate_log,omitempty"`
	Route          []sensor.GeoPoint `json:"route,omitempty"`
}

// LiveMetrics is the read-only snapshot published for display on every
// sample and every clock tick.
type LiveMetrics struct {
	State          State
	Elapsed        time.Duration
	DistanceMeters float64
	SpeedMPS       float64
	PaceSecPerKm   float64 // last valid pace, never zero or infinite mid-run
	HeartRate      int
	Tracker        *TrackerState // nil for free-mode sessions
}

// CueKind classifies an audible/haptic cue.
type CueKind int

const (
	CueApproaching CueKind = iota // segment boundary within a few seconds
	CueSegmentDone
	CueWorkoutDone
)

// Cue is an event the display/haptics layer should act on.
type Cue struct {
	Kind    CueKind
	Elapsed time.Duration
	Message string
}

// ctrlCommand carries one lifecycle verb into the run loop.
type ctrlCmdKind int

const (
	cmdCtrlStart ctrlCmdKind = iota
	cmdCtrlPause
	cmdCtrlResume
	cmdCtrlEnd
)

type ctrlCommand struct {
	kind  ctrlCmdKind
	ctx   context.Context
	reply chan error
}

// Controller owns one workout attempt. It multiplexes the sensor feed, a
// one-second clock, and the four lifecycle verbs onto a single goroutine,
// so the tracker and metrics are only ever touched from one place.
type Controller struct {
	feed      sensor.Feed
	lifecycle Lifecycle
	tracker   *SegmentTracker // nil for free-mode sessions
	logger    *log.Logger

	mu                 sync.RWMutex
	state              State
	activityID         string
	startedAt          time.Time
	elapsed            time.Duration
	distance           float64
	lastSensorDistance float64
	haveSensorDistance bool
	speed              float64
	pace               float64
	heartRate          int
	distanceLog        []DistanceSample
	hrLog              []HeartRateSample
	route              []sensor.GeoPoint

	metricsEvent *events.ChannelEvent[LiveMetrics]
	cueEvent     *events.ChannelEvent[Cue]
	stateEvent   *events.CallbackEvent[State]

	cmdChan      chan ctrlCommand
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewController wires a controller to its collaborators. tracker may be nil
// for an unstructured session. The run loop starts immediately; the session
// itself starts on Start.
func NewController(feed sensor.Feed, lifecycle Lifecycle, tracker *SegmentTracker, logger *log.Logger) *Controller {
	if feed == nil {
		panic("Controller: feed cannot be nil")
	}
	if lifecycle == nil {
		panic("Controller: lifecycle cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}

	c := &Controller{
		feed:         feed,
		lifecycle:    lifecycle,
		tracker:      tracker,
		logger:       logger,
		state:        StateIdle,
		metricsEvent: events.NewChannelEvent[LiveMetrics](true),
		cueEvent:     events.NewChannelEvent[Cue](false),
		stateEvent:   events.NewCallbackEvent[State](true),
		cmdChan:      make(chan ctrlCommand),
		doneChan:     make(chan struct{}),
	}

	c.wg.Add(1)
	go_func_utils.SafeGo(logger, func() { c.runLoop() })

	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Metrics returns the latest metrics snapshot.
func (c *Controller) Metrics() LiveMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildMetrics()
}

// MetricsEvent publishes a LiveMetrics snapshot on every sample and tick.
func (c *Controller) MetricsEvent() *events.ChannelEvent[LiveMetrics] { return c.metricsEvent }

// CueEvent publishes transition warnings and completion cues.
func (c *Controller) CueEvent() *events.ChannelEvent[Cue] { return c.cueEvent }

// StateEvent runs its callbacks on every lifecycle transition, replaying the
// current state to late subscribers.
func (c *Controller) StateEvent() *events.CallbackEvent[State] { return c.stateEvent }

// Start begins the session. It fails without changing state when the
// lifecycle authority denies sensor access or the feed cannot start.
func (c *Controller) Start(ctx context.Context) error { return c.send(ctx, cmdCtrlStart) }

// Pause suspends recording. Samples delivered after the pause are discarded.
func (c *Controller) Pause(ctx context.Context) error { return c.send(ctx, cmdCtrlPause) }

// Resume continues a paused session.
func (c *Controller) Resume(ctx context.Context) error { return c.send(ctx, cmdCtrlResume) }

// End finishes the session, stops the feed, and hands the completed activity
// to the lifecycle authority. A Finish failure is returned wrapped in
// ErrFinalizeFailed; the session is ended either way and Finish is never
// retried internally.
func (c *Controller) End(ctx context.Context) error { return c.send(ctx, cmdCtrlEnd) }

func (c *Controller) send(ctx context.Context, kind ctrlCmdKind) error {
	cmd := ctrlCommand{kind: kind, ctx: ctx, reply: make(chan error, 1)}
	select {
	case c.cmdChan <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneChan:
		return ErrEnded
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the run loop. Safe to call multiple times.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.doneChan)
		c.wg.Wait()
		c.logger.Printf("Controller: shut down")
	})
}

// runLoop is the single goroutine that owns all session state.
func (c *Controller) runLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	ticker.Stop() // runs only while active
	defer ticker.Stop()

	feedEvents := c.feed.Events()

	for {
		select {
		case <-c.doneChan:
			c.logger.Printf("Controller: run loop exiting")
			return

		case cmd := <-c.cmdChan:
			switch cmd.kind {
			case cmdCtrlStart:
				cmd.reply <- c.handleStart(cmd.ctx, ticker)
			case cmdCtrlPause:
				cmd.reply <- c.handlePause(ticker)
			case cmdCtrlResume:
				cmd.reply <- c.handleResume(ticker)
			case cmdCtrlEnd:
				ticker.Stop()
				cmd.reply <- c.handleEnd(cmd.ctx)
			}

		case ev, ok := <-feedEvents:
			if !ok {
				feedEvents = nil
				continue
			}
			c.handleSensorEvent(ev)

		case <-ticker.C:
			c.handleTick()
		}
	}
}

func (c *Controller) handleStart(ctx context.Context, ticker *time.Ticker) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == StateEnded {
		return ErrEnded
	}
	if state != StateIdle {
		return ErrNotIdle
	}

	if err := c.lifecycle.Begin(ctx); err != nil {
		c.logger.Printf("Controller: lifecycle refused to begin: %v", err)
		return err
	}
	if err := c.feed.Start(); err != nil {
		c.logger.Printf("Controller: sensor feed failed to start: %v", err)
		return fmt.Errorf("start sensor feed: %w", err)
	}

	c.mu.Lock()
	c.state = StateActive
	c.activityID = uuid.NewString()
	c.startedAt = time.Now()
	c.elapsed = 0
	c.distance = 0
	c.haveSensorDistance = false
	id := c.activityID
	metrics := c.buildMetrics()
	c.mu.Unlock()

	ticker.Reset(1 * time.Second)
	c.metricsEvent.Notify(metrics)
	c.stateEvent.Notify(StateActive)
	c.logger.Printf("Controller: session %s started", id)
	return nil
}

func (c *Controller) handlePause(ticker *time.Ticker) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.state = StatePaused
	metrics := c.buildMetrics()
	c.mu.Unlock()

	ticker.Stop()
	c.metricsEvent.Notify(metrics)
	c.stateEvent.Notify(StatePaused)
	c.logger.Printf("Controller: session paused at %.0f m", metrics.DistanceMeters)
	return nil
}

func (c *Controller) handleResume(ticker *time.Ticker) error {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	c.state = StateActive
	metrics := c.buildMetrics()
	c.mu.Unlock()

	ticker.Reset(1 * time.Second)
	c.metricsEvent.Notify(metrics)
	c.stateEvent.Notify(StateActive)
	c.logger.Printf("Controller: session resumed")
	return nil
}

func (c *Controller) handleEnd(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return ErrEnded
	}
	if c.state == StateIdle {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.state = StateEnded
	activity := &Activity{
		ID:             c.activityID,
		StartedAt:      c.startedAt,
		Duration:       c.elapsed,
		DistanceMeters: c.distance,
		DistanceLog:    c.distanceLog,
		HeartRateLog:   c.hrLog,
		Route:          c.route,
	}
	metrics := c.buildMetrics()
	c.mu.Unlock()

	c.feed.Stop()
	c.metricsEvent.Notify(metrics)
	c.stateEvent.Notify(StateEnded)

	if err := c.lifecycle.Finish(ctx, activity); err != nil {
		c.logger.Printf("Controller: finalize failed for session %s: %v", activity.ID, err)
		return fmt.Errorf("%w: %v", ErrFinalizeFailed, err)
	}
	c.logger.Printf("Controller: session %s ended, %.0f m in %v", activity.ID, activity.DistanceMeters, activity.Duration)
	return nil
}

// handleSensorEvent applies one feed event according to the current state.
func (c *Controller) handleSensorEvent(ev sensor.Event) {
	switch ev.Kind {
	case sensor.KindError:
		// transient, keep running on the last good values
		c.logger.Printf("Controller: sensor error: %v", ev.Err)

	case sensor.KindMotion:
		c.handleMotion(ev.Motion)

	case sensor.KindHeartRate:
		c.handleHeartRate(ev.HeartRate)

	case sensor.KindLocation:
		c.mu.Lock()
		if c.state == StateActive {
			c.route = append(c.route, ev.Location)
		}
		c.mu.Unlock()
	}
}

func (c *Controller) handleMotion(sample sensor.MotionSample) {
	c.mu.Lock()

	if c.state == StatePaused {
		// keep tracking the sensor's cumulative counter so distance covered
		// while paused never leaks into the session total on resume
		c.lastSensorDistance = sample.DistanceMeters
		c.haveSensorDistance = true
		c.mu.Unlock()
		return
	}
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}

	if c.haveSensorDistance {
		delta := sample.DistanceMeters - c.lastSensorDistance
		if delta > 0 {
			c.distance += delta
		}
	}
	c.lastSensorDistance = sample.DistanceMeters
	c.haveSensorDistance = true

	c.speed = sample.SpeedMPS
	if pace := plan.SpeedToPace(sample.SpeedMPS); pace > 0 {
		c.pace = pace
	}
	c.distanceLog = append(c.distanceLog, DistanceSample{
		Elapsed:        c.elapsed,
		DistanceMeters: c.distance,
		SpeedMPS:       c.speed,
	})

	distance, speed := c.distance, c.speed
	c.mu.Unlock()

	c.driveTracker(distance, speed)
	c.publishMetrics()
}

func (c *Controller) handleHeartRate(bpm int) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.heartRate = bpm
	if c.state == StateActive {
		c.hrLog = append(c.hrLog, HeartRateSample{Elapsed: c.elapsed, BPM: bpm})
	}
	c.mu.Unlock()
}

// handleTick advances the clock and re-drives the tracker, so timed rest
// phases complete even when motion samples are sparse.
func (c *Controller) handleTick() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.elapsed += 1 * time.Second
	distance, speed := c.distance, c.speed
	c.mu.Unlock()

	c.driveTracker(distance, speed)
	c.publishMetrics()
}

// driveTracker forwards one (distance, speed) reading to the segment tracker
// and turns the result into cues. Only the run loop calls this; the tracker
// is touched under mu so metrics snapshots see a consistent view.
func (c *Controller) driveTracker(distance, speed float64) {
	if c.tracker == nil {
		return
	}

	c.mu.Lock()
	if c.tracker.IsCompleted() {
		c.mu.Unlock()
		return
	}
	update := c.tracker.UpdateProgress(distance, speed)
	elapsed := c.elapsed
	var nextDesc string
	if update.Completed && !update.WorkoutCompleted {
		nextDesc = c.tracker.State().CurrentDescription
	}
	c.mu.Unlock()

	if update.Warning {
		c.cueEvent.Notify(Cue{
			Kind:    CueApproaching,
			Elapsed: elapsed,
			Message: fmt.Sprintf("%.0f m to go", update.RemainingMeters),
		})
	}
	if update.WorkoutCompleted {
		c.cueEvent.Notify(Cue{Kind: CueWorkoutDone, Elapsed: elapsed, Message: "workout complete"})
		c.logger.Printf("Controller: workout structure completed at %.0f m", distance)
	} else if update.Completed {
		c.cueEvent.Notify(Cue{
			Kind:    CueSegmentDone,
			Elapsed: elapsed,
			Message: fmt.Sprintf("next: %s", nextDesc),
		})
	}
}

func (c *Controller) publishMetrics() {
	c.mu.RLock()
	metrics := c.buildMetrics()
	c.mu.RUnlock()
	c.metricsEvent.Notify(metrics)
}

// buildMetrics snapshots the live values. MUST be called with mu held.
func (c *Controller) buildMetrics() LiveMetrics {
	m := LiveMetrics{
		State:          c.state,
		Elapsed:        c.elapsed,
		DistanceMeters: c.distance,
		SpeedMPS:       c.speed,
		PaceSecPerKm:   c.pace,
		HeartRate:      c.heartRate,
	}
	if c.tracker != nil {
		state := c.tracker.State()
		m.Tracker = &state
	}
	return m
}
