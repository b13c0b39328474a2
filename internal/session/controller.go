package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/studygate/studygate/internal/metrics"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

// State identifies the controller lifecycle state
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateLocked
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateLocked:
		return "locked"
	default:
		return "uninitialized"
	}
}

const (
	// DefaultTickInterval is the default interval between scheduled heartbeats
	DefaultTickInterval = 5 * time.Second
)

// Config holds controller configuration
type Config struct {
	Limits       quota.Limits
	TickInterval time.Duration
	GapCeiling   time.Duration
}

// TickFunc receives the remaining daily seconds after each applied heartbeat
type TickFunc func(secondsRemaining int64)

// LockoutFunc receives the reason when the session transitions to locked
type LockoutFunc func(reason quota.Reason)

// Controller orchestrates the clock, tracker, and lockout policy into a
// single ticking loop. It is the only component external collaborators
// talk to: they subscribe for tick/lockout notifications and feed it
// explicit heartbeats from activity events.
//
// Heartbeats always use the controller's own clock reading, never a
// caller-supplied timestamp, so applies happen in non-decreasing time
// order within one controller instance.
type Controller struct {
	store    storage.SnapshotStore
	tracker  *quota.Tracker
	limits   quota.Limits
	interval time.Duration
	clock    quota.Clock
	logger   zerolog.Logger

	mu           sync.Mutex
	state        State
	snap         quota.Snapshot
	lastActivity time.Time
	stopChan     chan struct{}

	onTick    []TickFunc
	onLockout []LockoutFunc
}

// NewController creates a new session controller
func NewController(store storage.SnapshotStore, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	return &Controller{
		store:    store,
		tracker:  quota.NewTracker(cfg.GapCeiling),
		limits:   cfg.Limits,
		interval: cfg.TickInterval,
		clock:    quota.RealClock{},
		logger:   logger.With().Str("component", "session-controller").Logger(),
	}
}

// SetClock sets the clock used for heartbeats (for testing)
func (c *Controller) SetClock(clock quota.Clock) {
	c.clock = clock
}

// OnTick registers a callback invoked with the remaining daily seconds
// after every applied heartbeat. Register before Start.
func (c *Controller) OnTick(fn TickFunc) {
	c.onTick = append(c.onTick, fn)
}

// OnLockout registers a callback invoked once per transition to locked.
// Register before Start.
func (c *Controller) OnLockout(fn LockoutFunc) {
	c.onLockout = append(c.onLockout, fn)
}

// Start validates the configured limits, loads the user's snapshot, and
// begins ticking. A read failure or missing record falls open to a zero
// snapshot: a storage outage must not block an already-trusted session
// before it has received its quota.
//
// Starting a session whose snapshot is already over a limit locks
// immediately; restarting a locked controller without a day or month
// rollover re-locks on the first heartbeat.
func (c *Controller) Start(ctx context.Context, userID string) error {
	if err := c.limits.Validate(); err != nil {
		return fmt.Errorf("invalid limits: %w", err)
	}

	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("controller already started (state %s)", c.state)
	}

	snap, err := c.store.Load(ctx, userID)
	switch {
	case err == nil:
		c.snap = *snap
	case errors.Is(err, storage.ErrNotFound):
		c.snap = quota.NewSnapshot(userID)
	default:
		c.logger.Error().Err(err).Str("user_id", userID).Msg("Snapshot load failed, starting from zero usage")
		c.snap = quota.NewSnapshot(userID)
	}

	c.state = StateRunning
	c.lastActivity = c.clock.Now()
	c.stopChan = make(chan struct{})
	metrics.ActiveSessions.Inc()

	c.logger.Info().
		Str("user_id", userID).
		Int64("daily_seconds_used", c.snap.DailySecondsUsed).
		Int("active_days", len(c.snap.ActiveDays)).
		Msg("Session started")
	c.mu.Unlock()

	// First heartbeat re-evaluates the loaded snapshot right away, so a
	// naive restart cannot bypass an existing lockout.
	if c.apply() {
		c.mu.Lock()
		stop := c.stopChan
		c.mu.Unlock()
		go c.run(stop)
	}

	return nil
}

// Heartbeat applies an immediate heartbeat, typically from a UI
// visibility event. No-op unless the controller is running.
func (c *Controller) Heartbeat() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.lastActivity = c.clock.Now()
	c.mu.Unlock()

	c.apply()
}

// Stop flushes the current snapshot and returns the controller to
// uninitialized. Idempotent: stopping an uninitialized controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateUninitialized {
		c.mu.Unlock()
		return
	}

	if c.stopChan != nil {
		close(c.stopChan)
		c.stopChan = nil
	}

	snap := c.snap.Clone()
	c.state = StateUninitialized
	metrics.ActiveSessions.Dec()
	c.mu.Unlock()

	if err := c.store.Save(context.Background(), snap); err != nil {
		metrics.SnapshotSaveErrors.Inc()
		c.logger.Error().Err(err).Str("user_id", snap.UserID).Msg("Final snapshot flush failed")
	}

	c.logger.Info().Str("user_id", snap.UserID).Msg("Session stopped")
}

// ForceReset zeroes the user's usage, in memory and in storage. For
// administrative callers only; a locked controller resumes running.
func (c *Controller) ForceReset() error {
	c.mu.Lock()
	if c.state == StateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("controller not started")
	}

	c.snap = quota.NewSnapshot(c.snap.UserID)
	snap := c.snap.Clone()

	resumed := false
	if c.state == StateLocked {
		c.state = StateRunning
		c.stopChan = make(chan struct{})
		go c.run(c.stopChan)
		resumed = true
	}
	c.mu.Unlock()

	if err := c.store.Save(context.Background(), snap); err != nil {
		metrics.SnapshotSaveErrors.Inc()
		return fmt.Errorf("failed to persist reset snapshot: %w", err)
	}

	c.logger.Info().
		Str("user_id", snap.UserID).
		Bool("resumed", resumed).
		Msg("Usage forcibly reset")

	return nil
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current in-memory snapshot
func (c *Controller) Snapshot() quota.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Verdict evaluates the current snapshot against the configured limits
func (c *Controller) Verdict() quota.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return quota.Evaluate(c.snap, c.limits)
}

// LastActivity returns the time of the last explicit heartbeat or Start
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// run is the tick loop. It exits when the session locks or stops.
func (c *Controller) run(stop <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.apply() {
				return
			}
		case <-stop:
			return
		}
	}
}

// apply is the single non-reentrant step shared by ticks and explicit
// heartbeats: fold a heartbeat into the snapshot, write it through,
// re-evaluate the policy, and notify subscribers. Returns false once the
// session is no longer running.
func (c *Controller) apply() bool {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	before := c.snap.DailySecondsUsed
	c.snap = c.tracker.ApplyHeartbeat(c.snap, now)

	metrics.HeartbeatsTotal.Inc()
	if delta := c.snap.DailySecondsUsed - before; delta > 0 {
		metrics.UsageSecondsAccrued.Add(float64(delta))
	}

	snap := c.snap.Clone()
	verdict := quota.Evaluate(c.snap, c.limits)

	locked := false
	if verdict.Locked {
		c.state = StateLocked
		c.stopChan = nil // tick loop exits via the false return
		locked = true
	}

	tickFns := c.onTick
	lockoutFns := c.onLockout
	c.mu.Unlock()

	// Write-through: a failed save is logged and retried on the next tick.
	// In-memory progress is never rolled back for a failed write; at most a
	// few seconds of usage are lost on a crash.
	if err := c.store.Save(context.Background(), snap); err != nil {
		metrics.SnapshotSaveErrors.Inc()
		c.logger.Error().Err(err).Str("user_id", snap.UserID).Msg("Snapshot write-through failed, will retry")
	}

	if locked {
		metrics.LockoutsTotal.WithLabelValues(string(verdict.Reason)).Inc()
		c.logger.Info().
			Str("user_id", snap.UserID).
			Str("reason", string(verdict.Reason)).
			Int64("daily_seconds_used", snap.DailySecondsUsed).
			Int("active_days", len(snap.ActiveDays)).
			Msg("Session locked")

		for _, fn := range lockoutFns {
			fn(verdict.Reason)
		}
		return false
	}

	for _, fn := range tickFns {
		fn(verdict.SecondsRemainingToday)
	}
	return true
}
