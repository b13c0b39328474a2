package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

const (
	// DefaultIdleTimeout is how long a controller may go without an
	// explicit heartbeat before the manager stops it. A stopped
	// controller flushes its snapshot, so an abandoned browser tab stops
	// consuming quota shortly after it disappears.
	DefaultIdleTimeout = 2 * time.Minute

	cleanupInterval = 30 * time.Second
)

// Manager owns one Controller per active user. Controllers are created
// lazily on the first heartbeat and reaped after an idle period.
type Manager struct {
	store       storage.SnapshotStore
	cfg         Config
	idleTimeout time.Duration
	clock       quota.Clock
	logger      zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
	stopCleanup chan struct{}
}

// NewManager creates a session manager with the given controller config
func NewManager(store storage.SnapshotStore, cfg Config, logger zerolog.Logger) *Manager {
	m := &Manager{
		store:       store,
		cfg:         cfg,
		idleTimeout: DefaultIdleTimeout,
		clock:       quota.RealClock{},
		logger:      logger.With().Str("component", "session-manager").Logger(),
		controllers: make(map[string]*Controller),
		stopCleanup: make(chan struct{}),
	}

	go m.cleanupIdleSessions()

	return m
}

// SetClock sets the clock used by the manager and all future controllers
// (for testing)
func (m *Manager) SetClock(clock quota.Clock) {
	m.clock = clock
}

// SetIdleTimeout overrides the idle reaping timeout
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.idleTimeout = d
}

// Heartbeat records activity for the user and returns the resulting
// verdict. The first heartbeat for a user starts a controller, which
// loads any persisted usage; a user who is already over a limit gets a
// locked verdict immediately.
func (m *Manager) Heartbeat(ctx context.Context, userID string) (quota.Verdict, error) {
	ctrl, started, err := m.controller(ctx, userID)
	if err != nil {
		return quota.Verdict{}, err
	}

	// Start already applied the first heartbeat; a second one within the
	// same call would double-count the instant.
	if !started {
		ctrl.Heartbeat()
	}

	return ctrl.Verdict(), nil
}

// Verdict returns the current verdict and snapshot for a user without
// recording activity. Users with no running controller are evaluated
// from their persisted snapshot; unknown users get a fresh one.
func (m *Manager) Verdict(ctx context.Context, userID string) (quota.Verdict, quota.Snapshot, error) {
	m.mu.Lock()
	ctrl, ok := m.controllers[userID]
	m.mu.Unlock()

	if ok {
		return ctrl.Verdict(), ctrl.Snapshot(), nil
	}

	snap, err := m.store.Load(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		fresh := quota.NewSnapshot(userID)
		snap = &fresh
	default:
		return quota.Verdict{}, quota.Snapshot{}, err
	}

	return quota.Evaluate(*snap, m.cfg.Limits), snap.Clone(), nil
}

// ForceReset zeroes a user's usage in memory and in storage. A locked
// controller resumes running.
func (m *Manager) ForceReset(ctx context.Context, userID string) error {
	m.mu.Lock()
	ctrl, ok := m.controllers[userID]
	m.mu.Unlock()

	if ok {
		return ctrl.ForceReset()
	}

	return m.store.Save(ctx, quota.NewSnapshot(userID))
}

// Stop stops the cleanup loop and all controllers, flushing their
// snapshots
func (m *Manager) Stop() {
	close(m.stopCleanup)

	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, ctrl := range m.controllers {
		controllers = append(controllers, ctrl)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Stop()
	}

	m.logger.Info().Int("sessions", len(controllers)).Msg("All sessions stopped")
}

// controller returns the user's controller, starting one if needed.
// The second return reports whether this call started it.
func (m *Manager) controller(ctx context.Context, userID string) (*Controller, bool, error) {
	m.mu.Lock()
	if ctrl, ok := m.controllers[userID]; ok {
		m.mu.Unlock()
		return ctrl, false, nil
	}

	ctrl := NewController(m.store, m.cfg, m.logger)
	ctrl.SetClock(m.clock)
	m.controllers[userID] = ctrl
	m.mu.Unlock()

	if err := ctrl.Start(ctx, userID); err != nil {
		m.mu.Lock()
		delete(m.controllers, userID)
		m.mu.Unlock()
		return nil, false, err
	}

	return ctrl, true, nil
}

// cleanupIdleSessions periodically stops controllers that have not seen
// an explicit heartbeat within the idle timeout
func (m *Manager) cleanupIdleSessions() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) reapIdle() {
	now := m.clock.Now()

	m.mu.Lock()
	idle := make(map[string]*Controller)
	for userID, ctrl := range m.controllers {
		if now.Sub(ctrl.LastActivity()) > m.idleTimeout {
			idle[userID] = ctrl
			delete(m.controllers, userID)
		}
	}
	m.mu.Unlock()

	for userID, ctrl := range idle {
		ctrl.Stop()
		m.logger.Debug().Str("user_id", userID).Msg("Reaped idle session")
	}
}
