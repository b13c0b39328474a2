package quota

import (
	"sync"
	"time"
)

// Clock provides time information for heartbeat and policy evaluation.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides controllable time for testing rollover logic.
type TestClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewTestClock creates a test clock set to the given time.
func NewTestClock(t time.Time) *TestClock {
	return &TestClock{current: t}
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Advance moves the test clock forward (or backward, with a negative d).
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.current.Add(d)
}

// Set moves the test clock to an absolute instant.
func (t *TestClock) Set(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = at
}
