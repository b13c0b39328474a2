package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
	"github.com/studygate/studygate/internal/storage/memory"
)

var testLimits = quota.Limits{
	DailyLimitSeconds: 1800,
	MonthlyActiveDays: 20,
}

// setupController creates a controller backed by an in-memory store and a
// test clock. The tick interval is long enough that the background loop
// never fires during a test; tests drive heartbeats explicitly.
func setupController(t *testing.T, store storage.SnapshotStore, limits quota.Limits, start time.Time) (*Controller, *quota.TestClock) {
	t.Helper()

	ctrl := NewController(store, Config{
		Limits:       limits,
		TickInterval: time.Hour,
		GapCeiling:   2 * time.Minute,
	}, zerolog.Nop())

	clock := quota.NewTestClock(start)
	ctrl.SetClock(clock)

	t.Cleanup(ctrl.Stop)

	return ctrl, clock
}

// failingStore wraps a SnapshotStore and fails operations on demand
type failingStore struct {
	inner storage.SnapshotStore

	mu        sync.Mutex
	failLoad  bool
	failSaves int
	saveCalls int
}

func (f *failingStore) Load(ctx context.Context, userID string) (*quota.Snapshot, error) {
	f.mu.Lock()
	fail := f.failLoad
	f.mu.Unlock()
	if fail {
		return nil, errors.New("backend unavailable")
	}
	return f.inner.Load(ctx, userID)
}

func (f *failingStore) Save(ctx context.Context, snap quota.Snapshot) error {
	f.mu.Lock()
	f.saveCalls++
	if f.failSaves > 0 {
		f.failSaves--
		f.mu.Unlock()
		return errors.New("backend unavailable")
	}
	f.mu.Unlock()
	return f.inner.Save(ctx, snap)
}

func (f *failingStore) Delete(ctx context.Context, userID string) error {
	return f.inner.Delete(ctx, userID)
}

func (f *failingStore) List(ctx context.Context) ([]quota.Snapshot, error) {
	return f.inner.List(ctx)
}

func TestStartLoadsPersistedUsage(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	seed := quota.NewSnapshot("trainee-1")
	seed.DailySecondsUsed = 600
	seed.CurrentDay = quota.DayKey(start)
	seed.CurrentMonth = quota.MonthKey(start)
	seed.ActiveDays = []string{quota.DayKey(start)}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	ctrl, _ := setupController(t, store, testLimits, start)
	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := ctrl.State(); got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}

	snap := ctrl.Snapshot()
	if snap.DailySecondsUsed != 600 {
		t.Errorf("DailySecondsUsed = %d, want 600", snap.DailySecondsUsed)
	}

	v := ctrl.Verdict()
	if v.Locked {
		t.Error("expected unlocked verdict")
	}
	if v.SecondsRemainingToday != 1200 {
		t.Errorf("SecondsRemainingToday = %d, want 1200", v.SecondsRemainingToday)
	}
}

func TestStartFailsOpenOnReadError(t *testing.T) {
	store := &failingStore{inner: memory.Open().Snapshots(), failLoad: true}
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ctrl, _ := setupController(t, store, testLimits, start)
	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := ctrl.State(); got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}
	if used := ctrl.Snapshot().DailySecondsUsed; used != 0 {
		t.Errorf("DailySecondsUsed = %d, want 0 after fail-open", used)
	}
}

func TestStartRejectsInvalidLimits(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for _, limits := range []quota.Limits{
		{DailyLimitSeconds: 0, MonthlyActiveDays: 20},
		{DailyLimitSeconds: 1800, MonthlyActiveDays: -1},
	} {
		ctrl, _ := setupController(t, store, limits, start)
		if err := ctrl.Start(context.Background(), "trainee-1"); err == nil {
			t.Errorf("Start with limits %+v succeeded, want error", limits)
		}
		if got := ctrl.State(); got != StateUninitialized {
			t.Errorf("state = %s, want uninitialized after rejected start", got)
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ctrl, _ := setupController(t, store, testLimits, start)
	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := ctrl.Start(context.Background(), "trainee-1"); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func TestDailyLockoutEmittedOnce(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ctrl, clock := setupController(t, store, testLimits, start)

	var mu sync.Mutex
	var lockouts []quota.Reason
	var lastRemaining int64 = -1
	ctrl.OnLockout(func(reason quota.Reason) {
		mu.Lock()
		lockouts = append(lockouts, reason)
		mu.Unlock()
	})
	ctrl.OnTick(func(remaining int64) {
		mu.Lock()
		lastRemaining = remaining
		mu.Unlock()
	})

	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 1800s of activity at 5s per heartbeat
	for i := 0; i < 360; i++ {
		clock.Advance(5 * time.Second)
		ctrl.Heartbeat()
	}

	if got := ctrl.State(); got != StateLocked {
		t.Fatalf("state = %s, want locked", got)
	}

	mu.Lock()
	if len(lockouts) != 1 {
		t.Errorf("lockout callbacks = %d, want 1", len(lockouts))
	} else if lockouts[0] != quota.ReasonDailyTime {
		t.Errorf("lockout reason = %s, want %s", lockouts[0], quota.ReasonDailyTime)
	}
	mu.Unlock()

	v := ctrl.Verdict()
	if !v.Locked || v.SecondsRemainingToday != 0 {
		t.Errorf("verdict = %+v, want locked with 0 remaining", v)
	}

	// Heartbeats after lockout are no-ops
	clock.Advance(5 * time.Second)
	ctrl.Heartbeat()

	mu.Lock()
	if len(lockouts) != 1 {
		t.Errorf("lockout callbacks after extra heartbeat = %d, want 1", len(lockouts))
	}
	mu.Unlock()

	if used := ctrl.Snapshot().DailySecondsUsed; used != 1800 {
		t.Errorf("DailySecondsUsed = %d, want 1800 (no accrual while locked)", used)
	}

	// The last tick before the lockout saw 5 seconds left
	mu.Lock()
	if lastRemaining != 5 {
		t.Errorf("last tick remaining = %d, want 5", lastRemaining)
	}
	mu.Unlock()
}

func TestMonthlyLockoutOnFirstHeartbeat(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 21, 9, 0, 0, 0, time.UTC)

	// 20 distinct active days earlier in the month
	seed := quota.NewSnapshot("trainee-1")
	seed.CurrentMonth = quota.MonthKey(start)
	seed.CurrentDay = "2025-03-20"
	for d := 1; d <= 20; d++ {
		seed.ActiveDays = append(seed.ActiveDays, time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02"))
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	ctrl, _ := setupController(t, store, testLimits, start)

	var mu sync.Mutex
	var lockouts []quota.Reason
	ctrl.OnLockout(func(reason quota.Reason) {
		mu.Lock()
		lockouts = append(lockouts, reason)
		mu.Unlock()
	})

	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := ctrl.State(); got != StateLocked {
		t.Fatalf("state = %s, want locked on first heartbeat of 21st day", got)
	}

	mu.Lock()
	if len(lockouts) != 1 || lockouts[0] != quota.ReasonMonthlyDays {
		t.Errorf("lockouts = %v, want one %s", lockouts, quota.ReasonMonthlyDays)
	}
	mu.Unlock()

	// Daily budget is untouched: the monthly cap alone locked the session
	v := ctrl.Verdict()
	if v.SecondsRemainingToday != 1800 {
		t.Errorf("SecondsRemainingToday = %d, want 1800", v.SecondsRemainingToday)
	}
}

func TestRestartWhileLockedRelocks(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	seed := quota.NewSnapshot("trainee-1")
	seed.DailySecondsUsed = 1800
	seed.CurrentDay = quota.DayKey(start)
	seed.CurrentMonth = quota.MonthKey(start)
	seed.ActiveDays = []string{quota.DayKey(start)}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	ctrl, _ := setupController(t, store, testLimits, start.Add(10*time.Minute))

	locked := 0
	ctrl.OnLockout(func(quota.Reason) { locked++ })

	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := ctrl.State(); got != StateLocked {
		t.Errorf("state = %s, want locked immediately after restart", got)
	}
	if locked != 1 {
		t.Errorf("lockout callbacks = %d, want 1", locked)
	}
}

func TestRestartAfterDayRolloverUnlocks(t *testing.T) {
	store := memory.Open().Snapshots()
	lockedDay := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)

	seed := quota.NewSnapshot("trainee-1")
	seed.DailySecondsUsed = 1800
	seed.CurrentDay = quota.DayKey(lockedDay)
	seed.CurrentMonth = quota.MonthKey(lockedDay)
	seed.ActiveDays = []string{quota.DayKey(lockedDay)}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	nextDay := time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)
	ctrl, _ := setupController(t, store, testLimits, nextDay)

	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := ctrl.State(); got != StateRunning {
		t.Errorf("state = %s, want running after day rollover", got)
	}

	snap := ctrl.Snapshot()
	if snap.DailySecondsUsed != 0 {
		t.Errorf("DailySecondsUsed = %d, want 0 after rollover", snap.DailySecondsUsed)
	}
	if len(snap.ActiveDays) != 2 {
		t.Errorf("ActiveDays = %v, want 2 entries", snap.ActiveDays)
	}
}

func TestSaveFailureKeepsAccruing(t *testing.T) {
	store := &failingStore{inner: memory.Open().Snapshots(), failSaves: 4}
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ctrl, clock := setupController(t, store, testLimits, start)
	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 6; i++ {
		clock.Advance(5 * time.Second)
		ctrl.Heartbeat()
	}

	// In-memory usage survived the failed writes
	if used := ctrl.Snapshot().DailySecondsUsed; used != 30 {
		t.Errorf("DailySecondsUsed = %d, want 30", used)
	}

	// Once the backend recovers, the next write carries the full value
	persisted, err := store.Load(context.Background(), "trainee-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.DailySecondsUsed != 30 {
		t.Errorf("persisted DailySecondsUsed = %d, want 30", persisted.DailySecondsUsed)
	}
}

func TestStopFlushesAndIsIdempotent(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ctrl, clock := setupController(t, store, testLimits, start)
	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clock.Advance(5 * time.Second)
	ctrl.Heartbeat()

	ctrl.Stop()
	ctrl.Stop()

	if got := ctrl.State(); got != StateUninitialized {
		t.Errorf("state = %s, want uninitialized after stop", got)
	}

	persisted, err := store.Load(context.Background(), "trainee-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.DailySecondsUsed != 5 {
		t.Errorf("persisted DailySecondsUsed = %d, want 5", persisted.DailySecondsUsed)
	}
}

func TestForceResetResumesLockedSession(t *testing.T) {
	store := memory.Open().Snapshots()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	seed := quota.NewSnapshot("trainee-1")
	seed.DailySecondsUsed = 1800
	seed.CurrentDay = quota.DayKey(start)
	seed.CurrentMonth = quota.MonthKey(start)
	seed.ActiveDays = []string{quota.DayKey(start)}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	ctrl, _ := setupController(t, store, testLimits, start)
	if err := ctrl.Start(context.Background(), "trainee-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := ctrl.State(); got != StateLocked {
		t.Fatalf("state = %s, want locked", got)
	}

	if err := ctrl.ForceReset(); err != nil {
		t.Fatalf("ForceReset failed: %v", err)
	}

	if got := ctrl.State(); got != StateRunning {
		t.Errorf("state = %s, want running after reset", got)
	}

	snap := ctrl.Snapshot()
	if snap.DailySecondsUsed != 0 || len(snap.ActiveDays) != 0 {
		t.Errorf("snapshot = %+v, want zero usage after reset", snap)
	}

	persisted, err := store.Load(context.Background(), "trainee-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.DailySecondsUsed != 0 {
		t.Errorf("persisted DailySecondsUsed = %d, want 0", persisted.DailySecondsUsed)
	}
}
