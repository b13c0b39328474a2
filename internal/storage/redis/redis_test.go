package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/studygate/studygate/internal/config"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	snapshots := store.Snapshots()

	heartbeat := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	snap := quota.Snapshot{
		UserID:           "trainee-1",
		DailySecondsUsed: 420,
		CurrentDay:       "2025-03-10",
		ActiveDays:       []string{"2025-03-03", "2025-03-10"},
		CurrentMonth:     "2025-03",
		LastHeartbeatAt:  &heartbeat,
	}

	if err := snapshots.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := snapshots.Load(ctx, "trainee-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.UserID != snap.UserID {
		t.Errorf("Expected UserID %s, got %s", snap.UserID, loaded.UserID)
	}
	if loaded.DailySecondsUsed != snap.DailySecondsUsed {
		t.Errorf("Expected DailySecondsUsed %d, got %d", snap.DailySecondsUsed, loaded.DailySecondsUsed)
	}
	if loaded.CurrentDay != snap.CurrentDay {
		t.Errorf("Expected CurrentDay %s, got %s", snap.CurrentDay, loaded.CurrentDay)
	}
	if loaded.CurrentMonth != snap.CurrentMonth {
		t.Errorf("Expected CurrentMonth %s, got %s", snap.CurrentMonth, loaded.CurrentMonth)
	}
	if len(loaded.ActiveDays) != 2 {
		t.Fatalf("Expected 2 active days, got %v", loaded.ActiveDays)
	}
	if loaded.LastHeartbeatAt == nil || !loaded.LastHeartbeatAt.Equal(heartbeat) {
		t.Errorf("Expected LastHeartbeatAt %v, got %v", heartbeat, loaded.LastHeartbeatAt)
	}
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Snapshots().Load(context.Background(), "no-such-user")
	if err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotStore_SaveOverwrites(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	snapshots := store.Snapshots()

	snap := quota.Snapshot{
		UserID:           "trainee-1",
		DailySecondsUsed: 100,
		CurrentDay:       "2025-03-10",
		ActiveDays:       []string{"2025-03-10"},
		CurrentMonth:     "2025-03",
	}
	_ = snapshots.Save(ctx, snap)

	snap.DailySecondsUsed = 160
	if err := snapshots.Save(ctx, snap); err != nil {
		t.Fatalf("Second Save failed: %v", err)
	}

	loaded, err := snapshots.Load(ctx, "trainee-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DailySecondsUsed != 160 {
		t.Errorf("Expected DailySecondsUsed 160 after overwrite, got %d", loaded.DailySecondsUsed)
	}
}

func TestSnapshotStore_NilHeartbeatRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	snapshots := store.Snapshots()

	if err := snapshots.Save(ctx, quota.NewSnapshot("trainee-1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := snapshots.Load(ctx, "trainee-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LastHeartbeatAt != nil {
		t.Errorf("Expected nil LastHeartbeatAt, got %v", loaded.LastHeartbeatAt)
	}
	if len(loaded.ActiveDays) != 0 {
		t.Errorf("Expected no active days, got %v", loaded.ActiveDays)
	}
}

func TestSnapshotStore_Delete(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	snapshots := store.Snapshots()

	_ = snapshots.Save(ctx, quota.NewSnapshot("trainee-1"))

	if err := snapshots.Delete(ctx, "trainee-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := snapshots.Load(ctx, "trainee-1"); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	all, err := snapshots.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected empty list after delete, got %d entries", len(all))
	}
}

func TestSnapshotStore_List(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	snapshots := store.Snapshots()

	_ = snapshots.Save(ctx, quota.Snapshot{UserID: "trainee-1", CurrentDay: "2025-03-10", CurrentMonth: "2025-03"})
	_ = snapshots.Save(ctx, quota.Snapshot{UserID: "trainee-2", CurrentDay: "2025-03-10", CurrentMonth: "2025-03"})
	_ = snapshots.Save(ctx, quota.Snapshot{UserID: "trainee-3", CurrentDay: "2025-03-09", CurrentMonth: "2025-03"})

	all, err := snapshots.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 snapshots, got %d", len(all))
	}
}

func TestSnapshotStore_RetentionTTL(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	_ = store.Snapshots().Save(ctx, quota.NewSnapshot("trainee-1"))

	ttl := mr.TTL(snapshotKeyPrefix + "trainee-1")
	if ttl != 90*24*time.Hour {
		t.Errorf("Expected 90-day TTL on snapshot key, got %v", ttl)
	}
}
