package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

const (
	snapshotKeyPrefix = "studygate:usage:"
	snapshotIndexKey  = "studygate:usage:index"
)

type snapshotStore struct {
	client *redis.Client
}

// Load retrieves the usage snapshot for a user
func (s *snapshotStore) Load(ctx context.Context, userID string) (*quota.Snapshot, error) {
	data, err := s.client.HGetAll(ctx, snapshotKeyPrefix+userID).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSnapshot(data)
}

// Save writes a usage snapshot through to Redis
func (s *snapshotStore) Save(ctx context.Context, snap quota.Snapshot) error {
	script := redis.NewScript(saveSnapshotScript)

	activeDays, err := json.Marshal(snap.ActiveDays)
	if err != nil {
		return fmt.Errorf("failed to encode active_days: %w", err)
	}

	lastHeartbeat := ""
	if snap.LastHeartbeatAt != nil {
		lastHeartbeat = snap.LastHeartbeatAt.Format(time.RFC3339Nano)
	}

	keys := []string{snapshotKeyPrefix + snap.UserID, snapshotIndexKey}
	args := []interface{}{
		snap.UserID,
		snap.DailySecondsUsed,
		snap.CurrentDay,
		string(activeDays),
		snap.CurrentMonth,
		lastHeartbeat,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes a user's snapshot and its index entry
func (s *snapshotStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, snapshotKeyPrefix+userID).Err(); err != nil {
		return err
	}

	return s.client.SRem(ctx, snapshotIndexKey, userID).Err()
}

// List returns all persisted snapshots
func (s *snapshotStore) List(ctx context.Context) ([]quota.Snapshot, error) {
	userIDs, err := s.client.SMembers(ctx, snapshotIndexKey).Result()
	if err != nil {
		return nil, err
	}

	if len(userIDs) == 0 {
		return []quota.Snapshot{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))

	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, snapshotKeyPrefix+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	// Expired snapshots may linger in the index; skip empty hashes.
	snapshots := make([]quota.Snapshot, 0, len(userIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		snap, err := parseSnapshot(data)
		if err == nil {
			snapshots = append(snapshots, *snap)
		}
	}

	return snapshots, nil
}
