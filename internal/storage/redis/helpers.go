package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

// parseSnapshot converts a Redis hash to a usage snapshot
func parseSnapshot(data map[string]string) (*quota.Snapshot, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	dailySeconds, err := strconv.ParseInt(data["daily_seconds_used"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily_seconds_used: %w", err)
	}

	var activeDays []string
	if raw := data["active_days"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &activeDays); err != nil {
			return nil, fmt.Errorf("failed to parse active_days: %w", err)
		}
	}

	var lastHeartbeat *time.Time
	if raw := data["last_heartbeat_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_heartbeat_at: %w", err)
		}
		lastHeartbeat = &ts
	}

	return &quota.Snapshot{
		UserID:           data["user_id"],
		DailySecondsUsed: dailySeconds,
		CurrentDay:       data["current_day"],
		ActiveDays:       activeDays,
		CurrentMonth:     data["current_month"],
		LastHeartbeatAt:  lastHeartbeat,
	}, nil
}
