package quota

import (
	"time"
)

// DefaultGapCeiling is the largest inter-heartbeat interval counted as
// genuine continuous activity. Larger gaps mean the tab was closed,
// backgrounded, or offline, and contribute zero elapsed time.
const DefaultGapCeiling = 2 * time.Minute

// Tracker folds heartbeats into usage snapshots. It is a pure computation
// over its inputs; persistence is the caller's responsibility.
type Tracker struct {
	gapCeiling time.Duration
}

// NewTracker creates a tracker with the given gap ceiling.
func NewTracker(gapCeiling time.Duration) *Tracker {
	if gapCeiling <= 0 {
		gapCeiling = DefaultGapCeiling
	}
	return &Tracker{gapCeiling: gapCeiling}
}

// GapCeiling returns the configured gap ceiling.
func (t *Tracker) GapCeiling() time.Duration {
	return t.gapCeiling
}

// ApplyHeartbeat applies one heartbeat at now and returns the updated
// snapshot. Day and month rollovers reset their counters exactly once,
// the day key is inserted into the active set idempotently, and the
// elapsed contribution is zero when the previous heartbeat is missing,
// in the future, or further back than the gap ceiling. Elapsed time is
// truncated to whole seconds so the tracker never over-reports usage.
func (t *Tracker) ApplyHeartbeat(snap Snapshot, now time.Time) Snapshot {
	day := DayKey(now)
	month := MonthKey(now)

	if day != snap.CurrentDay {
		snap.DailySecondsUsed = 0
		snap.CurrentDay = day
	}

	if month != snap.CurrentMonth {
		snap.ActiveDays = nil
		snap.CurrentMonth = month
	}

	if !snap.HasActiveDay(day) {
		days := make([]string, 0, len(snap.ActiveDays)+1)
		days = append(days, snap.ActiveDays...)
		snap.ActiveDays = append(days, day)
	}

	if snap.LastHeartbeatAt != nil {
		elapsed := now.Sub(*snap.LastHeartbeatAt)
		if elapsed >= 0 && elapsed <= t.gapCeiling {
			snap.DailySecondsUsed += int64(elapsed / time.Second)
		}
	}

	hb := now
	snap.LastHeartbeatAt = &hb

	return snap
}
