package quota

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reason identifies which limit caused a lockout.
type Reason string

const (
	ReasonDailyTime   Reason = "daily_time"
	ReasonMonthlyDays Reason = "monthly_days"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the reason to lowercase.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Reason(strings.ToLower(s))

	switch normalized {
	case ReasonDailyTime, ReasonMonthlyDays, "":
		*r = normalized
		return nil
	default:
		return fmt.Errorf("invalid lockout reason: %s (must be daily_time or monthly_days)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure lowercase output.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// Snapshot is the persisted usage state for one trainee account.
// Counters apply to CurrentDay/CurrentMonth; a heartbeat whose day or
// month key differs triggers the corresponding rollover reset.
type Snapshot struct {
	UserID           string     `json:"user_id"`
	DailySecondsUsed int64      `json:"daily_seconds_used"`
	CurrentDay       string     `json:"current_day"`
	ActiveDays       []string   `json:"active_days"`
	CurrentMonth     string     `json:"current_month"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at,omitempty"`
}

// NewSnapshot returns a zeroed snapshot for a user with no recorded usage.
func NewSnapshot(userID string) Snapshot {
	return Snapshot{UserID: userID}
}

// HasActiveDay reports whether the day key is already counted this month.
func (s Snapshot) HasActiveDay(day string) bool {
	for _, d := range s.ActiveDays {
		if d == day {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.ActiveDays != nil {
		out.ActiveDays = append([]string(nil), s.ActiveDays...)
	}
	if s.LastHeartbeatAt != nil {
		t := *s.LastHeartbeatAt
		out.LastHeartbeatAt = &t
	}
	return out
}

// Limits is the per-organization quota configuration.
type Limits struct {
	DailyLimitSeconds int64 `json:"daily_limit_seconds"`
	MonthlyActiveDays int   `json:"monthly_active_days"`
}

// Validate rejects degenerate limits. A zero or negative limit would lock
// every session out immediately, so it must surface as an explicit
// configuration error instead of a silent lockout.
func (l Limits) Validate() error {
	if l.DailyLimitSeconds <= 0 {
		return fmt.Errorf("daily_limit_seconds must be positive, got %d", l.DailyLimitSeconds)
	}
	if l.MonthlyActiveDays <= 0 {
		return fmt.Errorf("monthly_active_days must be positive, got %d", l.MonthlyActiveDays)
	}
	return nil
}

// Verdict is the result of evaluating a snapshot against limits.
type Verdict struct {
	Locked                bool   `json:"locked"`
	Reason                Reason `json:"reason,omitempty"`
	SecondsRemainingToday int64  `json:"seconds_remaining_today"`
}

// DayKey returns the calendar day key ("2006-01-02") for a timestamp.
// All calendar math uses UTC so every client machine agrees on where the
// day boundary falls, regardless of its local timezone.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey returns the calendar month key ("2006-01") for a timestamp, in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
