package quota

// Evaluate decides whether a session may continue under the given limits.
//
// Daily time is checked before monthly days: a daily lockout is actionable
// today (it resets tomorrow) while a monthly lockout reports a longer
// freeze. When both limits are exceeded the verdict reports daily_time.
// The monthly cap is evaluated on the current set size, so once reached it
// locks out even on a day that is itself already counted.
func Evaluate(snap Snapshot, limits Limits) Verdict {
	remaining := limits.DailyLimitSeconds - snap.DailySecondsUsed
	if remaining < 0 {
		remaining = 0
	}

	if snap.DailySecondsUsed >= limits.DailyLimitSeconds {
		return Verdict{
			Locked: true,
			Reason: ReasonDailyTime,
		}
	}

	if len(snap.ActiveDays) >= limits.MonthlyActiveDays {
		return Verdict{
			Locked:                true,
			Reason:                ReasonMonthlyDays,
			SecondsRemainingToday: remaining,
		}
	}

	return Verdict{SecondsRemainingToday: remaining}
}
