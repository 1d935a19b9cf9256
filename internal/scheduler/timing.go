package scheduler

import "time"

const (
	businessDayStart = 9  // 09:00 local
	businessDayEnd   = 17 // 17:00 local

	// defaultStepSpacing separates steps that carry no timing of their own,
	// so a multi-step workflow never fires everything at once.
	defaultStepSpacing = time.Hour

	// scheduleBuffer keeps single-shot jobs slightly in the future so the
	// in-memory timer always has something to wait on.
	scheduleBuffer = 5 * time.Second
)

// ComputeStepTime resolves when step index i of a workflow triggered at base
// should run. Precedence: immediate, explicit delay, wall-clock send time,
// then default spacing by index. Business-hours and weekend adjustments apply
// after the base time is chosen, in that order.
func ComputeStepTime(base time.Time, step *Step, index int) time.Time {
	var at time.Time
	switch {
	case step.Timing == "immediate":
		at = base
	case step.Delay != nil:
		at = base.
			Add(time.Duration(step.Delay.Minutes) * time.Minute).
			Add(time.Duration(step.Delay.Hours) * time.Hour).
			AddDate(0, 0, step.Delay.Days)
	case step.SendTime != "":
		at = nextWallClock(base, step.SendTime)
	default:
		at = base.Add(time.Duration(index) * defaultStepSpacing)
	}

	if step.BusinessHoursOnly {
		at = clampToBusinessHours(at)
	}
	if step.SkipWeekends {
		at = skipWeekend(at)
	}
	return at
}

// ComputeJobTime resolves a single-job schedule from its config. An explicit
// scheduled_time (RFC 3339) wins, then delay_minutes, then now plus a small
// buffer. The result is never in the past relative to now.
func ComputeJobTime(now time.Time, config map[string]interface{}) time.Time {
	if raw, ok := config["scheduled_time"].(string); ok && raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			if at.After(now) {
				return at
			}
			return now.Add(scheduleBuffer)
		}
	}
	if mins, ok := configFloat(config, "delay_minutes"); ok && mins > 0 {
		return now.Add(time.Duration(mins) * time.Minute)
	}
	return now.Add(scheduleBuffer)
}

func configFloat(config map[string]interface{}, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// nextWallClock returns the next occurrence of hhmm ("15:04") at or after
// base. A malformed value falls back to base unchanged.
func nextWallClock(base time.Time, hhmm string) time.Time {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return base
	}
	at := time.Date(base.Year(), base.Month(), base.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, base.Location())
	if at.Before(base) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// clampToBusinessHours moves a time outside 09:00-17:00 to the next opening.
// Before opening moves to 09:00 the same day, at or after closing moves to
// 09:00 the next day.
func clampToBusinessHours(at time.Time) time.Time {
	switch {
	case at.Hour() < businessDayStart:
		return time.Date(at.Year(), at.Month(), at.Day(),
			businessDayStart, 0, 0, 0, at.Location())
	case at.Hour() >= businessDayEnd:
		next := at.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(),
			businessDayStart, 0, 0, 0, at.Location())
	}
	return at
}

// skipWeekend pushes Saturday to Monday and Sunday to Monday, keeping the
// time of day.
func skipWeekend(at time.Time) time.Time {
	switch at.Weekday() {
	case time.Saturday:
		return at.AddDate(0, 0, 2)
	case time.Sunday:
		return at.AddDate(0, 0, 1)
	}
	return at
}
