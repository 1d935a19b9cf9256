package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Tuesday 2025-06-10 10:30 UTC, well inside business hours.
var tuesdayMorning = time.Date(2025, 6, 10, 10, 30, 0, 0, time.UTC)

func TestComputeStepTime_Immediate(t *testing.T) {
	step := &Step{Timing: "immediate"}
	assert.Equal(t, tuesdayMorning, ComputeStepTime(tuesdayMorning, step, 3))
}

func TestComputeStepTime_Delay(t *testing.T) {
	step := &Step{Delay: &Delay{Days: 2, Hours: 3, Minutes: 15}}
	want := tuesdayMorning.AddDate(0, 0, 2).Add(3*time.Hour + 15*time.Minute)
	assert.Equal(t, want, ComputeStepTime(tuesdayMorning, step, 0))
}

func TestComputeStepTime_SendTimeLaterToday(t *testing.T) {
	step := &Step{SendTime: "15:00"}
	want := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, want, ComputeStepTime(tuesdayMorning, step, 0))
}

func TestComputeStepTime_SendTimeRollsToTomorrow(t *testing.T) {
	step := &Step{SendTime: "08:00"}
	want := time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, want, ComputeStepTime(tuesdayMorning, step, 0))
}

func TestComputeStepTime_DefaultSpacingByIndex(t *testing.T) {
	for _, index := range []int{0, 1, 4} {
		got := ComputeStepTime(tuesdayMorning, &Step{}, index)
		assert.Equal(t, tuesdayMorning.Add(time.Duration(index)*time.Hour), got,
			"step %d should be spaced %d hour(s) out", index, index)
	}
}

func TestComputeStepTime_BusinessHoursClamp(t *testing.T) {
	tests := []struct {
		name  string
		delay *Delay
		want  time.Time
	}{
		{
			name:  "before opening moves to 09:00 same day",
			delay: &Delay{Hours: 20}, // 06:30 next day
			want:  time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "after closing moves to 09:00 next day",
			delay: &Delay{Hours: 8}, // 18:30 same day
			want:  time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "inside business hours unchanged",
			delay: &Delay{Hours: 2}, // 12:30
			want:  time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &Step{Delay: tt.delay, BusinessHoursOnly: true}
			assert.Equal(t, tt.want, ComputeStepTime(tuesdayMorning, step, 0))
		})
	}
}

func TestComputeStepTime_WeekendSkip(t *testing.T) {
	// Saturday lands on Monday, Sunday lands on Monday, same time of day.
	saturday := &Step{Delay: &Delay{Days: 4}, SkipWeekends: true}
	assert.Equal(t, time.Monday, ComputeStepTime(tuesdayMorning, saturday, 0).Weekday())

	sunday := &Step{Delay: &Delay{Days: 5}, SkipWeekends: true}
	got := ComputeStepTime(tuesdayMorning, sunday, 0)
	assert.Equal(t, time.Monday, got.Weekday())
	assert.Equal(t, 10, got.Hour())
}

func TestComputeStepTime_BusinessHoursThenWeekend(t *testing.T) {
	// Friday 18:30 clamps to Saturday 09:00, then the weekend skip lands on
	// Monday 09:00.
	step := &Step{Delay: &Delay{Days: 3, Hours: 8}, BusinessHoursOnly: true, SkipWeekends: true}
	got := ComputeStepTime(tuesdayMorning, step, 0)
	assert.Equal(t, time.Monday, got.Weekday())
	assert.Equal(t, 9, got.Hour())
}

func TestComputeJobTime(t *testing.T) {
	now := tuesdayMorning

	t.Run("explicit future scheduled_time wins", func(t *testing.T) {
		at := now.Add(6 * time.Hour)
		got := ComputeJobTime(now, map[string]interface{}{
			"scheduled_time": at.Format(time.RFC3339),
			"delay_minutes":  float64(90),
		})
		assert.True(t, got.Equal(at))
	})

	t.Run("past scheduled_time becomes near-immediate", func(t *testing.T) {
		got := ComputeJobTime(now, map[string]interface{}{
			"scheduled_time": now.Add(-time.Hour).Format(time.RFC3339),
		})
		assert.True(t, got.After(now))
		assert.True(t, got.Before(now.Add(time.Minute)))
	})

	t.Run("delay_minutes", func(t *testing.T) {
		got := ComputeJobTime(now, map[string]interface{}{"delay_minutes": float64(45)})
		assert.True(t, got.Equal(now.Add(45*time.Minute)))
	})

	t.Run("empty config is never in the past", func(t *testing.T) {
		got := ComputeJobTime(now, map[string]interface{}{})
		assert.True(t, got.After(now))
	})
}
