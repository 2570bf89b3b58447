// Package recurrence computes when a campaign schedule is next due.
//
// All arithmetic happens in UTC. Functions are pure: they never touch a store
// and take "now" as an argument.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"mailbot/internal/campaign"
)

var (
	// ErrInvalidSchedule is returned for schedules that cannot be advanced
	// (once schedules, unknown kinds, out-of-range days).
	ErrInvalidSchedule = errors.New("recurrence: invalid schedule")

	// ErrSearchExhausted means the monthly search hit its iteration cap.
	// It indicates corrupt schedule data, never a legitimate calendar case.
	ErrSearchExhausted = errors.New("recurrence: search exhausted")
)

const (
	day  = 24 * time.Hour
	week = 7 * day

	// MaxMonthSearch caps the month-by-month walk of a monthly schedule.
	MaxMonthSearch = 24
)

// NextDue returns the instant a recurring schedule fires after the firing
// recorded in s.NextDue. The result is always strictly later than now,
// except for daily schedules which advance by exactly 24h.
func NextDue(s campaign.Schedule, now time.Time) (time.Time, error) {
	if s.Kind == campaign.KindOnce {
		return time.Time{}, fmt.Errorf("%w: once schedules are deactivated, not advanced", ErrInvalidSchedule)
	}
	if err := s.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	prev := s.NextDue.UTC()
	now = now.UTC()

	switch s.Kind {
	case campaign.KindDaily:
		return prev.Add(day), nil
	case campaign.KindWeekly:
		if next, ok := nextWeekly(s.Days, s.Hour, s.Minute, later(prev, now)); ok {
			return next, nil
		}
		return prev.Add(week), nil
	case campaign.KindMonthly:
		return nextMonthly(s.Days, s.Hour, s.Minute, later(prev, now))
	}
	return time.Time{}, fmt.Errorf("%w: kind %q", ErrInvalidSchedule, s.Kind)
}

// FirstDue returns the first firing of a freshly created recurring schedule:
// the earliest matching instant strictly after now.
func FirstDue(kind campaign.Kind, days []int, hour, minute int, now time.Time) (time.Time, error) {
	s := campaign.Schedule{Kind: kind, Days: days, Hour: hour, Minute: minute}
	if kind == campaign.KindOnce {
		return time.Time{}, fmt.Errorf("%w: once schedules need an explicit instant", ErrInvalidSchedule)
	}
	if err := s.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	now = now.UTC()

	switch kind {
	case campaign.KindDaily:
		t := at(now, hour, minute)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	case campaign.KindWeekly:
		if t, ok := nextWeekly(days, hour, minute, now); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: no weekday matched", ErrInvalidSchedule)
	case campaign.KindMonthly:
		return nextMonthly(days, hour, minute, now)
	}
	return time.Time{}, fmt.Errorf("%w: kind %q", ErrInvalidSchedule, kind)
}

// nextWeekly walks at most eight calendar days from base and returns the
// earliest configured weekday at hh:mm strictly after base.
func nextWeekly(days []int, hour, minute int, base time.Time) (time.Time, bool) {
	want := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d >= 1 && d <= 7 {
			want[isoToWeekday(d)] = true
		}
	}
	if len(want) == 0 {
		return time.Time{}, false
	}
	start := at(base, hour, minute)
	for i := 0; i <= 7; i++ {
		t := start.AddDate(0, 0, i)
		if want[t.Weekday()] && t.After(base) {
			return t, true
		}
	}
	return time.Time{}, false
}

// nextMonthly returns the earliest candidate across days. Each day is tried
// month by month starting from base's month, clamped to the month's length.
func nextMonthly(days []int, hour, minute int, base time.Time) (time.Time, error) {
	var best time.Time
	for _, d := range days {
		t, err := nextMonthDay(d, hour, minute, base)
		if err != nil {
			return time.Time{}, err
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	if best.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no day of month configured", ErrInvalidSchedule)
	}
	return best, nil
}

func nextMonthDay(d, hour, minute int, base time.Time) (time.Time, error) {
	y, m := base.Year(), base.Month()
	for i := 0; i < MaxMonthSearch; i++ {
		dd := d
		if last := daysIn(y, m); dd > last {
			dd = last
		}
		t := time.Date(y, m, dd, hour, minute, 0, 0, time.UTC)
		if t.After(base) {
			return t, nil
		}
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
	return time.Time{}, fmt.Errorf("%w: day %d after %s", ErrSearchExhausted, d, base.Format(time.RFC3339))
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func at(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, time.UTC)
}

// isoToWeekday maps 1=Monday..7=Sunday onto time.Weekday.
func isoToWeekday(d int) time.Weekday {
	return time.Weekday(d % 7)
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
