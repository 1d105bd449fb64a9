// Package schedule computes reminder due dates from the weekly ordering
// policy. All functions are pure date arithmetic; callers own clocks and
// timers.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// A scan past this many days means the weekday sets are empty or the config
// is otherwise broken; the fallback below keeps NextDueDate total.
const maxScanDays = 14

// Weekdays is an active-day set.
type Weekdays map[time.Weekday]bool

// Config describes the reminder policy. Immutable after load.
type Config struct {
	// Normal is the active weekday set outside the special week.
	Normal Weekdays
	// Special is the expanded weekday set used during the special week.
	Special Weekdays
	// SpecialWeek is the 1-based week-of-month bucket that activates the
	// expanded set.
	SpecialWeek int
	// Hour and Minute are the local fire time of day.
	Hour   int
	Minute int
	// Location anchors day boundaries and fire times.
	Location *time.Location
}

// Default returns the observed ordering policy: Mon-Wed on normal weeks,
// Mon-Fri during the third week of the month.
func Default(loc *time.Location, hour, minute int) Config {
	if loc == nil {
		loc = time.UTC
	}

	return Config{
		Normal: Weekdays{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
		},
		Special: Weekdays{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		SpecialWeek: 3,
		Hour:        hour,
		Minute:      minute,
		Location:    loc,
	}
}

// WeekOfMonth buckets a date into 1-based weeks anchored to the weekday of
// the 1st, with Monday starting each week. The 1st always falls in week 1;
// the bucket advances every Monday after it.
func WeekOfMonth(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return (t.Day()-1+mondayIndex(first.Weekday()))/7 + 1
}

// IsSpecialWeek reports whether the date falls in the expanded-schedule week.
func (c Config) IsSpecialWeek(t time.Time) bool {
	return WeekOfMonth(t) == c.SpecialWeek
}

// IsDueOn reports whether a reminder is due on the given date. The special
// week is evaluated for the date itself, so scans crossing a month boundary
// pick up the policy change.
func (c Config) IsDueOn(t time.Time) bool {
	active := c.Normal
	if c.IsSpecialWeek(t) {
		active = c.Special
	}

	return active[t.Weekday()]
}

// NextDueDate returns the first due date strictly after the given time, at
// the configured fire time of day. The search walks day by day so that
// entering or leaving the special week mid-scan is handled per candidate.
func (c Config) NextDueDate(after time.Time) time.Time {
	day := c.startOfDay(after).AddDate(0, 0, 1)

	for i := 0; i < maxScanDays; i++ {
		if c.IsDueOn(day) {
			return c.atFireTime(day)
		}
		day = day.AddDate(0, 0, 1)
	}

	// Unreachable with any non-empty weekday set; land on the next Monday.
	for day.Weekday() != time.Monday {
		day = day.AddDate(0, 0, 1)
	}
	return c.atFireTime(day)
}

// FireTimeOn returns the configured fire time on the given date.
func (c Config) FireTimeOn(t time.Time) time.Time {
	return c.atFireTime(t)
}

// Describe renders the currently active weekday set for user-facing status
// messages, e.g. "Mon, Tue, Wed".
func (c Config) Describe(t time.Time) string {
	active := c.Normal
	if c.IsSpecialWeek(t) {
		active = c.Special
	}

	days := make([]time.Weekday, 0, len(active))
	for day, on := range active {
		if on {
			days = append(days, day)
		}
	}

	sort.Slice(days, func(i, j int) bool {
		return mondayIndex(days[i]) < mondayIndex(days[j])
	})

	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, day.String()[:3])
	}

	return strings.Join(names, ", ")
}

// Validate rejects configs that could never fire.
func (c Config) Validate() error {
	if len(c.Normal) == 0 {
		return fmt.Errorf("schedule: normal weekday set is empty")
	}
	if len(c.Special) == 0 {
		return fmt.Errorf("schedule: special weekday set is empty")
	}
	if c.SpecialWeek < 1 || c.SpecialWeek > 6 {
		return fmt.Errorf("schedule: special week %d out of range", c.SpecialWeek)
	}
	if c.Location == nil {
		return fmt.Errorf("schedule: location is required")
	}

	return nil
}

func (c Config) startOfDay(t time.Time) time.Time {
	local := t.In(c.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location)
}

func (c Config) atFireTime(t time.Time) time.Time {
	local := t.In(c.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, c.Location)
}

// mondayIndex maps time.Weekday (Sunday=0) onto a Monday=0 index.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
