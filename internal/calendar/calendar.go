// Package calendar implements the work calendar used to convert working
// durations into calendar dates: working weekdays, daily working windows,
// whole-day holidays, all evaluated in the workspace's time zone.
package calendar

import (
	"fmt"
	"time"
)

const (
	minutesPerDay = 24 * 60
	dayLayout     = "2006-01-02"

	// Safety bound for calendar walks. A schedule pushed more than ~30
	// years of consecutive non-working days forward indicates corrupt
	// configuration, not a real plan.
	maxDayScan = 11000
)

// Config describes a workspace's working time.
type Config struct {
	// Timezone is an IANA zone name, e.g. "Europe/Helsinki". Empty means UTC.
	Timezone string
	// Weekdays lists the working days of the week. Empty means Mon-Fri.
	Weekdays []time.Weekday
	// DayStartMinutes/DayEndMinutes bound the daily working window as
	// minutes from midnight. Zero values default to 09:00-17:00.
	DayStartMinutes int
	DayEndMinutes   int
	// Holidays are whole non-working days, formatted "2006-01-02" in the
	// workspace zone.
	Holidays []string
}

// WorkCalendar answers working-time queries for a single workspace.
type WorkCalendar struct {
	loc      *time.Location
	weekdays map[time.Weekday]bool
	dayStart int
	dayEnd   int
	holidays map[string]bool
}

// New builds a WorkCalendar, applying defaults for unset fields.
func New(cfg Config) (*WorkCalendar, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("calendar: load timezone %q: %w", cfg.Timezone, err)
		}
	}

	weekdays := make(map[time.Weekday]bool, 7)
	if len(cfg.Weekdays) == 0 {
		for d := time.Monday; d <= time.Friday; d++ {
			weekdays[d] = true
		}
	} else {
		for _, d := range cfg.Weekdays {
			weekdays[d] = true
		}
	}

	dayStart := cfg.DayStartMinutes
	dayEnd := cfg.DayEndMinutes
	if dayStart == 0 && dayEnd == 0 {
		dayStart = 9 * 60
		dayEnd = 17 * 60
	}
	if dayStart < 0 || dayEnd > minutesPerDay || dayStart >= dayEnd {
		return nil, fmt.Errorf("calendar: invalid working window %d-%d", dayStart, dayEnd)
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation(dayLayout, h, loc); err != nil {
			return nil, fmt.Errorf("calendar: invalid holiday %q: %w", h, err)
		}
		holidays[h] = true
	}

	return &WorkCalendar{
		loc:      loc,
		weekdays: weekdays,
		dayStart: dayStart,
		dayEnd:   dayEnd,
		holidays: holidays,
	}, nil
}

// Location returns the workspace time zone.
func (c *WorkCalendar) Location() *time.Location {
	return c.loc
}

// DayOf returns the canonical calendar day of t in the workspace zone,
// formatted "2006-01-02". Aggregation groups entries by this key.
func (c *WorkCalendar) DayOf(t time.Time) string {
	return t.In(c.loc).Format(dayLayout)
}

func (c *WorkCalendar) isWorkingDay(t time.Time) bool {
	if !c.weekdays[t.Weekday()] {
		return false
	}
	return !c.holidays[t.Format(dayLayout)]
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsWorkingInstant reports whether t falls inside a working window.
// The window is half-open: the day-end instant itself is non-working.
func (c *WorkCalendar) IsWorkingInstant(t time.Time) bool {
	t = t.In(c.loc)
	if !c.isWorkingDay(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= c.dayStart && m < c.dayEnd
}

// dayStartAt returns the working-window start on t's calendar day.
func (c *WorkCalendar) dayStartAt(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, c.dayStart/60, c.dayStart%60, 0, 0, c.loc)
}

// NextWorkingInstant returns t unchanged when t is a working instant,
// otherwise the start of the next working window at or after t.
func (c *WorkCalendar) NextWorkingInstant(t time.Time) time.Time {
	t = t.In(c.loc)
	if c.IsWorkingInstant(t) {
		return t
	}
	if c.isWorkingDay(t) && minuteOfDay(t) < c.dayStart {
		return c.dayStartAt(t)
	}
	day := c.dayStartAt(t)
	for i := 0; i < maxDayScan; i++ {
		day = day.AddDate(0, 0, 1)
		if c.isWorkingDay(day) {
			return day
		}
	}
	return day
}

// AddWorkingDuration advances start by the given number of working minutes,
// skipping nights, non-working weekdays and holidays. A non-positive
// duration returns the next working instant at or after start.
func (c *WorkCalendar) AddWorkingDuration(start time.Time, minutes int) time.Time {
	cur := c.NextWorkingInstant(start)
	if minutes <= 0 {
		return cur
	}
	remaining := minutes
	for i := 0; i < maxDayScan; i++ {
		left := c.dayEnd - minuteOfDay(cur)
		if remaining <= left {
			return cur.Add(time.Duration(remaining) * time.Minute)
		}
		remaining -= left
		cur = c.NextWorkingInstant(c.dayStartAt(cur).Add(time.Duration(c.dayEnd-c.dayStart) * time.Minute))
	}
	return cur
}
