package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProcessingStatus is the progress view of the current or most recent batch run.
type ProcessingStatus struct {
	TotalEmails    int        `json:"total_emails"`
	ProcessedCount int        `json:"processed_count"`
	CurrentEmail   string     `json:"current_email"`
	Message        string     `json:"message"`
	IsRunning      bool       `json:"is_running"`
	LastRun        *time.Time `json:"last_run"`
	NextRun        *time.Time `json:"next_run"`
}

// TimeOfDay is a wall-clock time without a date, minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("ParseTimeOfDay: %q is not HH:MM: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant at this time of day on the date of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ScheduleConfig drives periodic runs. Reconfiguration replaces it wholesale.
type ScheduleConfig struct {
	Interval  time.Duration `json:"interval"`
	StartTime *TimeOfDay    `json:"start_time,omitempty"`
	EndTime   *TimeOfDay    `json:"end_time,omitempty"`
}

// Validate checks the interval and that bounds are given in pairs.
func (c ScheduleConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", c.Interval)
	}
	if (c.StartTime == nil) != (c.EndTime == nil) {
		return fmt.Errorf("schedule window needs both start_time and end_time")
	}
	return nil
}

// InWindow reports whether t falls inside the optional time-of-day window.
// A window whose end precedes its start wraps past midnight.
func (c ScheduleConfig) InWindow(t time.Time) bool {
	if c.StartTime == nil || c.EndTime == nil {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	start, end := c.StartTime.minutes(), c.EndTime.minutes()
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

// NextRun returns the first instant at or after `after` that lies in the window.
func (c ScheduleConfig) NextRun(after time.Time) time.Time {
	if c.InWindow(after) {
		return after
	}
	next := c.StartTime.On(after)
	if !next.After(after) {
		next = c.StartTime.On(after.AddDate(0, 0, 1))
	}
	return next
}
