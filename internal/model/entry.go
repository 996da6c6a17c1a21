package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeEntry is a tracked span of work. A running entry has EndTime nil; a
// closed entry has EndTime set and DurationSeconds derived from the
// half-open interval [StartTime, EndTime).
type TimeEntry struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	WorkspaceID     string     `json:"workspace_id"`
	ProjectID       string     `json:"project_id,omitempty"`
	TaskID          string     `json:"task_id,omitempty"`
	Description     string     `json:"description,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Billable        bool       `json:"billable"`
	Tags            []string   `json:"tags,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Running reports whether the entry's timer is still open.
func (e TimeEntry) Running() bool {
	return e.EndTime == nil
}

// Validate checks the entry's structural invariants.
func (e TimeEntry) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("entry user id is required")
	}
	if strings.TrimSpace(e.WorkspaceID) == "" {
		return fmt.Errorf("entry workspace id is required")
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("entry start time is required")
	}
	if e.EndTime != nil && !e.EndTime.After(e.StartTime) {
		return fmt.Errorf("entry %s: %w", e.ID, ErrInvalidRange)
	}
	if e.DurationSeconds < 0 {
		return fmt.Errorf("entry %s: negative duration", e.ID)
	}
	return nil
}

// Overlaps reports whether two closed entries' half-open intervals
// [start, end) intersect. Running entries never overlap anything; a shared
// boundary instant is not an overlap.
func (e TimeEntry) Overlaps(other TimeEntry) bool {
	if e.Running() || other.Running() {
		return false
	}
	return e.StartTime.Before(*other.EndTime) && other.StartTime.Before(*e.EndTime)
}

// Clone returns a value copy with independently allocated slices.
func (e TimeEntry) Clone() TimeEntry {
	if len(e.Tags) > 0 {
		cp := make([]string, len(e.Tags))
		copy(cp, e.Tags)
		e.Tags = cp
	}
	if e.EndTime != nil {
		v := *e.EndTime
		e.EndTime = &v
	}
	return e
}
