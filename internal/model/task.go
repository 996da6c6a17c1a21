package model

import (
	"fmt"
	"strings"
	"time"
)

// Task is the scheduling engine's view of a task. CRUD concerns (boards,
// comments, attachments) live with the owning application; the engine reads
// and writes only the fields that drive workflow, scheduling and reporting.
type Task struct {
	ID              string     `json:"id"`
	WorkspaceID     string     `json:"workspace_id"`
	ProjectID       string     `json:"project_id"`
	BoardID         string     `json:"board_id,omitempty"`
	SprintID        string     `json:"sprint_id,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Status          Status     `json:"status"`
	Priority        int        `json:"priority"`
	AssigneeIDs     []string   `json:"assignee_ids,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	EstimateMinutes int        `json:"estimate_minutes,omitempty"`
	ParentID        string     `json:"parent_id,omitempty"`
	// StartPinned marks StartDate as user-chosen. The scheduler never moves
	// a pinned start; it flags the task blocked instead.
	StartPinned bool      `json:"start_pinned,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the task's structural invariants.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(t.WorkspaceID) == "" {
		return fmt.Errorf("task %s: workspace id is required", t.ID)
	}
	if !t.Status.Known() {
		return fmt.Errorf("task %s: unknown status %q", t.ID, t.Status)
	}
	if t.StartDate != nil && t.DueDate != nil && t.DueDate.Before(*t.StartDate) {
		return fmt.Errorf("task %s: due date %s precedes start date %s",
			t.ID, t.DueDate.Format(time.RFC3339), t.StartDate.Format(time.RFC3339))
	}
	if t.ParentID == t.ID && t.ID != "" {
		return fmt.Errorf("task %s: cannot be its own parent", t.ID)
	}
	return nil
}

// IsSubtask reports whether the task is nested under a parent.
func (t Task) IsSubtask() bool {
	return strings.TrimSpace(t.ParentID) != ""
}

// Clone returns a value copy with independently allocated slices.
// Reference-type fields that must be cloned: AssigneeIDs, StartDate, DueDate.
// If Task gains new slice, map or pointer fields, add them here.
func (t Task) Clone() Task {
	if len(t.AssigneeIDs) > 0 {
		cp := make([]string, len(t.AssigneeIDs))
		copy(cp, t.AssigneeIDs)
		t.AssigneeIDs = cp
	}
	if t.StartDate != nil {
		v := *t.StartDate
		t.StartDate = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		t.DueDate = &v
	}
	return t
}
