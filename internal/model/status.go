package model

import "strings"

// Status is a task's workflow status.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusReady      Status = "ready"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
	StatusDeferred   Status = "deferred"
)

var knownStatuses = map[Status]struct{}{
	StatusBacklog:    {},
	StatusTodo:       {},
	StatusInProgress: {},
	StatusInReview:   {},
	StatusReady:      {},
	StatusDone:       {},
	StatusBlocked:    {},
	StatusCancelled:  {},
	StatusDeferred:   {},
}

// NormalizeStatus lowercases and trims a raw status string. An empty value
// normalizes to todo, the creation default.
func NormalizeStatus(raw string) Status {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	if s == "" {
		return StatusTodo
	}
	return s
}

// Known reports whether s is one of the recognized workflow statuses.
func (s Status) Known() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Terminal reports whether s ends the normal workflow. Terminal tasks may
// still be reopened explicitly (back to todo).
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Settled reports whether s satisfies dependencies pointing at the task.
// A successor may begin work once every predecessor is settled.
func (s Status) Settled() bool {
	return s == StatusDone || s == StatusCancelled
}

// ActiveWork reports whether s implies work is underway or finished, which
// requires all predecessor dependencies to be settled first.
func (s Status) ActiveWork() bool {
	return s == StatusInProgress || s == StatusInReview || s == StatusDone
}
