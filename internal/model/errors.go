package model

import "errors"

// Validation failures shared across the engine. Callers match these with
// errors.Is; packages wrap them with operation context.
var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrDependencyUnresolved = errors.New("predecessor dependencies unresolved")
	ErrPermissionDenied     = errors.New("permission denied")

	ErrSelfDependency = errors.New("task cannot depend on itself")
	ErrCycleDetected  = errors.New("dependency cycle detected")

	ErrTimerAlreadyRunning = errors.New("a timer is already running for this user")
	ErrNoRunningTimer      = errors.New("no running timer for this user")
	ErrOverlappingEntry    = errors.New("time entry overlaps an existing entry")
	ErrInvalidRange        = errors.New("entry end time must be after start time")

	ErrNotFound = errors.New("not found")
)
