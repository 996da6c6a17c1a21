// Package timetrack turns start/stop timer events into non-overlapping,
// aggregatable time entries. At most one entry per user runs at a time;
// closed entries of a user never overlap.
package timetrack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/taskflow/internal/event"
	"github.com/antigravity-dev/taskflow/internal/keymutex"
	"github.com/antigravity-dev/taskflow/internal/model"
)

// EntryStore is the persistence collaborator for time entries. Single-entry
// calls are atomic; CreateRunning must enforce the one-running-timer
// invariant with a conditional write (unique constraint on the user's open
// entry) and return model.ErrTimerAlreadyRunning on conflict.
type EntryStore interface {
	GetEntry(ctx context.Context, id string) (model.TimeEntry, error)
	RunningEntry(ctx context.Context, userID string) (model.TimeEntry, error)
	CreateRunning(ctx context.Context, entry model.TimeEntry) error
	SaveEntry(ctx context.Context, entry model.TimeEntry) error
	DeleteEntry(ctx context.Context, id string) error
	// ListOverlapping returns the user's closed entries whose half-open
	// interval intersects [start, end), excluding excludeID.
	ListOverlapping(ctx context.Context, userID string, start, end time.Time, excludeID string) ([]model.TimeEntry, error)
	// ListEntries returns the user's entries whose start time falls in
	// [from, to), running entries included.
	ListEntries(ctx context.Context, userID string, from, to time.Time) ([]model.TimeEntry, error)
}

// StartRequest describes a timer start.
type StartRequest struct {
	UserID      string
	WorkspaceID string
	ProjectID   string
	TaskID      string
	Description string
	Billable    bool
	Tags        []string
}

// Engine manages timer sessions and committed entries.
type Engine struct {
	store  EntryStore
	sink   event.Sink
	logger *slog.Logger
	clock  func() time.Time
	users  *keymutex.KeyMutex
}

// New creates an Engine. A nil sink drops events; a nil clock uses
// time.Now.
func New(store EntryStore, sink event.Sink, logger *slog.Logger, clock func() time.Time) *Engine {
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:  store,
		sink:   sink,
		logger: logger,
		clock:  clock,
		users:  keymutex.New(),
	}
}

// StartTimer opens a running entry for the user. The per-user lock plus the
// store's conditional write make concurrent starts mutually exclusive.
func (e *Engine) StartTimer(ctx context.Context, req StartRequest) (model.TimeEntry, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return model.TimeEntry{}, fmt.Errorf("timetrack: user id is required")
	}

	e.users.Lock(userID)
	defer e.users.Unlock(userID)

	now := e.clock().UTC()
	entry := model.TimeEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		TaskID:      req.TaskID,
		Description: req.Description,
		StartTime:   now,
		Billable:    req.Billable,
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := entry.Validate(); err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: start timer: %w", err)
	}
	if err := e.store.CreateRunning(ctx, entry); err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: start timer for %s: %w", userID, err)
	}
	return entry, nil
}

// StopTimer closes the user's running entry, computes the duration (whole
// seconds, floored) and emits TimeEntryClosed.
func (e *Engine) StopTimer(ctx context.Context, userID string) (model.TimeEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.TimeEntry{}, fmt.Errorf("timetrack: user id is required")
	}

	e.users.Lock(userID)
	defer e.users.Unlock(userID)

	entry, err := e.store.RunningEntry(ctx, userID)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: stop timer for %s: %w", userID, err)
	}

	end := e.clock().UTC()
	if !end.After(entry.StartTime) {
		// Clock granularity can make an instant stop land on the start
		// second; close the interval at the minimum width instead of failing.
		end = entry.StartTime.Add(time.Second)
	}
	entry.EndTime = &end
	entry.DurationSeconds = int64(end.Sub(entry.StartTime) / time.Second)
	entry.UpdatedAt = e.clock().UTC()

	if err := e.store.SaveEntry(ctx, entry); err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: close entry %s: %w", entry.ID, err)
	}

	e.sink.Publish(ctx, event.TimeEntryClosed{
		EntryID:         entry.ID,
		UserID:          entry.UserID,
		TaskID:          entry.TaskID,
		DurationSeconds: entry.DurationSeconds,
	})
	return entry, nil
}

// CreateEntry records an already-closed entry. The interval must be valid
// and must not overlap any of the user's closed entries.
func (e *Engine) CreateEntry(ctx context.Context, entry model.TimeEntry) (model.TimeEntry, error) {
	if entry.EndTime == nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: manual entries must be closed: %w", model.ErrInvalidRange)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := e.clock().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	e.users.Lock(entry.UserID)
	defer e.users.Unlock(entry.UserID)

	closed, err := e.closeAndCheck(ctx, entry, "")
	if err != nil {
		return model.TimeEntry{}, err
	}
	if err := e.store.SaveEntry(ctx, closed); err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: save entry %s: %w", closed.ID, err)
	}
	return closed, nil
}

// EntryPatch carries the editable fields of an entry; nil fields are left
// unchanged.
type EntryPatch struct {
	Description *string
	ProjectID   *string
	TaskID      *string
	StartTime   *time.Time
	EndTime     *time.Time
	Billable    *bool
	Tags        []string
}

// UpdateEntry applies a patch to an existing entry, revalidating the
// interval and the no-overlap invariant. The overlap check excludes the
// entry being edited.
func (e *Engine) UpdateEntry(ctx context.Context, id string, patch EntryPatch) (model.TimeEntry, error) {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: update entry %s: %w", id, err)
	}

	e.users.Lock(entry.UserID)
	defer e.users.Unlock(entry.UserID)

	if patch.Description != nil {
		entry.Description = *patch.Description
	}
	if patch.ProjectID != nil {
		entry.ProjectID = *patch.ProjectID
	}
	if patch.TaskID != nil {
		entry.TaskID = *patch.TaskID
	}
	if patch.StartTime != nil {
		entry.StartTime = patch.StartTime.UTC()
	}
	if patch.EndTime != nil {
		end := patch.EndTime.UTC()
		entry.EndTime = &end
	}
	if patch.Billable != nil {
		entry.Billable = *patch.Billable
	}
	if patch.Tags != nil {
		entry.Tags = patch.Tags
	}
	entry.UpdatedAt = e.clock().UTC()

	if entry.EndTime != nil {
		entry, err = e.closeAndCheck(ctx, entry, entry.ID)
		if err != nil {
			return model.TimeEntry{}, err
		}
	}
	if err := e.store.SaveEntry(ctx, entry); err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: save entry %s: %w", entry.ID, err)
	}
	return entry, nil
}

// DeleteEntry removes an entry.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	if err := e.store.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("timetrack: delete entry %s: %w", id, err)
	}
	return nil
}

// Running returns the user's open entry, or model.ErrNoRunningTimer.
func (e *Engine) Running(ctx context.Context, userID string) (model.TimeEntry, error) {
	entry, err := e.store.RunningEntry(ctx, userID)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: running entry for %s: %w", userID, err)
	}
	return entry, nil
}

// Entries returns the user's entries starting in [from, to).
func (e *Engine) Entries(ctx context.Context, userID string, from, to time.Time) ([]model.TimeEntry, error) {
	entries, err := e.store.ListEntries(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("timetrack: list entries for %s: %w", userID, err)
	}
	return entries, nil
}

// closeAndCheck normalizes a closed entry's interval and duration and
// rejects overlaps with the user's other closed entries.
func (e *Engine) closeAndCheck(ctx context.Context, entry model.TimeEntry, excludeID string) (model.TimeEntry, error) {
	entry.StartTime = entry.StartTime.UTC()
	if !entry.EndTime.After(entry.StartTime) {
		return model.TimeEntry{}, fmt.Errorf("timetrack: entry %s [%s, %s): %w",
			entry.ID, entry.StartTime.Format(time.RFC3339), entry.EndTime.Format(time.RFC3339), model.ErrInvalidRange)
	}
	entry.DurationSeconds = int64(entry.EndTime.Sub(entry.StartTime) / time.Second)

	if err := entry.Validate(); err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: %w", err)
	}

	overlapping, err := e.store.ListOverlapping(ctx, entry.UserID, entry.StartTime, *entry.EndTime, excludeID)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("timetrack: overlap check for %s: %w", entry.UserID, err)
	}
	if len(overlapping) > 0 {
		return model.TimeEntry{}, fmt.Errorf("timetrack: entry %s overlaps %s: %w",
			entry.ID, overlapping[0].ID, model.ErrOverlappingEntry)
	}
	return entry, nil
}
