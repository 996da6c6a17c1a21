// Package event defines the domain events the engine emits and the
// fire-and-forget sink collaborators implement to consume them.
package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/antigravity-dev/taskflow/internal/model"
)

// Event is a marker for the engine's domain events.
type Event interface {
	Kind() string
}

// TaskStatusChanged is emitted by the state machine on every successful
// transition. It is the sole trigger for scheduler dependency propagation.
type TaskStatusChanged struct {
	TaskID      string
	WorkspaceID string
	From        model.Status
	To          model.Status
}

func (TaskStatusChanged) Kind() string { return "task_status_changed" }

// ScheduleRecalculated is emitted once per recomputation batch, never per
// task, carrying every task whose dates or blocked flag changed.
type ScheduleRecalculated struct {
	WorkspaceID string
	TaskIDs     []string
}

func (ScheduleRecalculated) Kind() string { return "schedule_recalculated" }

// TimeEntryClosed is emitted when a running timer is stopped.
type TimeEntryClosed struct {
	EntryID         string
	UserID          string
	TaskID          string
	DurationSeconds int64
}

func (TimeEntryClosed) Kind() string { return "time_entry_closed" }

// Sink receives domain events. Delivery is fire-and-forget; the engine
// neither retries nor waits for acknowledgment.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// LogSink writes events to a structured logger, the default wiring for the
// daemon when no downstream consumer is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, ev Event) {
	if s.Logger == nil {
		return
	}
	s.Logger.InfoContext(ctx, "event", "kind", ev.Kind(), "event", ev)
}

// MemorySink buffers events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a snapshot of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Event, len(s.events))
	copy(cp, s.events)
	return cp
}

// Reset discards buffered events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
