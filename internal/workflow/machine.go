// Package workflow owns a task's status and validates transitions between
// statuses. Blocked is system-derived: only the scheduler may set or clear
// it. Done and cancelled are terminal for normal flow but reopen to todo.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/taskflow/internal/event"
	"github.com/antigravity-dev/taskflow/internal/model"
)

// Actor identifies who requested a transition. System transitions originate
// inside the engine (the scheduler's blocked flips) and bypass the
// permission oracle; user transitions carry the requesting user's id.
type Actor struct {
	UserID string
	system bool
}

// UserActor tags a transition as requested by a user.
func UserActor(userID string) Actor {
	return Actor{UserID: userID}
}

// SystemActor tags a transition as derived by the engine itself.
func SystemActor() Actor {
	return Actor{system: true}
}

// System reports whether the actor is the engine.
func (a Actor) System() bool {
	return a.system
}

// Oracle answers whether an actor may move a task to a status. Permission
// evaluation lives with the integrating application; the engine only
// consumes the verdict.
type Oracle interface {
	MaySetStatus(actor Actor, task model.Task, target model.Status) bool
}

// AllowAll is the permissive oracle used when the integrating layer does
// not enforce permissions.
type AllowAll struct{}

func (AllowAll) MaySetStatus(Actor, model.Task, model.Status) bool { return true }

// userTransitions maps each status to the statuses a user may move it to.
// Blocked never appears as a target here: it is reachable only through
// system transitions. Terminal statuses reopen only to todo.
var userTransitions = map[model.Status][]model.Status{
	model.StatusBacklog:    {model.StatusTodo, model.StatusDeferred, model.StatusCancelled},
	model.StatusTodo:       {model.StatusBacklog, model.StatusInProgress, model.StatusReady, model.StatusDeferred, model.StatusCancelled, model.StatusDone},
	model.StatusInProgress: {model.StatusTodo, model.StatusInReview, model.StatusReady, model.StatusDone, model.StatusCancelled, model.StatusDeferred},
	model.StatusInReview:   {model.StatusInProgress, model.StatusReady, model.StatusDone, model.StatusCancelled},
	model.StatusReady:      {model.StatusTodo, model.StatusInProgress, model.StatusInReview, model.StatusDone, model.StatusCancelled},
	model.StatusDone:       {model.StatusTodo},
	model.StatusCancelled:  {model.StatusTodo},
	model.StatusDeferred:   {model.StatusBacklog, model.StatusTodo, model.StatusCancelled},
	// A blocked task can be parked or dropped by a user, but unblocking is
	// the scheduler's call.
	model.StatusBlocked: {model.StatusCancelled, model.StatusDeferred},
}

// systemTransitions are the scheduler's blocked flips.
var systemTransitions = map[model.Status][]model.Status{
	model.StatusBacklog:    {model.StatusBlocked},
	model.StatusTodo:       {model.StatusBlocked},
	model.StatusReady:      {model.StatusBlocked},
	model.StatusInProgress: {model.StatusBlocked},
	model.StatusInReview:   {model.StatusBlocked},
	model.StatusDeferred:   {model.StatusBlocked},
	model.StatusBlocked:    {model.StatusTodo},
}

func allows(table map[model.Status][]model.Status, from, to model.Status) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine validates and applies status transitions.
type Machine struct {
	oracle Oracle
	sink   event.Sink
	logger *slog.Logger
}

// NewMachine creates a Machine. A nil oracle allows everything; a nil sink
// drops events.
func NewMachine(oracle Oracle, sink event.Sink, logger *slog.Logger) *Machine {
	if oracle == nil {
		oracle = AllowAll{}
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{oracle: oracle, sink: sink, logger: logger}
}

// Transition validates moving task to target and returns the task with the
// new status applied. predecessors are the tasks the subject depends on;
// they gate targets that imply active work. The caller persists the result.
//
// On success a TaskStatusChanged event is published — the sole trigger for
// scheduler propagation.
func (m *Machine) Transition(ctx context.Context, task model.Task, target model.Status, actor Actor, predecessors []model.Task) (model.Task, error) {
	if !target.Known() {
		return task, fmt.Errorf("task %s: status %q: %w", task.ID, target, model.ErrInvalidTransition)
	}
	if target == task.Status {
		return task, fmt.Errorf("task %s: already %s: %w", task.ID, target, model.ErrInvalidTransition)
	}

	table := userTransitions
	if actor.System() {
		table = systemTransitions
	} else if target == model.StatusBlocked {
		// Blocked is computer-derived, never user-selectable.
		return task, fmt.Errorf("task %s: blocked is system-only: %w", task.ID, model.ErrInvalidTransition)
	}
	if !allows(table, task.Status, target) {
		return task, fmt.Errorf("task %s: %s -> %s: %w", task.ID, task.Status, target, model.ErrInvalidTransition)
	}

	if target.ActiveWork() {
		for _, p := range predecessors {
			if !p.Status.Settled() {
				return task, fmt.Errorf("task %s: predecessor %s is %s: %w",
					task.ID, p.ID, p.Status, model.ErrDependencyUnresolved)
			}
		}
	}

	if !actor.System() && !m.oracle.MaySetStatus(actor, task, target) {
		return task, fmt.Errorf("task %s: actor %q may not set %s: %w",
			task.ID, actor.UserID, target, model.ErrPermissionDenied)
	}

	from := task.Status
	task.Status = target
	m.sink.Publish(ctx, event.TaskStatusChanged{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		From:        from,
		To:          target,
	})
	if actor.System() {
		m.logger.Info("system status flip", "task", task.ID, "from", from, "to", target)
	}
	return task, nil
}
