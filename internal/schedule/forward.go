package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/taskflow/internal/event"
	"github.com/antigravity-dev/taskflow/internal/graph"
	"github.com/antigravity-dev/taskflow/internal/model"
	"github.com/antigravity-dev/taskflow/internal/workflow"
)

// forwardPass visits the ordered subgraph and derives each task's earliest
// feasible start, due date and blocked status. It mutates nothing outside
// its working copy; the returned slice holds the tasks that changed, in
// visit order, with the status-flip events to publish after persistence.
func (s *Scheduler) forwardPass(ctx context.Context, g *graph.DepGraph, order []string) ([]model.Task, []event.Event, error) {
	// Working state: predecessors visited earlier in the order contribute
	// their recomputed dates, not their stored ones.
	state := make(map[string]model.Task, len(order))
	lookup := func(id string) (model.Task, bool) {
		if t, ok := state[id]; ok {
			return t, true
		}
		t, ok := g.Node(id)
		return t, ok
	}

	var changed []model.Task
	var flips []event.Event

	for _, id := range order {
		task, ok := lookup(id)
		if !ok {
			// A link can reference a task deleted out of band; nothing to do.
			continue
		}
		if task.Status.Settled() {
			continue
		}
		before := task

		preds := g.Predecessors(id)
		unsettled := false
		var candidates []time.Time

		if task.StartPinned && task.StartDate != nil {
			candidates = append(candidates, s.cal.NextWorkingInstant(*task.StartDate))
		}
		for _, l := range preds {
			p, ok := lookup(l.SourceID)
			if !ok {
				continue
			}
			if !p.Status.Settled() {
				unsettled = true
			}
			switch l.Type {
			case model.StartToStart:
				if p.StartDate != nil {
					candidates = append(candidates, *p.StartDate)
				}
			default: // finish_to_start
				if p.DueDate != nil {
					candidates = append(candidates, s.cal.NextWorkingInstant(*p.DueDate))
				}
			}
		}

		var earliest time.Time
		for _, c := range candidates {
			if c.After(earliest) {
				earliest = c
			}
		}

		pinnedConflict := task.StartPinned && task.StartDate != nil && earliest.After(*task.StartDate)
		if pinnedConflict {
			// Flag, don't silently move: the pinned start stays put and the
			// task is marked blocked instead.
			task, flips = s.ensureBlocked(ctx, task, flips)
		} else {
			if len(candidates) > 0 {
				task = s.applyDates(task, earliest)
			}
			switch {
			case unsettled:
				// Active work cannot proceed past an open predecessor; todo
				// and backlog tasks merely stay unstartable (the state
				// machine rejects the move), they are not force-flagged.
				if task.Status.ActiveWork() || task.Status == model.StatusReady {
					task, flips = s.ensureBlocked(ctx, task, flips)
				}
			case task.Status == model.StatusBlocked:
				next, err := s.machine.Transition(ctx, task, model.StatusTodo, workflow.SystemActor(), nil)
				if err != nil {
					return nil, nil, fmt.Errorf("schedule: unblock %s: %w", task.ID, err)
				}
				flips = append(flips, event.TaskStatusChanged{
					TaskID:      task.ID,
					WorkspaceID: task.WorkspaceID,
					From:        task.Status,
					To:          next.Status,
				})
				task = next
			}
		}

		state[id] = task
		if !tasksEqual(before, task) {
			task.UpdatedAt = time.Now().UTC()
			state[id] = task
			changed = append(changed, task)
		}
	}

	return changed, flips, nil
}

// ensureBlocked moves a task to blocked via a system transition unless it
// is already there.
func (s *Scheduler) ensureBlocked(ctx context.Context, task model.Task, flips []event.Event) (model.Task, []event.Event) {
	if task.Status == model.StatusBlocked {
		return task, flips
	}
	next, err := s.machine.Transition(ctx, task, model.StatusBlocked, workflow.SystemActor(), nil)
	if err != nil {
		// The system table covers every non-settled status; a refusal here
		// means the task is in a state that cannot block (e.g. done raced
		// in), which the settled check already filtered.
		s.logger.Warn("cannot flag task blocked", "task", task.ID, "status", task.Status, "error", err)
		return task, flips
	}
	flips = append(flips, event.TaskStatusChanged{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		From:        task.Status,
		To:          next.Status,
	})
	return next, flips
}

// applyDates sets the derived start and due dates. With no estimate the
// existing due date is kept when it still fits, so user-entered deadlines
// survive recomputation.
func (s *Scheduler) applyDates(task model.Task, earliest time.Time) model.Task {
	start := earliest
	task.StartDate = &start

	if task.EstimateMinutes > 0 {
		due := s.cal.AddWorkingDuration(start, task.EstimateMinutes)
		task.DueDate = &due
	} else if task.DueDate == nil || task.DueDate.Before(start) {
		due := start
		task.DueDate = &due
	}
	return task
}

func tasksEqual(a, b model.Task) bool {
	return a.Status == b.Status &&
		a.StartPinned == b.StartPinned &&
		timePtrEqual(a.StartDate, b.StartDate) &&
		timePtrEqual(a.DueDate, b.DueDate)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
