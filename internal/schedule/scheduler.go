// Package schedule keeps task dates and the blocked status consistent with
// the dependency graph and the work calendar. It owns every mutation that
// touches the graph: link changes, date edits and status transitions all
// enter here, recompute the affected subgraph in memory, persist the batch
// atomically and emit one ScheduleRecalculated event.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/taskflow/internal/event"
	"github.com/antigravity-dev/taskflow/internal/graph"
	"github.com/antigravity-dev/taskflow/internal/keymutex"
	"github.com/antigravity-dev/taskflow/internal/model"
	"github.com/antigravity-dev/taskflow/internal/workflow"
)

// Calendar is the working-time collaborator (spec: weekends and holidays
// are opaque to the engine).
type Calendar interface {
	NextWorkingInstant(t time.Time) time.Time
	AddWorkingDuration(start time.Time, minutes int) time.Time
}

// Store is the persistence collaborator for tasks and links. Single-entity
// calls are atomic; SaveTasks persists a whole recomputation batch in one
// transaction, all-or-nothing.
type Store interface {
	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context, workspaceID string) ([]model.Task, error)
	SaveTasks(ctx context.Context, tasks []model.Task) error
	ListLinks(ctx context.Context, workspaceID string) ([]model.Link, error)
	SaveLink(ctx context.Context, link model.Link) error
	DeleteLink(ctx context.Context, workspaceID, sourceID, targetID string) error
}

// Scheduler orchestrates the state machine and the dependency graph.
type Scheduler struct {
	store      Store
	cal        Calendar
	machine    *workflow.Machine
	sink       event.Sink
	logger     *slog.Logger
	workspaces *keymutex.KeyMutex
}

// New creates a Scheduler. The oracle gates user transitions; nil allows
// everything. Events are published only after a batch persists, so the
// machine is wired with a silent sink and the scheduler emits itself.
func New(store Store, cal Calendar, oracle workflow.Oracle, sink event.Sink, logger *slog.Logger) *Scheduler {
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      store,
		cal:        cal,
		machine:    workflow.NewMachine(oracle, event.NopSink{}, logger),
		sink:       sink,
		logger:     logger,
		workspaces: keymutex.New(),
	}
}

// AddLink inserts a dependency edge after cycle validation, then
// recomputes the target's subgraph. The graph is unchanged when validation
// fails.
func (s *Scheduler) AddLink(ctx context.Context, workspaceID, sourceID, targetID string, typ model.LinkType) (model.Link, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return model.Link{}, fmt.Errorf("schedule: workspace id is required")
	}

	s.workspaces.Lock(workspaceID)
	defer s.workspaces.Unlock(workspaceID)

	g, err := s.loadGraph(ctx, workspaceID)
	if err != nil {
		return model.Link{}, err
	}
	if _, ok := g.Node(sourceID); !ok {
		return model.Link{}, fmt.Errorf("schedule: source task %q: %w", sourceID, model.ErrNotFound)
	}
	if _, ok := g.Node(targetID); !ok {
		return model.Link{}, fmt.Errorf("schedule: target task %q: %w", targetID, model.ErrNotFound)
	}
	if err := g.ValidateAdd(sourceID, targetID); err != nil {
		return model.Link{}, fmt.Errorf("schedule: %w", err)
	}

	link := model.Link{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        typ,
		CreatedAt:   time.Now().UTC(),
	}
	if err := link.Validate(); err != nil {
		return model.Link{}, fmt.Errorf("schedule: %w", err)
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		return model.Link{}, fmt.Errorf("schedule: save link %s -> %s: %w", sourceID, targetID, err)
	}

	if err := s.recomputeLocked(ctx, workspaceID, targetID); err != nil {
		return model.Link{}, err
	}
	return link, nil
}

// RemoveLink deletes an edge and recomputes the former target's subgraph —
// removal only relaxes constraints, but downstream dates may shift.
func (s *Scheduler) RemoveLink(ctx context.Context, workspaceID, sourceID, targetID string) error {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return fmt.Errorf("schedule: workspace id is required")
	}

	s.workspaces.Lock(workspaceID)
	defer s.workspaces.Unlock(workspaceID)

	if err := s.store.DeleteLink(ctx, workspaceID, sourceID, targetID); err != nil {
		return fmt.Errorf("schedule: delete link %s -> %s: %w", sourceID, targetID, err)
	}
	return s.recomputeLocked(ctx, workspaceID, targetID)
}

// SchedulePatch edits a task's scheduling fields; nil fields are left
// unchanged.
type SchedulePatch struct {
	StartDate       *time.Time
	DueDate         *time.Time
	EstimateMinutes *int
	StartPinned     *bool
}

// taskWorkspace resolves the workspace to lock for a task mutation. A
// task never moves between workspaces, so the id read here stays valid
// once the lock is held; the task itself must be re-read inside the
// critical section so no mutation acts on a snapshot a concurrent commit
// has overwritten.
func (s *Scheduler) taskWorkspace(ctx context.Context, taskID string) (string, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("schedule: load task %s: %w", taskID, err)
	}
	return task.WorkspaceID, nil
}

// SetSchedule applies a date/estimate edit and recomputes the task's
// subgraph.
func (s *Scheduler) SetSchedule(ctx context.Context, taskID string, patch SchedulePatch) (model.Task, error) {
	workspaceID, err := s.taskWorkspace(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}

	s.workspaces.Lock(workspaceID)
	defer s.workspaces.Unlock(workspaceID)

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, fmt.Errorf("schedule: load task %s: %w", taskID, err)
	}

	if patch.StartDate != nil {
		v := patch.StartDate.UTC()
		task.StartDate = &v
	}
	if patch.DueDate != nil {
		v := patch.DueDate.UTC()
		task.DueDate = &v
	}
	if patch.EstimateMinutes != nil {
		task.EstimateMinutes = *patch.EstimateMinutes
	}
	if patch.StartPinned != nil {
		task.StartPinned = *patch.StartPinned
	}
	if err := task.Validate(); err != nil {
		return model.Task{}, fmt.Errorf("schedule: %w", err)
	}
	task.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveTasks(ctx, []model.Task{task}); err != nil {
		return model.Task{}, fmt.Errorf("schedule: save task %s: %w", taskID, err)
	}
	if err := s.recomputeLocked(ctx, task.WorkspaceID, taskID); err != nil {
		return model.Task{}, err
	}

	task, err = s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, fmt.Errorf("schedule: reload task %s: %w", taskID, err)
	}
	return task, nil
}

// Transition runs the state machine for a user-or-system requested status
// change, persists the result and propagates through the subgraph. The
// TaskStatusChanged event publishes only after persistence succeeds.
func (s *Scheduler) Transition(ctx context.Context, taskID string, target model.Status, actor workflow.Actor) (model.Task, error) {
	workspaceID, err := s.taskWorkspace(ctx, taskID)
	if err != nil {
		return model.Task{}, err
	}

	s.workspaces.Lock(workspaceID)
	defer s.workspaces.Unlock(workspaceID)

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, fmt.Errorf("schedule: load task %s: %w", taskID, err)
	}

	g, err := s.loadGraph(ctx, task.WorkspaceID)
	if err != nil {
		return model.Task{}, err
	}

	from := task.Status
	updated, err := s.machine.Transition(ctx, task, target, actor, g.PredecessorTasks(taskID))
	if err != nil {
		return model.Task{}, err
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveTasks(ctx, []model.Task{updated}); err != nil {
		return model.Task{}, fmt.Errorf("schedule: save task %s: %w", taskID, err)
	}
	s.sink.Publish(ctx, event.TaskStatusChanged{
		TaskID:      updated.ID,
		WorkspaceID: updated.WorkspaceID,
		From:        from,
		To:          updated.Status,
	})

	// Status changes are the sole propagation trigger: a settled task can
	// release successors, a reopened one can re-block them.
	if err := s.recomputeLocked(ctx, updated.WorkspaceID, taskID); err != nil {
		return model.Task{}, err
	}

	final, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, fmt.Errorf("schedule: reload task %s: %w", taskID, err)
	}
	return final, nil
}

// Recompute runs a full forward pass over the workspace, re-validating
// acyclicity first. Used after out-of-band data changes.
func (s *Scheduler) Recompute(ctx context.Context, workspaceID string) error {
	s.workspaces.Lock(workspaceID)
	defer s.workspaces.Unlock(workspaceID)
	return s.recomputeLocked(ctx, workspaceID, "")
}

func (s *Scheduler) loadGraph(ctx context.Context, workspaceID string) (*graph.DepGraph, error) {
	tasks, err := s.store.ListTasks(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("schedule: list tasks for %s: %w", workspaceID, err)
	}
	links, err := s.store.ListLinks(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("schedule: list links for %s: %w", workspaceID, err)
	}
	return graph.Build(tasks, links), nil
}

// recomputeLocked reloads the workspace graph and runs the forward pass
// over the affected subgraph (seedID's transitive closure, or the whole
// workspace when seedID is empty). Caller holds the workspace lock.
//
// A cycle discovered here did not come through AddLink — it is a
// data-integrity fault and is surfaced, never patched.
func (s *Scheduler) recomputeLocked(ctx context.Context, workspaceID, seedID string) error {
	g, err := s.loadGraph(ctx, workspaceID)
	if err != nil {
		return err
	}

	var order []string
	if seedID == "" {
		order, err = g.TopologicalOrder()
	} else {
		order, err = g.SubgraphOrder(seedID)
	}
	if err != nil {
		return fmt.Errorf("schedule: workspace %s: %w", workspaceID, err)
	}

	changed, flips, err := s.forwardPass(ctx, g, order)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	// The batch was computed fully in memory; persist it in one shot and
	// emit events only once the write is durable.
	if err := s.store.SaveTasks(ctx, changed); err != nil {
		return fmt.Errorf("schedule: persist recompute batch for %s: %w", workspaceID, err)
	}

	ids := make([]string, len(changed))
	for i, t := range changed {
		ids[i] = t.ID
	}
	for _, f := range flips {
		s.sink.Publish(ctx, f)
	}
	s.sink.Publish(ctx, event.ScheduleRecalculated{WorkspaceID: workspaceID, TaskIDs: ids})
	s.logger.Debug("schedule recalculated", "workspace", workspaceID, "tasks", len(ids))
	return nil
}
