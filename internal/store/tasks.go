package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/taskflow/internal/model"
)

const taskColumns = `id, workspace_id, project_id, board_id, sprint_id, title, description,
	status, priority, assignee_ids, start_date, due_date, estimate_minutes,
	parent_id, start_pinned, created_at, updated_at`

const upsertTaskSQL = `INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		workspace_id = excluded.workspace_id,
		project_id = excluded.project_id,
		board_id = excluded.board_id,
		sprint_id = excluded.sprint_id,
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		assignee_ids = excluded.assignee_ids,
		start_date = excluded.start_date,
		due_date = excluded.due_date,
		estimate_minutes = excluded.estimate_minutes,
		parent_id = excluded.parent_id,
		start_pinned = excluded.start_pinned,
		updated_at = excluded.updated_at;`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateTask inserts a new task. Task creation belongs to the owning
// application; the store offers it so the daemon and tests can seed
// workspaces.
func (s *Store) CreateTask(ctx context.Context, task model.Task) (model.Task, error) {
	if strings.TrimSpace(task.ID) == "" {
		return model.Task{}, fmt.Errorf("store: task id is required")
	}
	task.Status = model.NormalizeStatus(string(task.Status))
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := task.Validate(); err != nil {
		return model.Task{}, fmt.Errorf("store: create task: %w", err)
	}
	if err := s.execUpsertTask(ctx, s.db, task); err != nil {
		return model.Task{}, fmt.Errorf("store: create task %s: %w", task.ID, err)
	}
	return task, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(sanitizeContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("store: task %q: %w", id, model.ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("store: get task %q: %w", id, err)
	}
	return task, nil
}

// ListTasks returns every task in a workspace.
func (s *Store) ListTasks(ctx context.Context, workspaceID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(sanitizeContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE workspace_id = ? ORDER BY id;`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scan task: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return tasks, nil
}

// SaveTasks persists a recomputation batch in a single transaction. Either
// every task lands or none does.
func (s *Store) SaveTasks(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ctx = sanitizeContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save batch: %w", err)
	}
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: save batch: %w", err)
		}
		if err := s.execUpsertTask(ctx, tx, task); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: save task %s: %w", task.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save batch: %w", err)
	}
	return nil
}

// DeleteTask removes a task; its links cascade away with it.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(sanitizeContext(ctx), `DELETE FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: task %q: %w", id, model.ErrNotFound)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execUpsertTask(ctx context.Context, ex execer, task model.Task) error {
	assignees, err := marshalStrings(task.AssigneeIDs)
	if err != nil {
		return fmt.Errorf("marshal assignees: %w", err)
	}
	_, err = ex.ExecContext(sanitizeContext(ctx), upsertTaskSQL,
		task.ID,
		task.WorkspaceID,
		task.ProjectID,
		task.BoardID,
		task.SprintID,
		task.Title,
		task.Description,
		string(task.Status),
		task.Priority,
		assignees,
		nullTime(task.StartDate),
		nullTime(task.DueDate),
		task.EstimateMinutes,
		task.ParentID,
		task.StartPinned,
		task.CreatedAt,
		task.UpdatedAt,
	)
	return err
}

func scanTask(scanner rowScanner) (model.Task, error) {
	var task model.Task
	var status, assigneesJSON string
	var start, due sql.NullTime

	if err := scanner.Scan(
		&task.ID,
		&task.WorkspaceID,
		&task.ProjectID,
		&task.BoardID,
		&task.SprintID,
		&task.Title,
		&task.Description,
		&status,
		&task.Priority,
		&assigneesJSON,
		&start,
		&due,
		&task.EstimateMinutes,
		&task.ParentID,
		&task.StartPinned,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return model.Task{}, err
	}

	task.Status = model.Status(status)
	assignees, err := unmarshalStrings(assigneesJSON)
	if err != nil {
		return model.Task{}, fmt.Errorf("assignees: %w", err)
	}
	task.AssigneeIDs = assignees
	task.StartDate = timePtr(start)
	task.DueDate = timePtr(due)
	return task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
