package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/antigravity-dev/taskflow/internal/model"
)

const entryColumns = `id, user_id, workspace_id, project_id, task_id, description,
	start_time, end_time, duration_seconds, billable, tags, created_at, updated_at`

// CreateRunning inserts a running entry. The partial unique index on
// (user_id) WHERE end_time IS NULL makes this a conditional write: a second
// open entry for the same user fails with model.ErrTimerAlreadyRunning
// without any read-then-check window.
func (s *Store) CreateRunning(ctx context.Context, entry model.TimeEntry) error {
	if !entry.Running() {
		return fmt.Errorf("store: create running: entry %s is closed", entry.ID)
	}
	if err := s.insertEntry(ctx, entry); err != nil {
		if isUniqueViolation(err, "time_entries.user_id") {
			return fmt.Errorf("store: user %s: %w", entry.UserID, model.ErrTimerAlreadyRunning)
		}
		return fmt.Errorf("store: create running entry: %w", err)
	}
	return nil
}

// RunningEntry returns the user's open entry.
func (s *Store) RunningEntry(ctx context.Context, userID string) (model.TimeEntry, error) {
	row := s.db.QueryRowContext(sanitizeContext(ctx),
		`SELECT `+entryColumns+` FROM time_entries WHERE user_id = ? AND end_time IS NULL;`, userID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TimeEntry{}, fmt.Errorf("store: user %s: %w", userID, model.ErrNoRunningTimer)
		}
		return model.TimeEntry{}, fmt.Errorf("store: running entry for %s: %w", userID, err)
	}
	return entry, nil
}

// GetEntry loads an entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (model.TimeEntry, error) {
	row := s.db.QueryRowContext(sanitizeContext(ctx),
		`SELECT `+entryColumns+` FROM time_entries WHERE id = ?;`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TimeEntry{}, fmt.Errorf("store: entry %q: %w", id, model.ErrNotFound)
		}
		return model.TimeEntry{}, fmt.Errorf("store: get entry %q: %w", id, err)
	}
	return entry, nil
}

// SaveEntry inserts or updates an entry.
func (s *Store) SaveEntry(ctx context.Context, entry model.TimeEntry) error {
	tags, err := marshalStrings(entry.Tags)
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(sanitizeContext(ctx),
		`INSERT INTO time_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			task_id = excluded.task_id,
			description = excluded.description,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			duration_seconds = excluded.duration_seconds,
			billable = excluded.billable,
			tags = excluded.tags,
			updated_at = excluded.updated_at;`,
		entry.ID, entry.UserID, entry.WorkspaceID, entry.ProjectID, entry.TaskID, entry.Description,
		entry.StartTime.UTC(), nullTime(entry.EndTime), entry.DurationSeconds, entry.Billable,
		tags, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry removes an entry.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(sanitizeContext(ctx), `DELETE FROM time_entries WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("store: delete entry %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete entry %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: entry %q: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListOverlapping returns the user's closed entries intersecting the
// half-open interval [start, end), excluding excludeID. Touching
// boundaries do not intersect.
func (s *Store) ListOverlapping(ctx context.Context, userID string, start, end time.Time, excludeID string) ([]model.TimeEntry, error) {
	rows, err := s.db.QueryContext(sanitizeContext(ctx),
		`SELECT `+entryColumns+` FROM time_entries
		WHERE user_id = ? AND id != ? AND end_time IS NOT NULL
		  AND start_time < ? AND end_time > ?
		ORDER BY start_time;`,
		userID, excludeID, end.UTC(), start.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: overlap query for %s: %w", userID, err)
	}
	return collectEntries(rows)
}

// ListEntries returns the user's entries starting in [from, to), running
// entries included.
func (s *Store) ListEntries(ctx context.Context, userID string, from, to time.Time) ([]model.TimeEntry, error) {
	rows, err := s.db.QueryContext(sanitizeContext(ctx),
		`SELECT `+entryColumns+` FROM time_entries
		WHERE user_id = ? AND start_time >= ? AND start_time < ?
		ORDER BY start_time;`,
		userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: list entries for %s: %w", userID, err)
	}
	return collectEntries(rows)
}

// ListWorkspaceEntries returns every entry in a workspace starting in
// [from, to); project reports aggregate over this set.
func (s *Store) ListWorkspaceEntries(ctx context.Context, workspaceID string, from, to time.Time) ([]model.TimeEntry, error) {
	rows, err := s.db.QueryContext(sanitizeContext(ctx),
		`SELECT `+entryColumns+` FROM time_entries
		WHERE workspace_id = ? AND start_time >= ? AND start_time < ?
		ORDER BY start_time;`,
		workspaceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: list workspace entries for %s: %w", workspaceID, err)
	}
	return collectEntries(rows)
}

func (s *Store) insertEntry(ctx context.Context, entry model.TimeEntry) error {
	tags, err := marshalStrings(entry.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(sanitizeContext(ctx),
		`INSERT INTO time_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		entry.ID, entry.UserID, entry.WorkspaceID, entry.ProjectID, entry.TaskID, entry.Description,
		entry.StartTime.UTC(), nullTime(entry.EndTime), entry.DurationSeconds, entry.Billable,
		tags, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func collectEntries(rows *sql.Rows) ([]model.TimeEntry, error) {
	defer rows.Close()
	var entries []model.TimeEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate entries: %w", err)
	}
	return entries, nil
}

func scanEntry(scanner rowScanner) (model.TimeEntry, error) {
	var entry model.TimeEntry
	var end sql.NullTime
	var tagsJSON string

	if err := scanner.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.WorkspaceID,
		&entry.ProjectID,
		&entry.TaskID,
		&entry.Description,
		&entry.StartTime,
		&end,
		&entry.DurationSeconds,
		&entry.Billable,
		&tagsJSON,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return model.TimeEntry{}, err
	}

	entry.StartTime = entry.StartTime.UTC()
	entry.EndTime = timePtr(end)
	tags, err := unmarshalStrings(tagsJSON)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("tags: %w", err)
	}
	entry.Tags = tags
	return entry, nil
}
