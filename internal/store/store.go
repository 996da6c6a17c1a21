// Package store provides SQLite-backed persistence for tasks, dependency
// links and time entries. It is the repository's reference implementation
// of the engine's persistence collaborators; integrators may substitute
// their own as long as single-entity calls stay atomic.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	board_id TEXT NOT NULL DEFAULT '',
	sprint_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'todo',
	priority INTEGER NOT NULL DEFAULT 0,
	assignee_ids TEXT NOT NULL DEFAULT '[]',
	start_date DATETIME,
	due_date DATETIME,
	estimate_minutes INTEGER NOT NULL DEFAULT 0,
	parent_id TEXT NOT NULL DEFAULT '',
	start_pinned BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS task_links (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	source_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	link_type TEXT NOT NULL DEFAULT 'finish_to_start',
	created_at DATETIME NOT NULL,
	UNIQUE (workspace_id, source_id, target_id)
);

CREATE TABLE IF NOT EXISTS time_entries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	start_time DATETIME NOT NULL,
	end_time DATETIME,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	billable BOOLEAN NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_links_workspace ON task_links(workspace_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON task_links(target_id);
CREATE INDEX IF NOT EXISTS idx_entries_user_start ON time_entries(user_id, start_time);

-- The one-running-timer-per-user invariant lives here: inserting a second
-- open entry for a user fails atomically, no read-then-write race.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_running
	ON time_entries(user_id) WHERE end_time IS NULL;
`

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at dbPath and ensures the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for integration tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func sanitizeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid JSON list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func isUniqueViolation(err error, needle string) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique constraint failed") && strings.Contains(text, strings.ToLower(needle))
}
