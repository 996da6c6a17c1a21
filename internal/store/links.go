package store

import (
	"context"
	"fmt"

	"github.com/antigravity-dev/taskflow/internal/model"
)

const linkColumns = `id, workspace_id, source_id, target_id, link_type, created_at`

// SaveLink inserts a dependency edge. Duplicate edges are ignored, matching
// the idempotent semantics of linking two already-linked tasks.
func (s *Store) SaveLink(ctx context.Context, link model.Link) error {
	if err := link.Validate(); err != nil {
		return fmt.Errorf("store: save link: %w", err)
	}
	_, err := s.db.ExecContext(sanitizeContext(ctx),
		`INSERT INTO task_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, source_id, target_id) DO NOTHING;`,
		link.ID, link.WorkspaceID, link.SourceID, link.TargetID, string(link.Type), link.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save link %s -> %s: %w", link.SourceID, link.TargetID, err)
	}
	return nil
}

// DeleteLink removes an edge if it exists.
func (s *Store) DeleteLink(ctx context.Context, workspaceID, sourceID, targetID string) error {
	_, err := s.db.ExecContext(sanitizeContext(ctx),
		`DELETE FROM task_links WHERE workspace_id = ? AND source_id = ? AND target_id = ?;`,
		workspaceID, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("store: delete link %s -> %s: %w", sourceID, targetID, err)
	}
	return nil
}

// ListLinks returns every dependency edge in a workspace.
func (s *Store) ListLinks(ctx context.Context, workspaceID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(sanitizeContext(ctx),
		`SELECT `+linkColumns+` FROM task_links WHERE workspace_id = ? ORDER BY source_id, target_id;`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var link model.Link
		var typ string
		if err := rows.Scan(&link.ID, &link.WorkspaceID, &link.SourceID, &link.TargetID, &typ, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		link.Type = model.LinkType(typ)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	return links, nil
}

// LinksForTask returns the edges touching a task in either direction.
func (s *Store) LinksForTask(ctx context.Context, taskID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(sanitizeContext(ctx),
		`SELECT `+linkColumns+` FROM task_links WHERE source_id = ? OR target_id = ? ORDER BY source_id, target_id;`,
		taskID, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: links for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var link model.Link
		var typ string
		if err := rows.Scan(&link.ID, &link.WorkspaceID, &link.SourceID, &link.TargetID, &typ, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		link.Type = model.LinkType(typ)
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: links for task %s: %w", taskID, err)
	}
	return links, nil
}
