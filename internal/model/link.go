package model

import (
	"fmt"
	"strings"
	"time"
)

// LinkType categorizes a dependency between two tasks.
type LinkType string

const (
	// FinishToStart means the target cannot start before the source's due date.
	FinishToStart LinkType = "finish_to_start"
	// StartToStart means the target cannot start before the source starts.
	StartToStart LinkType = "start_to_start"
)

// NormalizeLinkType lowercases and trims a raw link type. An empty value
// normalizes to finish_to_start, the common case.
func NormalizeLinkType(raw string) LinkType {
	lt := LinkType(strings.TrimSpace(strings.ToLower(raw)))
	if lt == "" {
		return FinishToStart
	}
	return lt
}

// Known reports whether lt is a recognized link type.
func (lt LinkType) Known() bool {
	return lt == FinishToStart || lt == StartToStart
}

// Link is a directed dependency edge: the target cannot start (or, for
// finish-to-start, the source must finish) before the source reaches the
// point the type names. All types count identically for cycle detection.
type Link struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	SourceID    string    `json:"source_id"`
	TargetID    string    `json:"target_id"`
	Type        LinkType  `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the link's structural invariants.
func (l Link) Validate() error {
	if strings.TrimSpace(l.SourceID) == "" {
		return fmt.Errorf("link source id is required")
	}
	if strings.TrimSpace(l.TargetID) == "" {
		return fmt.Errorf("link target id is required")
	}
	if l.SourceID == l.TargetID {
		return fmt.Errorf("link %s->%s: %w", l.SourceID, l.TargetID, ErrSelfDependency)
	}
	if !l.Type.Known() {
		return fmt.Errorf("link %s->%s: unknown type %q", l.SourceID, l.TargetID, l.Type)
	}
	return nil
}
