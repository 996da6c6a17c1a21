package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/taskflow/internal/model"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTask(t *testing.T, s *Store, id, workspace string) model.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), model.Task{
		ID:          id,
		WorkspaceID: workspace,
		Title:       "task " + id,
	})
	if err != nil {
		t.Fatalf("CreateTask(%s) failed: %v", id, err)
	}
	return task
}

func TestTaskRoundTrip(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	due := time.Date(2025, 6, 4, 17, 0, 0, 0, time.UTC)
	created, err := s.CreateTask(ctx, model.Task{
		ID:              "t-1",
		WorkspaceID:     "ws-1",
		ProjectID:       "proj-1",
		Title:           "Design review",
		Status:          model.StatusInProgress,
		Priority:        2,
		AssigneeIDs:     []string{"u-1", "u-2"},
		StartDate:       &start,
		DueDate:         &due,
		EstimateMinutes: 480,
		StartPinned:     true,
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := s.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if len(got.AssigneeIDs) != 2 || got.AssigneeIDs[1] != "u-2" {
		t.Errorf("assignees = %v, want [u-1 u-2]", got.AssigneeIDs)
	}
	if got.StartDate == nil || !got.StartDate.Equal(start) {
		t.Errorf("start = %v, want %v", got.StartDate, start)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due = %v, want %v", got.DueDate, due)
	}
	if !got.StartPinned {
		t.Error("expected start_pinned to survive the round trip")
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := tempStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmptyStatusNormalizesToTodo(t *testing.T) {
	s := tempStore(t)
	seedTask(t, s, "t-1", "ws-1")

	got, err := s.GetTask(context.Background(), "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusTodo {
		t.Errorf("status = %s, want todo", got.Status)
	}
}

func TestSaveTasksBatchIsAtomic(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	a := seedTask(t, s, "t-a", "ws-1")
	b := seedTask(t, s, "t-b", "ws-1")

	a.Status = model.StatusReady
	// Invalid dates: due before start. The whole batch must roll back.
	start := time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC)
	due := start.Add(-24 * time.Hour)
	b.StartDate = &start
	b.DueDate = &due

	if err := s.SaveTasks(ctx, []model.Task{a, b}); err == nil {
		t.Fatal("expected batch save to fail on invalid task")
	}

	got, err := s.GetTask(ctx, "t-a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusTodo {
		t.Errorf("status = %s, want todo: failed batch must not leave partial writes", got.Status)
	}
}

func TestListTasksScopedToWorkspace(t *testing.T) {
	s := tempStore(t)
	seedTask(t, s, "t-1", "ws-1")
	seedTask(t, s, "t-2", "ws-1")
	seedTask(t, s, "t-3", "ws-2")

	tasks, err := s.ListTasks(context.Background(), "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks in ws-1, got %d", len(tasks))
	}
}

func TestSaveLinkIdempotent(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedTask(t, s, "t-1", "ws-1")
	seedTask(t, s, "t-2", "ws-1")

	link := model.Link{
		ID:          "l-1",
		WorkspaceID: "ws-1",
		SourceID:    "t-1",
		TargetID:    "t-2",
		Type:        model.FinishToStart,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SaveLink(ctx, link); err != nil {
		t.Fatalf("SaveLink failed: %v", err)
	}
	link.ID = "l-2"
	if err := s.SaveLink(ctx, link); err != nil {
		t.Fatalf("duplicate SaveLink should be a no-op, got %v", err)
	}

	links, err := s.ListLinks(ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link after duplicate save, got %d", len(links))
	}
}

func TestDeleteTaskCascadesLinks(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedTask(t, s, "t-1", "ws-1")
	seedTask(t, s, "t-2", "ws-1")

	err := s.SaveLink(ctx, model.Link{
		ID: "l-1", WorkspaceID: "ws-1", SourceID: "t-1", TargetID: "t-2",
		Type: model.FinishToStart, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTask(ctx, "t-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	links, err := s.ListLinks(ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("expected links to cascade away, got %d", len(links))
	}
}

func TestCreateRunningSecondTimerConflicts(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	first := model.TimeEntry{
		ID: "e-1", UserID: "u-1", WorkspaceID: "ws-1",
		StartTime: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateRunning(ctx, first); err != nil {
		t.Fatalf("first CreateRunning failed: %v", err)
	}

	second := first
	second.ID = "e-2"
	second.StartTime = now.Add(time.Minute)
	err := s.CreateRunning(ctx, second)
	if !errors.Is(err, model.ErrTimerAlreadyRunning) {
		t.Fatalf("expected ErrTimerAlreadyRunning, got %v", err)
	}

	// A different user is unaffected.
	other := first
	other.ID = "e-3"
	other.UserID = "u-2"
	if err := s.CreateRunning(ctx, other); err != nil {
		t.Fatalf("CreateRunning for second user failed: %v", err)
	}
}

func TestRunningEntryLifecycle(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	if _, err := s.RunningEntry(ctx, "u-1"); !errors.Is(err, model.ErrNoRunningTimer) {
		t.Fatalf("expected ErrNoRunningTimer, got %v", err)
	}

	entry := model.TimeEntry{
		ID: "e-1", UserID: "u-1", WorkspaceID: "ws-1",
		StartTime: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateRunning(ctx, entry); err != nil {
		t.Fatal(err)
	}

	running, err := s.RunningEntry(ctx, "u-1")
	if err != nil {
		t.Fatalf("RunningEntry failed: %v", err)
	}
	if running.ID != "e-1" || !running.Running() {
		t.Fatalf("unexpected running entry: %+v", running)
	}

	end := now.Add(time.Hour)
	running.EndTime = &end
	running.DurationSeconds = 3600
	if err := s.SaveEntry(ctx, running); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}

	if _, err := s.RunningEntry(ctx, "u-1"); !errors.Is(err, model.ErrNoRunningTimer) {
		t.Fatalf("expected ErrNoRunningTimer after close, got %v", err)
	}

	// Closing released the slot; a fresh timer may start.
	next := model.TimeEntry{
		ID: "e-2", UserID: "u-1", WorkspaceID: "ws-1",
		StartTime: end, CreatedAt: end, UpdatedAt: end,
	}
	if err := s.CreateRunning(ctx, next); err != nil {
		t.Fatalf("CreateRunning after close failed: %v", err)
	}
}

func TestListOverlappingHalfOpen(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	saveClosed := func(id string, user string, start, end time.Time) {
		t.Helper()
		err := s.SaveEntry(ctx, model.TimeEntry{
			ID: id, UserID: user, WorkspaceID: "ws-1",
			StartTime: start, EndTime: &end,
			DurationSeconds: int64(end.Sub(start).Seconds()),
			CreatedAt:       start, UpdatedAt: end,
		})
		if err != nil {
			t.Fatalf("SaveEntry(%s) failed: %v", id, err)
		}
	}

	saveClosed("e-1", "u-1", base, base.Add(time.Hour))                   // 09:00-10:00
	saveClosed("e-2", "u-1", base.Add(time.Hour), base.Add(2*time.Hour)) // 10:00-11:00, touches only
	saveClosed("e-3", "u-2", base, base.Add(time.Hour))                  // other user

	overlaps, err := s.ListOverlapping(ctx, "u-1", base.Add(30*time.Minute), base.Add(time.Hour), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(overlaps) != 1 || overlaps[0].ID != "e-1" {
		t.Fatalf("expected only e-1 to overlap, got %+v", overlaps)
	}

	// Excluding the entry itself finds nothing.
	overlaps, err = s.ListOverlapping(ctx, "u-1", base.Add(30*time.Minute), base.Add(time.Hour), "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(overlaps) != 0 {
		t.Fatalf("expected no overlaps when excluding e-1, got %+v", overlaps)
	}

	// Boundary touch at 10:00 is not an overlap.
	overlaps, err = s.ListOverlapping(ctx, "u-1", base.Add(time.Hour), base.Add(90*time.Minute), "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(overlaps) != 1 || overlaps[0].ID != "e-2" {
		t.Fatalf("expected only e-2, got %+v", overlaps)
	}
}

func TestListEntriesWindow(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	for i, start := range []time.Time{
		base.Add(9 * time.Hour),
		base.Add(33 * time.Hour), // next day
		base.Add(57 * time.Hour), // day after
	} {
		end := start.Add(time.Hour)
		err := s.SaveEntry(ctx, model.TimeEntry{
			ID: string(rune('a' + i)), UserID: "u-1", WorkspaceID: "ws-1",
			StartTime: start, EndTime: &end, DurationSeconds: 3600,
			CreatedAt: start, UpdatedAt: end,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.ListEntries(ctx, "u-1", base, base.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries in the 2-day window, got %d", len(entries))
	}

	deleted := entries[0].ID
	if err := s.DeleteEntry(ctx, deleted); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if err := s.DeleteEntry(ctx, deleted); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestLinksForTaskBothDirections(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedTask(t, s, "t-1", "ws-1")
	seedTask(t, s, "t-2", "ws-1")
	seedTask(t, s, "t-3", "ws-1")

	for i, pair := range [][2]string{{"t-1", "t-2"}, {"t-2", "t-3"}} {
		err := s.SaveLink(ctx, model.Link{
			ID: string(rune('a' + i)), WorkspaceID: "ws-1", SourceID: pair[0], TargetID: pair[1],
			Type: model.FinishToStart, CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// t-2 sits in the middle: one incoming edge, one outgoing.
	links, err := s.LinksForTask(ctx, "t-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("expected both edges of t-2, got %d", len(links))
	}

	links, err = s.LinksForTask(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].TargetID != "t-2" {
		t.Fatalf("expected only the outgoing edge of t-1, got %+v", links)
	}

	links, err = s.LinksForTask(ctx, "lonely")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("expected no links for an unlinked id, got %d", len(links))
	}
}

func TestListWorkspaceEntriesScoped(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	seed := func(id, user, workspace string, start time.Time) {
		end := start.Add(time.Hour)
		err := s.SaveEntry(ctx, model.TimeEntry{
			ID: id, UserID: user, WorkspaceID: workspace,
			StartTime: start, EndTime: &end, DurationSeconds: 3600,
			CreatedAt: start, UpdatedAt: end,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	seed("a", "u-1", "ws-1", base)
	seed("b", "u-2", "ws-1", base.Add(2*time.Hour))
	seed("c", "u-1", "ws-2", base.Add(4*time.Hour))
	seed("d", "u-1", "ws-1", base.Add(48*time.Hour)) // outside the window

	entries, err := s.ListWorkspaceEntries(ctx, "ws-1", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ws-1 entries in the window, got %d", len(entries))
	}
	for _, e := range entries {
		if e.WorkspaceID != "ws-1" {
			t.Fatalf("entry %s leaked from workspace %s", e.ID, e.WorkspaceID)
		}
	}
}
