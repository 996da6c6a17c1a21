package timetrack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antigravity-dev/taskflow/internal/event"
	"github.com/antigravity-dev/taskflow/internal/model"
)

// memStore is an in-memory EntryStore enforcing the same invariants as the
// SQLite adapter: one running entry per user, conditional creation.
type memStore struct {
	mu      sync.Mutex
	entries map[string]model.TimeEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]model.TimeEntry)}
}

func (s *memStore) GetEntry(_ context.Context, id string) (model.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return model.TimeEntry{}, model.ErrNotFound
	}
	return e, nil
}

func (s *memStore) RunningEntry(_ context.Context, userID string) (model.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == userID && e.Running() {
			return e, nil
		}
	}
	return model.TimeEntry{}, model.ErrNoRunningTimer
}

func (s *memStore) CreateRunning(_ context.Context, entry model.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == entry.UserID && e.Running() {
			return model.ErrTimerAlreadyRunning
		}
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *memStore) SaveEntry(_ context.Context, entry model.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *memStore) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *memStore) ListOverlapping(_ context.Context, userID string, start, end time.Time, excludeID string) ([]model.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	probe := model.TimeEntry{StartTime: start, EndTime: &end}
	var out []model.TimeEntry
	for _, e := range s.entries {
		if e.UserID != userID || e.ID == excludeID {
			continue
		}
		if e.Overlaps(probe) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) ListEntries(_ context.Context, userID string, from, to time.Time) ([]model.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TimeEntry
	for _, e := range s.entries {
		if e.UserID == userID && !e.StartTime.Before(from) && e.StartTime.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// testClock steps a fake clock by fixed increments.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *testClock, *event.MemorySink) {
	t.Helper()
	store := newMemStore()
	clock := &testClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	sink := &event.MemorySink{}
	return New(store, sink, nil, clock.Now), store, clock, sink
}

func TestStartTimer_SecondStartRejected(t *testing.T) {
	e, _, clock, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StartTimer(ctx, StartRequest{UserID: "u1", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	clock.Advance(5 * time.Minute)
	_, err := e.StartTimer(ctx, StartRequest{UserID: "u1", WorkspaceID: "ws-1"})
	if !errors.Is(err, model.ErrTimerAlreadyRunning) {
		t.Fatalf("expected ErrTimerAlreadyRunning, got %v", err)
	}

	// A different user is unaffected.
	if _, err := e.StartTimer(ctx, StartRequest{UserID: "u2", WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("StartTimer for second user: %v", err)
	}
}

func TestStopTimer(t *testing.T) {
	e, _, clock, sink := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StopTimer(ctx, "u1"); !errors.Is(err, model.ErrNoRunningTimer) {
		t.Fatalf("expected ErrNoRunningTimer, got %v", err)
	}

	started, err := e.StartTimer(ctx, StartRequest{UserID: "u1", WorkspaceID: "ws-1", Billable: true})
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	clock.Advance(90*time.Minute + 700*time.Millisecond)

	stopped, err := e.StopTimer(ctx, "u1")
	if err != nil {
		t.Fatalf("StopTimer: %v", err)
	}
	if stopped.Running() {
		t.Fatalf("stopped entry still running")
	}
	// Duration floors to whole seconds.
	if stopped.DurationSeconds != 90*60 {
		t.Fatalf("duration = %d, want %d", stopped.DurationSeconds, 90*60)
	}
	if stopped.ID != started.ID {
		t.Fatalf("stopped a different entry: %s vs %s", stopped.ID, started.ID)
	}

	var closed *event.TimeEntryClosed
	for _, ev := range sink.Events() {
		if c, ok := ev.(event.TimeEntryClosed); ok {
			closed = &c
		}
	}
	if closed == nil || closed.EntryID != started.ID || closed.DurationSeconds != 90*60 {
		t.Fatalf("missing or wrong TimeEntryClosed event: %+v", closed)
	}
}

func TestSingleRunningTimerProperty(t *testing.T) {
	e, store, clock, _ := newTestEngine(t)
	ctx := context.Background()

	// Arbitrary interleaving of starts and stops.
	for i := 0; i < 10; i++ {
		e.StartTimer(ctx, StartRequest{UserID: "u1", WorkspaceID: "ws-1"})
		clock.Advance(time.Minute)
		if i%3 == 0 {
			e.StopTimer(ctx, "u1")
			clock.Advance(time.Minute)
		}
	}

	running := 0
	for _, entry := range store.entries {
		if entry.UserID == "u1" && entry.Running() {
			running++
		}
	}
	if running > 1 {
		t.Fatalf("found %d running entries for u1, want at most 1", running)
	}
}

func closedEntry(user string, start time.Time, minutes int, billable bool) model.TimeEntry {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return model.TimeEntry{
		UserID:      user,
		WorkspaceID: "ws-1",
		StartTime:   start,
		EndTime:     &end,
		Billable:    billable,
	}
}

func TestCreateEntry_OverlapRules(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	nine := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	// [09:00, 10:00)
	if _, err := e.CreateEntry(ctx, closedEntry("u1", nine, 60, true)); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	// [09:30, 10:30) overlaps.
	_, err := e.CreateEntry(ctx, closedEntry("u1", nine.Add(30*time.Minute), 60, true))
	if !errors.Is(err, model.ErrOverlappingEntry) {
		t.Fatalf("expected ErrOverlappingEntry, got %v", err)
	}

	// [10:00, 11:00) touches the boundary: not an overlap.
	if _, err := e.CreateEntry(ctx, closedEntry("u1", nine.Add(60*time.Minute), 60, false)); err != nil {
		t.Fatalf("boundary-touching entry rejected: %v", err)
	}

	// [08:00, 12:00) engulfs an existing entry.
	_, err = e.CreateEntry(ctx, closedEntry("u1", nine.Add(-60*time.Minute), 240, true))
	if !errors.Is(err, model.ErrOverlappingEntry) {
		t.Fatalf("expected ErrOverlappingEntry for engulfing interval, got %v", err)
	}

	// Other users may overlap freely.
	if _, err := e.CreateEntry(ctx, closedEntry("u2", nine, 60, true)); err != nil {
		t.Fatalf("cross-user entry rejected: %v", err)
	}
}

func TestCreateEntry_InvalidRange(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	nine := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	entry := closedEntry("u1", nine, 0, true) // zero-length
	if _, err := e.CreateEntry(ctx, entry); !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for zero-length interval, got %v", err)
	}

	end := nine.Add(-time.Hour)
	entry.EndTime = &end
	if _, err := e.CreateEntry(ctx, entry); !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for inverted interval, got %v", err)
	}

	entry.EndTime = nil
	if _, err := e.CreateEntry(ctx, entry); !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for open manual entry, got %v", err)
	}
}

func TestUpdateEntry_ExcludesSelfFromOverlapCheck(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	nine := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	created, err := e.CreateEntry(ctx, closedEntry("u1", nine, 60, true))
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	// Shrinking the same entry must not collide with itself.
	newEnd := nine.Add(30 * time.Minute)
	updated, err := e.UpdateEntry(ctx, created.ID, EntryPatch{EndTime: &newEnd})
	if err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if updated.DurationSeconds != 30*60 {
		t.Fatalf("duration = %d, want %d", updated.DurationSeconds, 30*60)
	}

	// Moving onto another entry still fails.
	if _, err := e.CreateEntry(ctx, closedEntry("u1", nine.Add(time.Hour), 60, true)); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	collide := nine.Add(90 * time.Minute)
	if _, err := e.UpdateEntry(ctx, created.ID, EntryPatch{EndTime: &collide}); !errors.Is(err, model.ErrOverlappingEntry) {
		t.Fatalf("expected ErrOverlappingEntry, got %v", err)
	}
}

func TestUpdateEntry_NotFound(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if _, err := e.UpdateEntry(context.Background(), "missing", EntryPatch{}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
