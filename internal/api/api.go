// Package api provides the HTTP surface of the workflow engine: task
// status transitions, dependency links, schedule edits, timers and time
// entry reports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-dev/taskflow/internal/calendar"
	"github.com/antigravity-dev/taskflow/internal/config"
	"github.com/antigravity-dev/taskflow/internal/model"
	"github.com/antigravity-dev/taskflow/internal/schedule"
	"github.com/antigravity-dev/taskflow/internal/store"
	"github.com/antigravity-dev/taskflow/internal/timetrack"
	"github.com/antigravity-dev/taskflow/internal/workflow"
)

// Server is the HTTP API server.
type Server struct {
	cfgMgr         *config.Manager
	store          *store.Store
	sched          *schedule.Scheduler
	tracker        *timetrack.Engine
	cal            *calendar.WorkCalendar
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server.
func NewServer(cfgMgr *config.Manager, s *store.Store, sched *schedule.Scheduler, tracker *timetrack.Engine, cal *calendar.WorkCalendar, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(&cfgMgr.Get().API.Security, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth middleware: %w", err)
	}

	return &Server{
		cfgMgr:         cfgMgr,
		store:          s,
		sched:          sched,
		tracker:        tracker,
		cal:            cal,
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}, nil
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Start begins listening on the configured bind address. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgMgr.Get()

	s.httpServer = &http.Server{
		Addr:        cfg.API.Bind,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout.Duration)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", cfg.API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Read-only endpoints
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/summary", s.handleSummary)

	// Mutating endpoints pass through auth
	mux.HandleFunc("/tasks", s.authMiddleware.RequireAuth(s.handleTasks))
	mux.HandleFunc("/tasks/", s.authMiddleware.RequireAuth(s.routeTasks))
	mux.HandleFunc("/links", s.authMiddleware.RequireAuth(s.handleLinks))
	mux.HandleFunc("/timers/start", s.authMiddleware.RequireAuth(s.handleTimerStart))
	mux.HandleFunc("/timers/stop", s.authMiddleware.RequireAuth(s.handleTimerStop))
	mux.HandleFunc("/entries", s.authMiddleware.RequireAuth(s.handleEntries))
	mux.HandleFunc("/entries/", s.authMiddleware.RequireAuth(s.routeEntries))

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP status codes:
// missing entities are 404, authorization failures 403, state and
// graph conflicts 409, malformed input 400.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrNoRunningTimer):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrDependencyUnresolved),
		errors.Is(err, model.ErrCycleDetected),
		errors.Is(err, model.ErrSelfDependency),
		errors.Is(err, model.ErrTimerAlreadyRunning),
		errors.Is(err, model.ErrOverlappingEntry):
		code = http.StatusConflict
	case errors.Is(err, model.ErrInvalidRange):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"uptime_s": time.Since(s.startTime).Seconds(),
	})
}

// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// GET /tasks?workspace={id}, POST /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		workspace := r.URL.Query().Get("workspace")
		if workspace == "" {
			writeError(w, http.StatusBadRequest, "workspace query parameter required")
			return
		}
		tasks, err := s.store.ListTasks(r.Context(), workspace)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"tasks": tasks, "count": len(tasks)})

	case http.MethodPost:
		var task model.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json request body")
			return
		}
		if task.ID == "" || task.WorkspaceID == "" {
			writeError(w, http.StatusBadRequest, "id and workspace_id are required")
			return
		}
		created, err := s.store.CreateTask(r.Context(), task)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if err := s.sched.Recompute(r.Context(), created.WorkspaceID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// routeTasks routes /tasks/{id} and /tasks/{id}/{action}
func (s *Server) routeTasks(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")

	if strings.HasSuffix(path, "/status") {
		s.handleTaskStatus(w, r, strings.TrimSuffix(path, "/status"))
		return
	}
	if strings.HasSuffix(path, "/schedule") {
		s.handleTaskSchedule(w, r, strings.TrimSuffix(path, "/schedule"))
		return
	}
	s.handleTaskDetail(w, r, path)
}

// GET /tasks/{id} — the task plus the dependency edges touching it
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	links, err := s.store.LinksForTask(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"task": task, "links": links})
}

// POST /tasks/{id}/status — run the guarded state machine
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Status string `json:"status"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	target := model.NormalizeStatus(req.Status)

	task, err := s.sched.Transition(r.Context(), id, target, workflow.UserActor(req.UserID))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maybeAutoStopTimer(r.Context(), req.UserID, task)
	writeJSON(w, task)
}

// maybeAutoStopTimer applies the auto_stop_on_done policy: when the
// acting user moves a task to done while their timer runs on it, the
// timer stops with the task.
func (s *Server) maybeAutoStopTimer(ctx context.Context, userID string, task model.Task) {
	if task.Status != model.StatusDone || !s.cfgMgr.Get().Timetrack.AutoStopOnDone {
		return
	}
	running, err := s.tracker.Running(ctx, userID)
	if err != nil || running.TaskID != task.ID {
		return
	}
	if _, err := s.tracker.StopTimer(ctx, userID); err != nil {
		s.logger.Warn("auto-stop timer failed", "user", userID, "task", task.ID, "error", err)
		return
	}
	s.logger.Info("timer auto-stopped with task", "user", userID, "task", task.ID)
}

// POST /tasks/{id}/schedule — edit dates, estimate or the start pin
func (s *Server) handleTaskSchedule(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		StartDate       *time.Time `json:"start_date"`
		DueDate         *time.Time `json:"due_date"`
		EstimateMinutes *int       `json:"estimate_minutes"`
		StartPinned     *bool      `json:"start_pinned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json request body")
		return
	}

	task, err := s.sched.SetSchedule(r.Context(), id, schedule.SchedulePatch{
		StartDate:       req.StartDate,
		DueDate:         req.DueDate,
		EstimateMinutes: req.EstimateMinutes,
		StartPinned:     req.StartPinned,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, task)
}

// POST /links, DELETE /links
func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		SourceID    string `json:"source_id"`
		TargetID    string `json:"target_id"`
		Type        string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json request body")
		return
	}
	if req.WorkspaceID == "" || req.SourceID == "" || req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id, source_id and target_id are required")
		return
	}

	switch r.Method {
	case http.MethodPost:
		link, err := s.sched.AddLink(r.Context(), req.WorkspaceID, req.SourceID, req.TargetID, model.NormalizeLinkType(req.Type))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, link)

	case http.MethodDelete:
		if err := s.sched.RemoveLink(r.Context(), req.WorkspaceID, req.SourceID, req.TargetID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// POST /timers/start
func (s *Server) handleTimerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		UserID      string   `json:"user_id"`
		WorkspaceID string   `json:"workspace_id"`
		ProjectID   string   `json:"project_id"`
		TaskID      string   `json:"task_id"`
		Description string   `json:"description"`
		Billable    bool     `json:"billable"`
		Tags        []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entry, err := s.tracker.StartTimer(r.Context(), timetrack.StartRequest{
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		TaskID:      req.TaskID,
		Description: req.Description,
		Billable:    req.Billable,
		Tags:        req.Tags,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, entry)
}

// POST /timers/stop
func (s *Server) handleTimerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entry, err := s.tracker.StopTimer(r.Context(), req.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, entry)
}

// GET /entries?user={id}&from=&to=, POST /entries
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user query parameter required")
			return
		}
		from, to, err := parseWindow(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries, err := s.tracker.Entries(r.Context(), userID, from, to)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"entries": entries, "count": len(entries)})

	case http.MethodPost:
		var entry model.TimeEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json request body")
			return
		}
		created, err := s.tracker.CreateEntry(r.Context(), entry)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// routeEntries routes /entries/{id}
func (s *Server) routeEntries(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/entries/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "entry id required")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Description *string    `json:"description"`
			ProjectID   *string    `json:"project_id"`
			TaskID      *string    `json:"task_id"`
			StartTime   *time.Time `json:"start_time"`
			EndTime     *time.Time `json:"end_time"`
			Billable    *bool      `json:"billable"`
			Tags        []string   `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json request body")
			return
		}
		entry, err := s.tracker.UpdateEntry(r.Context(), id, timetrack.EntryPatch{
			Description: req.Description,
			ProjectID:   req.ProjectID,
			TaskID:      req.TaskID,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Billable:    req.Billable,
			Tags:        req.Tags,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, entry)

	case http.MethodDelete:
		if err := s.tracker.DeleteEntry(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /summary?user={id}&from=&to= — aggregate one user's entries.
// GET /summary?workspace={id}&from=&to= — aggregate a whole workspace
// for project reports.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.URL.Query().Get("user")
	workspaceID := r.URL.Query().Get("workspace")
	if (userID == "") == (workspaceID == "") {
		writeError(w, http.StatusBadRequest, "exactly one of user or workspace query parameters required")
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var entries []model.TimeEntry
	if workspaceID != "" {
		entries, err = s.store.ListWorkspaceEntries(r.Context(), workspaceID, from, to)
	} else {
		entries, err = s.tracker.Entries(r.Context(), userID, from, to)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, timetrack.Summarize(entries, s.cal.Location()))
}

// parseWindow reads the from/to RFC 3339 query parameters. Absent bounds
// default to the last 30 days.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from %q: want RFC 3339", raw)
		}
		from = parsed.UTC()
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to %q: want RFC 3339", raw)
		}
		to = parsed.UTC()
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be after from")
	}
	return from, to, nil
}
