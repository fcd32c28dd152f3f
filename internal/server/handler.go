package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/store"
	"github.com/tasksmith/tasksmith/internal/task"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /api/tasks/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("GET /api/tasks/{id}/subtasks", s.handleSubtasks)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)

	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ListFilter{
		Status:          task.Status(q.Get("status")),
		Project:         q.Get("project"),
		Category:        q.Get("category"),
		IncludeSubtasks: q.Get("include_subtasks") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
		filter.Limit = n
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status %q", filter.Status)
		return
	}

	tasks, err := s.store.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(tasks),
		"tasks":   tasks,
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string `json:"name"`
		Description    string `json:"description"`
		Project        string `json:"project"`
		ParentID       string `json:"parent_id"`
		Priority       int    `json:"priority"`
		DueDate        string `json:"due_date"`
		ActionRequired string `json:"action_required"`
		SessionID      string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := s.store.Create(r.Context(), store.CreateOptions{
		Name:           req.Name,
		Description:    req.Description,
		Project:        req.Project,
		ParentID:       req.ParentID,
		Priority:       req.Priority,
		DueDate:        req.DueDate,
		ActionRequired: req.ActionRequired,
		SessionID:      req.SessionID,
	})
	switch {
	case errors.Is(err, store.ErrParentNotFound), errors.Is(err, store.ErrParentIsSubtask):
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "create failed: %v", err)
		return
	}

	t, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read-back failed: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"task":    t,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task":    t,
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status           string `json:"status"`
		CompletionReport string `json:"completion_report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	status := task.Status(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status %q", req.Status)
		return
	}

	id := r.PathValue("id")
	ok, err := s.store.UpdateStatus(r.Context(), id, status, req.CompletionReport)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update failed: %v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	t, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read-back failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task":    t,
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed: %v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSubtasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "get failed: %v", err)
		return
	}

	subs, err := s.store.Subtasks(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subtasks failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(subs),
		"subtasks": subs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Stats(r.URL.Query().Get("project"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   counts,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.Projects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "projects failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(projects),
		"projects": projects,
	})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	slug, err := s.store.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create project failed: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"project": slug,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "sync scheduler not running")
		return
	}

	err := s.scheduler.SyncNow(r.Context())
	switch {
	case errors.Is(err, gitx.ErrNoRemote):
		writeError(w, http.StatusBadRequest, "no remote configured; set remote_url first")
		return
	case errors.Is(err, gitx.ErrConflict):
		writeError(w, http.StatusConflict, "sync conflict: %v", err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "sync failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "sync scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"sync":    s.scheduler.Status(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "config manager not available")
		return
	}
	settings, err := s.settings.Settings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config read failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  settings,
	})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "config manager not available")
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	for key, value := range req {
		if err := s.settings.Set(key, value); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}
	if err := s.settings.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "config save failed: %v", err)
		return
	}

	settings, err := s.settings.Settings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config read failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  settings,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
		limit = n
	}

	events, err := s.store.Events(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "events failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(events),
		"events":  events,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"skipped": s.store.SkippedCount(),
	})
}
