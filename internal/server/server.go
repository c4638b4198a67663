package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nick-dorsch/trellis/internal/app"
	"github.com/nick-dorsch/trellis/internal/db"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/graph"
	"github.com/nick-dorsch/trellis/internal/metrics"
	"github.com/nick-dorsch/trellis/internal/workflow"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

type Server struct {
	app    *app.App
	server *http.Server
}

func NewServer(a *app.App) *Server {
	return &Server{app: a}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/transition", s.handleTransition)
	mux.HandleFunc("POST /api/tasks/{id}/approve", s.handleApproveTask)
	mux.HandleFunc("POST /api/tasks/{id}/reprove", s.handleReproveTask)

	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("POST /api/features", s.handleCreateFeature)
	mux.HandleFunc("POST /api/features/{id}/approve", s.featureAction(s.app.Engine.ApproveFeature))
	mux.HandleFunc("POST /api/features/{id}/reprove", s.featureAction(s.app.Engine.ReproveFeature))
	mux.HandleFunc("POST /api/features/{id}/release", s.featureAction(s.app.Engine.ReleaseFeature))
	mux.HandleFunc("DELETE /api/features/{id}", s.handleDeleteFeature)

	mux.HandleFunc("GET /api/board", s.handleBoard)
	mux.HandleFunc("GET /api/dependencies/check", s.handleDependencyCheck)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)

	mux.Handle("GET /metrics", metrics.HandlerFor(s.app.Registry))

	return mux
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.app.Log.Info("web server listening", "addr", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// actor is the caller named by the X-Trellis-User header, or the configured
// user.
func (s *Server) actor(r *http.Request) models.Actor {
	if id := r.Header.Get("X-Trellis-User"); id != "" {
		return models.Actor{ID: id}
	}
	return s.app.Actor
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	filter := db.TaskFilter{ProjectID: s.app.ProjectID}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := models.TaskStatus(v)
		if !status.Valid() {
			s.fail(w, apperr.Validation(apperr.ReasonInvalidCommand, "unknown status %q", v))
			return
		}
		filter.Status = &status
	}
	if v := q.Get("feature_id"); v != "" {
		filter.FeatureID = &v
	}
	if v := q.Get("assignee"); v != "" {
		filter.Assignee = &v
	}

	tasks, err := s.app.DB.ListTasks(r.Context(), filter)
	s.respond(w, http.StatusOK, tasks, storeErr(err))
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.app.DB.GetTask(r.Context(), id)
	if err == nil && (t == nil || t.ProjectID != s.app.ProjectID) {
		s.fail(w, apperr.NotFound(apperr.CodeTaskNotFound, "task %s not found", id))
		return
	}
	s.respond(w, http.StatusOK, t, storeErr(err))
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	FeatureID   string     `json:"feature_id"`
	CategoryID  string     `json:"category_id"`
	Assignee    string     `json:"assignee"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.app.Engine.CreateTask(r.Context(), s.actor(r), s.app.ProjectID, workflow.NewTask{
		Title:       req.Title,
		Description: req.Description,
		FeatureID:   req.FeatureID,
		CategoryID:  req.CategoryID,
		Assignee:    req.Assignee,
		DueDate:     req.DueDate,
	})
	s.respond(w, http.StatusCreated, t, err)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.app.Engine.DeleteTask(r.Context(), s.actor(r), s.app.ProjectID, r.PathValue("id"))
	s.respond(w, http.StatusNoContent, nil, err)
}

// transitionRequest is a partial update. Absent fields are left alone; an
// empty string clears assignee and feature.
type transitionRequest struct {
	Status      *string `json:"status"`
	Assignee    *string `json:"assignee"`
	FeatureID   *string `json:"feature_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (req transitionRequest) commands() []workflow.Command {
	var cmds []workflow.Command
	if req.Title != nil {
		cmds = append(cmds, workflow.Rename{Title: *req.Title})
	}
	if req.Description != nil {
		cmds = append(cmds, workflow.SetDescription{Description: *req.Description})
	}
	if req.Assignee != nil {
		if *req.Assignee == "" {
			cmds = append(cmds, workflow.Unassign{})
		} else {
			cmds = append(cmds, workflow.AssignUser{UserID: *req.Assignee})
		}
	}
	if req.FeatureID != nil {
		if *req.FeatureID == "" {
			cmds = append(cmds, workflow.ClearFeature{})
		} else {
			cmds = append(cmds, workflow.SetFeature{FeatureID: *req.FeatureID})
		}
	}
	if req.Status != nil {
		cmds = append(cmds, workflow.ChangeStatus{Status: models.TaskStatus(*req.Status)})
	}
	return cmds
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.app.Engine.TransitionTask(r.Context(), s.actor(r), s.app.ProjectID, r.PathValue("id"), req.commands()...)
	s.respond(w, http.StatusOK, t, err)
}

type reviewRequest struct {
	FeatureID string `json:"feature_id"`
	Feedback  string `json:"feedback"`
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.app.Engine.ApproveTask(r.Context(), s.actor(r), s.app.ProjectID, r.PathValue("id"), req.FeatureID)
	s.respond(w, http.StatusOK, t, err)
}

func (s *Server) handleReproveTask(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.app.Engine.ReproveTask(r.Context(), s.actor(r), s.app.ProjectID, r.PathValue("id"), req.FeatureID, req.Feedback)
	s.respond(w, http.StatusOK, t, err)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.app.DB.ListFeatures(r.Context(), s.app.ProjectID)
	s.respond(w, http.StatusOK, features, storeErr(err))
}

type createFeatureRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ModuleID    string `json:"module_id"`
}

func (s *Server) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	var req createFeatureRequest
	if !s.decode(w, r, &req) {
		return
	}
	f, err := s.app.Engine.CreateFeature(r.Context(), s.actor(r), s.app.ProjectID, workflow.NewFeature{
		Name:        req.Name,
		Description: req.Description,
		ModuleID:    req.ModuleID,
	})
	s.respond(w, http.StatusCreated, f, err)
}

func (s *Server) featureAction(action func(ctx context.Context, actor models.Actor, projectID, featureID string) (*models.Feature, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := action(r.Context(), s.actor(r), s.app.ProjectID, r.PathValue("id"))
		s.respond(w, http.StatusOK, f, err)
	}
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	err := s.app.Engine.DeleteFeature(r.Context(), s.actor(r), s.app.ProjectID, r.PathValue("id"))
	s.respond(w, http.StatusNoContent, nil, err)
}

type boardResponse struct {
	Epoch   uint64         `json:"epoch"`
	Tasks   []*models.Task `json:"tasks"`
	Blocked []string       `json:"blocked"`
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	epoch := s.app.DB.Epoch()
	tasks, err := s.app.DB.ListTasks(r.Context(), db.TaskFilter{ProjectID: s.app.ProjectID})
	if err != nil {
		s.fail(w, apperr.Store(err))
		return
	}
	s.respond(w, http.StatusOK, boardResponse{
		Epoch:   epoch,
		Tasks:   tasks,
		Blocked: graph.ComputeBlocked(tasks).IDs(),
	}, nil)
}

func (s *Server) handleDependencyCheck(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Graph.Check(r.Context(), s.app.ProjectID)
	s.respond(w, http.StatusOK, report, err)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, apperr.Validation(apperr.ReasonInvalidCommand, "invalid limit %q", v))
			return
		}
		limit = n
	}
	entries, err := s.app.DB.ListActivity(r.Context(), s.app.ProjectID, limit)
	s.respond(w, http.StatusOK, entries, storeErr(err))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	notes, err := s.app.DB.ListNotifications(r.Context(), s.actor(r).ID, unread)
	s.respond(w, http.StatusOK, notes, storeErr(err))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, apperr.Validation(apperr.ReasonInvalidCommand, "invalid request body: %v", err))
		return false
	}
	return true
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Store(err)
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: apperr.UserMessage(err)}
	if e, ok := apperr.As(err); ok {
		resp.Code = string(e.Code)
		resp.Reason = string(e.Reason)
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.app.Log.WithError(err).Warn("request failed")
	}
	s.write(w, code, resp)
}

func (s *Server) respond(w http.ResponseWriter, code int, data any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	s.write(w, code, data)
}

func (s *Server) write(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.app.Log.WithError(err).Debug("failed to write response")
	}
}
