package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/protocol-foundry/graph"
	"github.com/dshills/protocol-foundry/graph/store"
	"github.com/dshills/protocol-foundry/internal/tasks"
	"github.com/dshills/protocol-foundry/internal/workflow"
)

const maxBodyBytes = 1 << 20

// InvokeRequest starts a run.
type InvokeRequest struct {
	Intent   string `json:"intent"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ResumeRequest carries a human decision.
type ResumeRequest struct {
	Approved    bool   `json:"approved"`
	Feedback    string `json:"feedback,omitempty"`
	EditedDraft string `json:"edited_draft,omitempty"`
}

// StateResponse is the data of GET /state/{thread_id}.
type StateResponse struct {
	ThreadID string          `json:"thread_id"`
	Status   tasks.Status    `json:"status"`
	State    *workflow.State `json:"state"`
	Next     string          `json:"next"`
	Error    *string         `json:"error"`
}

// TaskSummary is one entry of GET /tasks.
type TaskSummary struct {
	ThreadID       string         `json:"thread_id"`
	Status         tasks.Status   `json:"status"`
	Intent         string         `json:"intent"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	IterationCount int            `json:"iteration_count"`
	Scores         map[string]int `json:"scores,omitempty"`
}

// EventView is one entry of a thread's event log.
type EventView struct {
	Type   string                 `json:"type"`
	Step   int                    `json:"step"`
	NodeID string                 `json:"node_id,omitempty"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
	Time   time.Time              `json:"time"`
}

// HealthResponse is the data of GET /health.
type HealthResponse struct {
	Status   string               `json:"status"`
	Store    string               `json:"store"`
	Degraded bool                 `json:"degraded"`
	Tasks    map[tasks.Status]int `json:"tasks"`
}

// errorStatus maps registry, engine and store errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, tasks.ErrEmptyIntent):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrNotHalted), errors.Is(err, graph.ErrNotPaused), errors.Is(err, tasks.ErrTaskExists):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondError(w, status, err.Error())
}

// decode reads a JSON body and rejects unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, "Protocol Foundry API is running", map[string]interface{}{
		"service": "protocol-foundry",
		"endpoints": []string{
			"POST /invoke",
			"GET /state/{thread_id}",
			"POST /resume/{thread_id}",
			"GET /tasks",
			"GET /tasks/{thread_id}/events",
			"GET /health",
			"GET /metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.storeStatus()
	status := "healthy"
	if st.Degraded {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, status, HealthResponse{
		Status:   status,
		Store:    st.Name,
		Degraded: st.Degraded,
		Tasks:    s.tasks.Counts(),
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.tasks.Submit(r.Context(), strings.TrimSpace(req.Intent), strings.TrimSpace(req.ThreadID))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, "Workflow started", map[string]string{"thread_id": task.ThreadID})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	resp := StateResponse{
		ThreadID: task.ThreadID,
		Status:   task.Status,
		State:    task.State,
		Next:     task.Next,
	}
	switch {
	case task.Error != "":
		resp.Error = &task.Error
	case task.State != nil && task.State.Failed():
		resp.Error = task.State.Error
	}
	respondJSON(w, http.StatusOK, "Task "+string(task.Status), resp)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.tasks.Resume(r.Context(), chi.URLParam(r, "threadID"), tasks.Decision{
		Approved:    req.Approved,
		Feedback:    req.Feedback,
		EditedDraft: req.EditedDraft,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	message := "Workflow resumed"
	if !req.Approved {
		message = "Workflow rejected"
	}
	respondJSON(w, http.StatusOK, message, map[string]interface{}{
		"thread_id": task.ThreadID,
		"status":    task.Status,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.tasks.List(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	out := make([]TaskSummary, 0, len(list))
	for _, t := range list {
		summary := TaskSummary{
			ThreadID:  t.ThreadID,
			Status:    t.Status,
			Intent:    t.Intent,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		}
		if t.State != nil {
			summary.IterationCount = t.State.IterationCount
			summary.Scores = t.State.Scores
		}
		out = append(out, summary)
	}
	respondJSON(w, http.StatusOK, fmt.Sprintf("%d tasks", len(out)), out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.tasks.Events(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	out := make([]EventView, 0, len(events))
	for _, e := range events {
		out = append(out, EventView{Type: e.Msg, Step: e.Step, NodeID: e.NodeID, Meta: e.Meta, Time: e.Time})
	}
	respondJSON(w, http.StatusOK, fmt.Sprintf("%d events", len(out)), out)
}
