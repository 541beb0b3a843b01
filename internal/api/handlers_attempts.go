package api

import (
	"net/http"
	"strconv"

	"github.com/mushimuro/agent-company/internal/db"
)

// loadAttempt fetches an attempt and checks access through its task's project.
func (s *Server) loadAttempt(w http.ResponseWriter, r *http.Request) *db.Attempt {
	a, err := s.db.GetAttempt(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return nil
	}
	tk, err := s.db.GetTask(r.Context(), a.TaskID)
	if err != nil {
		HandleError(w, err)
		return nil
	}
	p, err := s.db.GetProject(r.Context(), tk.ProjectID)
	if err != nil {
		HandleError(w, err)
		return nil
	}
	if err := authorizeProject(r.Context(), p); err != nil {
		HandleError(w, err)
		return nil
	}
	return a
}

// handleGetAttempt returns an attempt with its gate results.
func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a := s.loadAttempt(w, r)
	if a == nil {
		return
	}
	gates, err := s.db.ListGateResults(r.Context(), a.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{
		"attempt":      a,
		"gate_results": gates,
	})
}

func (s *Server) handleListAttemptEvents(w http.ResponseWriter, r *http.Request) {
	a := s.loadAttempt(w, r)
	if a == nil {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			JSONError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	evs, err := s.db.ListAttemptEvents(r.Context(), a.ID, limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, evs)
}

func (s *Server) handleApproveAttempt(w http.ResponseWriter, r *http.Request) {
	a := s.loadAttempt(w, r)
	if a == nil {
		return
	}
	res, err := s.gate.Approve(r.Context(), a.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{
		"status":     "approved",
		"attempt_id": a.ID,
		"scheduled":  res,
	})
}

func (s *Server) handleRejectAttempt(w http.ResponseWriter, r *http.Request) {
	a := s.loadAttempt(w, r)
	if a == nil {
		return
	}
	var req struct {
		Feedback string `json:"feedback"`
	}
	// An empty body is a rejection without feedback.
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			HandleError(w, err)
			return
		}
	}
	if err := s.gate.Reject(r.Context(), a.ID, req.Feedback); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "rejected", "attempt_id": a.ID})
}

func (s *Server) handleCancelAttempt(w http.ResponseWriter, r *http.Request) {
	a := s.loadAttempt(w, r)
	if a == nil {
		return
	}
	if err := s.gate.Cancel(r.Context(), a.ID); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "cancelled", "attempt_id": a.ID})
}
