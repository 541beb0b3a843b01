package api

import (
	"net/http"

	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/graph"
	"github.com/mushimuro/agent-company/internal/task"
)

// loadProject fetches a project and checks the caller may touch it.
func (s *Server) loadProject(w http.ResponseWriter, r *http.Request) *db.Project {
	p, err := s.db.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		HandleError(w, err)
		return nil
	}
	if err := authorizeProject(r.Context(), p); err != nil {
		HandleError(w, err)
		return nil
	}
	return p
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.db.ListProjects(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	owner := principal(r.Context())
	visible := make([]*db.Project, 0, len(projects))
	for _, p := range projects {
		if owner == "" || p.OwnerID == "" || p.OwnerID == owner {
			visible = append(visible, p)
		}
	}
	JSONResponse(w, visible)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string            `json:"name"`
		Description   string            `json:"description"`
		RepoPath      string            `json:"repo_path"`
		Config        map[string]string `json:"config"`
		WritableRoots []string          `json:"writable_roots"`
	}
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if req.Name == "" {
		JSONError(w, "name is required", http.StatusBadRequest)
		return
	}

	p := &db.Project{
		Name:        req.Name,
		Description: req.Description,
		RepoPath:    req.RepoPath,
		Config:      req.Config,
		OwnerID:     principal(r.Context()),
	}
	if err := s.db.CreateProject(r.Context(), p); err != nil {
		HandleError(w, err)
		return
	}
	if len(req.WritableRoots) > 0 {
		if err := s.db.SetWritableRoots(r.Context(), p.ID, req.WritableRoots); err != nil {
			HandleError(w, err)
			return
		}
	}
	JSONResponseStatus(w, p, http.StatusCreated)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	JSONResponse(w, p)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}

	var req struct {
		Name        *string            `json:"name"`
		Description *string            `json:"description"`
		RepoPath    *string            `json:"repo_path"`
		Config      *map[string]string `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.RepoPath != nil {
		p.RepoPath = *req.RepoPath
	}
	if req.Config != nil {
		p.Config = *req.Config
	}
	if err := s.db.UpdateProject(r.Context(), p); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	if err := s.db.DeleteProject(r.Context(), p.ID); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

func (s *Server) handleGetWritableRoots(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	roots, err := s.db.WritableRoots(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"writable_roots": roots})
}

func (s *Server) handleSetWritableRoots(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	var req struct {
		WritableRoots []string `json:"writable_roots"`
	}
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.db.SetWritableRoots(r.Context(), p.ID, req.WritableRoots); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"writable_roots": req.WritableRoots})
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	snapshot, err := s.db.ProjectSnapshot(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	g := graph.New(snapshot)
	nodes, edges := g.Export()
	out := map[string]any{
		"nodes":      nodes,
		"edges":      edges,
		"has_cycles": g.HasCycles(),
		"blocked":    g.BlockedTasks(nil),
	}
	if g.HasCycles() {
		out["cycles"] = g.Cycles()
	} else {
		if levels, err := g.ExecutionLevels(); err == nil {
			out["execution_levels"] = levels
		}
		out["critical_path"] = g.CriticalPath()
	}
	JSONResponse(w, out)
}

func (s *Server) handleExecuteAllTasks(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	res, err := s.coord.ScheduleProjectTasks(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, res)
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	status, err := s.coord.GetExecutionStatus(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, status)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	n, err := s.coord.CancelAllRunning(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"cancelled": n})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	res, err := s.coord.RetryFailedTasks(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, res)
}

// handleListProjectAttempts lists a project's attempts, optionally filtered
// by one or more status query parameters.
func (s *Server) handleListProjectAttempts(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	var statuses []task.AttemptStatus
	for _, raw := range r.URL.Query()["status"] {
		st := task.AttemptStatus(raw)
		if !task.IsValidAttemptStatus(st) {
			JSONError(w, "invalid attempt status "+raw, http.StatusBadRequest)
			return
		}
		statuses = append(statuses, st)
	}
	attempts, err := s.db.ListProjectAttempts(r.Context(), p.ID, statuses...)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, attempts)
}

func (s *Server) handlePostChat(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	var req struct {
		Sender string `json:"sender"`
		Body   string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if req.Body == "" {
		JSONError(w, "body is required", http.StatusBadRequest)
		return
	}
	sender := req.Sender
	if sender == "" {
		sender = principal(r.Context())
	}
	s.bus.Publish(events.NewEnvelope(events.ProjectTopic(p.ID), events.KindChatMessage, events.ChatMessage{
		ProjectID: p.ID,
		Sender:    sender,
		Body:      req.Body,
	}))
	JSONResponseStatus(w, map[string]string{"status": "sent"}, http.StatusAccepted)
}
