package api

import (
	"net/http"

	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/graph"
	"github.com/mushimuro/agent-company/internal/task"
)

// loadTask fetches a task and checks the caller may touch its project.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) *db.Task {
	tk, err := s.db.GetTask(r.Context(), r.PathValue("id"))
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
	return tk
}

func (s *Server) handleListProjectTasks(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	tasks, err := s.db.ListProjectTasks(r.Context(), p.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, tasks)
}

func (s *Server) handleCreateProjectTask(w http.ResponseWriter, r *http.Request) {
	p := s.loadProject(w, r)
	if p == nil {
		return
	}
	var req struct {
		Title              string         `json:"title"`
		Description        string         `json:"description"`
		AcceptanceCriteria []string       `json:"acceptance_criteria"`
		AgentRole          task.AgentRole `json:"agent_role"`
		Priority           int            `json:"priority"`
		Dependencies       []string       `json:"dependencies"`
	}
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if req.Title == "" {
		JSONError(w, "title is required", http.StatusBadRequest)
		return
	}

	tk := &db.Task{
		ProjectID:          p.ID,
		Title:              req.Title,
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		AgentRole:          req.AgentRole,
		Priority:           req.Priority,
		Dependencies:       req.Dependencies,
	}
	if err := s.db.CreateTask(r.Context(), tk); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, tk, http.StatusCreated)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	tk := s.loadTask(w, r)
	if tk == nil {
		return
	}
	JSONResponse(w, tk)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	tk := s.loadTask(w, r)
	if tk == nil {
		return
	}
	var req struct {
		Title              *string         `json:"title"`
		Description        *string         `json:"description"`
		AcceptanceCriteria *[]string       `json:"acceptance_criteria"`
		AgentRole          *task.AgentRole `json:"agent_role"`
		Priority           *int            `json:"priority"`
		Dependencies       *[]string       `json:"dependencies"`
		Status             *task.Status    `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if req.Title != nil {
		tk.Title = *req.Title
	}
	if req.Description != nil {
		tk.Description = *req.Description
	}
	if req.AcceptanceCriteria != nil {
		tk.AcceptanceCriteria = *req.AcceptanceCriteria
	}
	if req.AgentRole != nil {
		tk.AgentRole = *req.AgentRole
	}
	if req.Priority != nil {
		tk.Priority = *req.Priority
	}
	if req.Dependencies != nil {
		tk.Dependencies = *req.Dependencies
	}
	if req.Status != nil {
		tk.Status = *req.Status
	}
	if err := s.db.UpdateTask(r.Context(), tk); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, tk)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	tk := s.loadTask(w, r)
	if tk == nil {
		return
	}
	if err := s.db.DeleteTask(r.Context(), tk.ID); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

// handleDependenciesStatus reports whether a task may start and what blocks it.
func (s *Server) handleDependenciesStatus(w http.ResponseWriter, r *http.Request) {
	tk := s.loadTask(w, r)
	if tk == nil {
		return
	}
	snapshot, err := s.db.ProjectSnapshot(r.Context(), tk.ProjectID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, graph.New(snapshot).CanStart(tk.ID, nil))
}

// handleReadyTasks lists tasks whose dependencies are all satisfied, ordered
// by priority. Requires the project query parameter.
func (s *Server) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		JSONError(w, "project query parameter is required", http.StatusBadRequest)
		return
	}
	p, err := s.db.GetProject(r.Context(), projectID)
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := authorizeProject(r.Context(), p); err != nil {
		HandleError(w, err)
		return
	}
	snapshot, err := s.db.ProjectSnapshot(r.Context(), projectID)
	if err != nil {
		HandleError(w, err)
		return
	}
	ready := []graph.Node{}
	for _, n := range graph.New(snapshot).ReadyTasks(nil) {
		if n.Status == task.StatusTodo {
			ready = append(ready, n)
		}
	}
	JSONResponse(w, ready)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	tk := s.loadTask(w, r)
	if tk == nil {
		return
	}
	if err := s.coord.StartTask(r.Context(), tk.ID); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, map[string]string{"status": "started", "task_id": tk.ID}, http.StatusAccepted)
}

func (s *Server) handleListTaskAttempts(w http.ResponseWriter, r *http.Request) {
	tk := s.loadTask(w, r)
	if tk == nil {
		return
	}
	attempts, err := s.db.ListTaskAttempts(r.Context(), tk.ID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, attempts)
}
