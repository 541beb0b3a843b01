// Package worker implements the signed RPC client for the execution worker
// daemon: run_agent, merge_branch, and cleanup.
package worker

import (
	"fmt"
	"strings"

	"github.com/mushimuro/agent-company/internal/task"
)

// TaskSpec is the task block of a run_agent request. AgentRole is the
// attempt's frozen copy, not the task's live value.
type TaskSpec struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	AgentRole          task.AgentRole `json:"agent_role"`
	AcceptanceCriteria []string       `json:"acceptance_criteria,omitempty"`
}

// ProjectSpec is the project block of a run_agent request.
type ProjectSpec struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	RepoPath    string            `json:"repo_path"`
	Config      map[string]string `json:"config,omitempty"`
}

// RunAgentRequest asks the worker to execute an agent for a task attempt.
type RunAgentRequest struct {
	AttemptID     string      `json:"attempt_id"`
	Task          TaskSpec    `json:"task"`
	Project       ProjectSpec `json:"project"`
	WritableRoots []string    `json:"writable_roots,omitempty"`
	Model         string      `json:"model,omitempty"`
	BranchName    string      `json:"branch_name"`
}

// GateResult is one quality gate outcome reported by the worker. Duration
// is the gate's wall-clock run time in seconds.
type GateResult struct {
	Kind     task.GateKind   `json:"kind"`
	Status   task.GateStatus `json:"status"`
	Detail   string          `json:"detail,omitempty"`
	Duration float64         `json:"duration,omitempty"`
}

// RunAgentResponse is the worker's execution report.
type RunAgentResponse struct {
	Success      bool         `json:"success"`
	Output       string       `json:"output,omitempty"`
	Error        string       `json:"error,omitempty"`
	GitBranch    string       `json:"git_branch,omitempty"`
	WorktreePath string       `json:"worktree_path,omitempty"`
	Diff         string       `json:"diff,omitempty"`
	FilesChanged []string     `json:"files_changed,omitempty"`
	GateResults  []GateResult `json:"gate_results,omitempty"`
}

// MergeBranchRequest asks the worker to merge an attempt branch into the
// target branch.
type MergeBranchRequest struct {
	AttemptID    string `json:"attempt_id"`
	ProjectID    string `json:"project_id"`
	BranchName   string `json:"branch_name"`
	TargetBranch string `json:"target_branch"`
	RepoPath     string `json:"repo_path"`
}

// MergeBranchResponse reports the merge outcome. Conflict is set when the
// branch cannot be merged cleanly; the attempt stays reviewable.
type MergeBranchResponse struct {
	Merged   bool   `json:"merged"`
	Conflict bool   `json:"conflict"`
	Detail   string `json:"detail,omitempty"`
}

// CleanupRequest asks the worker to remove an attempt's worktree and branch.
type CleanupRequest struct {
	AttemptID  string `json:"attempt_id"`
	ProjectID  string `json:"project_id"`
	BranchName string `json:"branch_name"`
	RepoPath   string `json:"repo_path"`
}

// CleanupResponse reports the cleanup outcome.
type CleanupResponse struct {
	Cleaned bool   `json:"cleaned"`
	Detail  string `json:"detail,omitempty"`
}

// BranchName derives the attempt branch from the agent role and task id:
// agent-{role}-{first 8 chars of the task id}, role lowercased.
func BranchName(role task.AgentRole, taskID string) string {
	prefix := taskID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("agent-%s-%s", strings.ToLower(string(role)), prefix)
}
