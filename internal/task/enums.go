// Package task defines the shared task and attempt vocabulary for agentco.
package task

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusTodo indicates the task has not started.
	StatusTodo Status = "TODO"
	// StatusInProgress indicates an attempt is live for the task.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusInReview indicates a successful attempt awaits human review.
	StatusInReview Status = "IN_REVIEW"
	// StatusDone indicates the task's branch has been approved and merged.
	StatusDone Status = "DONE"
	// StatusFailed indicates the last attempt failed and no retry is queued.
	StatusFailed Status = "FAILED"
)

// ValidStatuses returns all valid task status values.
func ValidStatuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusFailed}
}

// IsValidStatus returns true if s is a valid task status.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// AgentRole selects which worker prompt executes a task.
type AgentRole string

const (
	RolePM       AgentRole = "PM"
	RoleFrontend AgentRole = "FRONTEND"
	RoleBackend  AgentRole = "BACKEND"
	RoleQA       AgentRole = "QA"
	RoleDevOps   AgentRole = "DEVOPS"
)

// ValidRoles returns all valid agent roles.
func ValidRoles() []AgentRole {
	return []AgentRole{RolePM, RoleFrontend, RoleBackend, RoleQA, RoleDevOps}
}

// IsValidRole returns true if r is a valid agent role.
func IsValidRole(r AgentRole) bool {
	switch r {
	case RolePM, RoleFrontend, RoleBackend, RoleQA, RoleDevOps:
		return true
	default:
		return false
	}
}

// Priority bounds. Lower is more urgent; 3 is the default.
const (
	PriorityMin     = 1
	PriorityMax     = 5
	PriorityDefault = 3
)

// IsValidPriority returns true if p lies in the accepted 1..5 range.
func IsValidPriority(p int) bool {
	return p >= PriorityMin && p <= PriorityMax
}

// EventKind classifies attempt events.
type EventKind string

const (
	EventLog      EventKind = "LOG"
	EventStatus   EventKind = "STATUS"
	EventProgress EventKind = "PROGRESS"
	EventError    EventKind = "ERROR"
)

// GateKind classifies quality gate results reported by the worker.
type GateKind string

const (
	GateTest  GateKind = "TEST"
	GateLint  GateKind = "LINT"
	GateBuild GateKind = "BUILD"
)

// GateStatus is the outcome of a single quality gate.
type GateStatus string

const (
	GatePassed  GateStatus = "PASSED"
	GateFailed  GateStatus = "FAILED"
	GateSkipped GateStatus = "SKIPPED"
)
