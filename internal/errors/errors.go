// Package errors provides structured error types for agentco.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for agentco.
const (
	// Lookup errors
	CodeProjectNotFound Code = "PROJECT_NOT_FOUND"
	CodeTaskNotFound    Code = "TASK_NOT_FOUND"
	CodeAttemptNotFound Code = "ATTEMPT_NOT_FOUND"

	// Graph errors
	CodeCycleDetected   Code = "CYCLE_DETECTED"
	CodeDependencyUnmet Code = "DEPENDENCY_UNMET"
	CodeUnknownDep      Code = "UNKNOWN_DEPENDENCY"

	// Attempt lifecycle errors
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeAttemptActive     Code = "ATTEMPT_ACTIVE"
	CodeMergeConflict     Code = "MERGE_CONFLICT"

	// Worker errors
	CodeWorkerUnreachable Code = "WORKER_UNREACHABLE"
	CodeWorkerReported    Code = "WORKER_REPORTED"
	CodeProtocol          Code = "PROTOCOL_ERROR"

	// Access errors
	CodeForbidden Code = "FORBIDDEN"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryForbidden
	CategoryInternal
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeProjectNotFound:   CategoryNotFound,
	CodeTaskNotFound:      CategoryNotFound,
	CodeAttemptNotFound:   CategoryNotFound,
	CodeCycleDetected:     CategoryBadRequest,
	CodeDependencyUnmet:   CategoryBadRequest,
	CodeUnknownDep:        CategoryBadRequest,
	CodeIllegalTransition: CategoryBadRequest,
	CodeAttemptActive:     CategoryConflict,
	CodeMergeConflict:     CategoryConflict,
	CodeWorkerUnreachable: CategoryUnavailable,
	CodeWorkerReported:    CategoryInternal,
	CodeProtocol:          CategoryBadRequest,
	CodeForbidden:         CategoryForbidden,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// CoreError is the structured error type for agentco.
type CoreError struct {
	Code    Code   `json:"code"`
	What    string `json:"what"`
	Why     string `json:"why,omitempty"`
	Details any    `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *CoreError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *CoreError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Is reports whether target is a CoreError with the same code.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON implements json.Marshaler, flattening the cause into a string.
func (e *CoreError) MarshalJSON() ([]byte, error) {
	type alias CoreError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithCause returns a copy of the error with the given cause.
func (e *CoreError) WithCause(err error) *CoreError {
	return &CoreError{
		Code:    e.Code,
		What:    e.What,
		Why:     e.Why,
		Details: e.Details,
		Cause:   err,
	}
}

// --- Error constructors ---

// ErrProjectNotFound returns an error when a project doesn't exist.
func ErrProjectNotFound(id string) *CoreError {
	return &CoreError{
		Code: CodeProjectNotFound,
		What: fmt.Sprintf("project %s not found", id),
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *CoreError {
	return &CoreError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
	}
}

// ErrAttemptNotFound returns an error when an attempt doesn't exist.
func ErrAttemptNotFound(id string) *CoreError {
	return &CoreError{
		Code: CodeAttemptNotFound,
		What: fmt.Sprintf("attempt %s not found", id),
	}
}

// ErrCycleDetected returns an error for a cyclic dependency graph.
// cycles carries the offending id sequences for the caller to display.
func ErrCycleDetected(cycles [][]string) *CoreError {
	return &CoreError{
		Code:    CodeCycleDetected,
		What:    "circular dependencies detected",
		Why:     "the task graph must be acyclic",
		Details: cycles,
	}
}

// ErrDependencyUnmet returns an error when a task is started with undone
// predecessors. blockedBy lists the blocking task ids.
func ErrDependencyUnmet(taskID string, blockedBy any) *CoreError {
	return &CoreError{
		Code:    CodeDependencyUnmet,
		What:    fmt.Sprintf("task %s has unmet dependencies", taskID),
		Details: blockedBy,
	}
}

// ErrUnknownDependency returns an error when a dependency references a task
// outside the project.
func ErrUnknownDependency(taskID, depID string) *CoreError {
	return &CoreError{
		Code: CodeUnknownDep,
		What: fmt.Sprintf("task %s references unknown dependency %s", taskID, depID),
		Why:  "dependencies must reference tasks in the same project",
	}
}

// ErrIllegalTransition returns an error for a forbidden attempt status change.
func ErrIllegalTransition(attemptID, from, to string) *CoreError {
	return &CoreError{
		Code: CodeIllegalTransition,
		What: fmt.Sprintf("attempt %s cannot transition from %s to %s", attemptID, from, to),
		Why:  "the requested operation is not valid in the attempt's current state",
	}
}

// ErrAttemptActive returns an error when a task already has a live attempt.
func ErrAttemptActive(taskID string) *CoreError {
	return &CoreError{
		Code: CodeAttemptActive,
		What: fmt.Sprintf("task %s already has an active attempt", taskID),
		Why:  "at most one attempt per task may be pending, queued or running",
	}
}

// ErrMergeConflict returns an error when the worker reports a merge conflict.
func ErrMergeConflict(branch, detail string) *CoreError {
	return &CoreError{
		Code: CodeMergeConflict,
		What: fmt.Sprintf("branch %s cannot be merged", branch),
		Why:  detail,
	}
}

// ErrWorkerUnreachable returns an error when the worker cannot be reached.
func ErrWorkerUnreachable(err error) *CoreError {
	return &CoreError{
		Code:  CodeWorkerUnreachable,
		What:  "cannot reach execution worker",
		Cause: err,
	}
}

// ErrWorkerReported returns an error carrying the worker's own failure text.
func ErrWorkerReported(detail string) *CoreError {
	return &CoreError{
		Code: CodeWorkerReported,
		What: "worker reported execution failure",
		Why:  detail,
	}
}

// ErrProtocol returns an error for malformed or unauthenticated payloads.
func ErrProtocol(detail string) *CoreError {
	return &CoreError{
		Code: CodeProtocol,
		What: "protocol error",
		Why:  detail,
	}
}

// ErrForbidden returns an error when a principal acts outside its projects.
func ErrForbidden(detail string) *CoreError {
	return &CoreError{
		Code: CodeForbidden,
		What: "forbidden",
		Why:  detail,
	}
}

// AsCoreError attempts to convert an error to a CoreError.
// Returns nil if the error is not a CoreError.
func AsCoreError(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// Wrap wraps a generic error into a CoreError with unknown code.
func Wrap(err error, what string) *CoreError {
	return &CoreError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
