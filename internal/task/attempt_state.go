package task

// AttemptStatus represents the lifecycle state of a single execution attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptQueued    AttemptStatus = "QUEUED"
	AttemptRunning   AttemptStatus = "RUNNING"
	AttemptSuccess   AttemptStatus = "SUCCESS"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptCancelled AttemptStatus = "CANCELLED"
	AttemptApproved  AttemptStatus = "APPROVED"
	AttemptRejected  AttemptStatus = "REJECTED"
)

// ActiveAttemptStatuses are the states counted by the single-flight check:
// a task may hold at most one attempt in any of these.
func ActiveAttemptStatuses() []AttemptStatus {
	return []AttemptStatus{AttemptPending, AttemptQueued, AttemptRunning}
}

// IsActive returns true if the attempt still occupies its task's slot.
func (s AttemptStatus) IsActive() bool {
	switch s {
	case AttemptPending, AttemptQueued, AttemptRunning:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition changes the outcome of
// execution. APPROVED and REJECTED are the post-review terminals.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptSuccess, AttemptFailed, AttemptCancelled, AttemptApproved, AttemptRejected:
		return true
	default:
		return false
	}
}

// IsValidAttemptStatus returns true if s is a known attempt status.
func IsValidAttemptStatus(s AttemptStatus) bool {
	return s.IsActive() || s.IsTerminal()
}

// attemptTransitions encodes the allowed attempt state machine:
//
//	PENDING -> QUEUED -> RUNNING -> SUCCESS | FAILED
//	PENDING | QUEUED | RUNNING -> CANCELLED
//	SUCCESS -> APPROVED | REJECTED
//	FAILED  -> REJECTED
var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptPending: {AttemptQueued, AttemptCancelled},
	AttemptQueued:  {AttemptRunning, AttemptCancelled},
	AttemptRunning: {AttemptSuccess, AttemptFailed, AttemptCancelled},
	AttemptSuccess: {AttemptApproved, AttemptRejected},
	AttemptFailed:  {AttemptRejected},
}

// CanTransition reports whether moving an attempt from one status to another
// is allowed by the state machine.
func CanTransition(from, to AttemptStatus) bool {
	for _, next := range attemptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
