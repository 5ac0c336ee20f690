package valueobjects

// ExecutionStatus is the last known execution state of a tab
type ExecutionStatus string

const (
	ExecutionIdle      ExecutionStatus = "idle"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsValid reports whether s is one of the known statuses
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionIdle, ExecutionRunning, ExecutionCompleted, ExecutionFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is completed or failed
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// CanTransition reports whether a tab may move from one status to another.
//
//	idle -> running -> {completed | failed} -> idle
//
// Clearing back to idle is allowed from any non-idle status. Self
// transitions are not transitions and report false.
func CanTransition(from, to ExecutionStatus) bool {
	if from == to || !to.IsValid() {
		return false
	}
	switch to {
	case ExecutionIdle:
		return true
	case ExecutionRunning:
		return from == ExecutionIdle
	case ExecutionCompleted, ExecutionFailed:
		return from == ExecutionRunning
	}
	return false
}
