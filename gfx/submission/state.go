package submission

// State is the lifecycle position of one command buffer. A ticket moves
// Recording to Recorded to Submitted to Completed; Discarded and Failed are
// terminal exits for work that never completes.
type State int

const (
	// StateRecording means passes are still being recorded.
	StateRecording State = iota

	// StateRecorded means recording finished but the work is not submitted.
	StateRecorded

	// StateSubmitted means the work is on the GPU queue.
	StateSubmitted

	// StateCompleted means the GPU finished the work.
	StateCompleted

	// StateDiscarded means the work was dropped without being submitted.
	StateDiscarded

	// StateFailed means submission or completion errored.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateRecorded:
		return "recorded"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	case StateDiscarded:
		return "discarded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state has no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDiscarded || s == StateFailed
}

// canTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s State) canTransition(next State) bool {
	switch s {
	case StateRecording:
		return next == StateRecorded || next == StateDiscarded || next == StateFailed
	case StateRecorded:
		return next == StateSubmitted || next == StateDiscarded || next == StateFailed
	case StateSubmitted:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}

// Open reports whether the state still pins the resources it references
// against destruction. Work that is recorded but not yet submitted holds
// its references; submitted work defers release instead.
func (s State) Open() bool {
	return s == StateRecording || s == StateRecorded
}
