// Package task defines the task record tracked by the progress poller.
//
// Task state machine as reported by the status endpoint:
//
//	PENDING -> STARTED           (worker picked the task up)
//	PENDING|STARTED -> PROGRESS  (payload carries exported/total)
//	PROGRESS -> PROGRESS         (counters advance)
//	* -> SUCCESS                 (result ready for download)
//	* -> FAILURE                 (task raised, message attached)
//	* -> REVOKED                 (task cancelled server side)
//
// Terminal states (SUCCESS, FAILURE, REVOKED) cannot transition further.
package task

import "math"

// State is the server-reported lifecycle stage of an asynchronous task.
type State string

// Task states reported by the status endpoint.
const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRevoked  State = "REVOKED"
)

// AllStates returns every known state.
func AllStates() []State {
	return []State{
		StatePending,
		StateStarted,
		StateProgress,
		StateSuccess,
		StateFailure,
		StateRevoked,
	}
}

// TerminalStates returns the states after which polling stops.
func TerminalStates() []State {
	return []State{StateSuccess, StateFailure, StateRevoked}
}

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateStarted, StateProgress, StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s ends the task lifecycle.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

// Percent converts exported/total counters into a value in [0, 100].
// A non-positive total yields 0.
func Percent(exported, total float64) int {
	if total <= 0 || math.IsNaN(exported) || math.IsNaN(total) {
		return 0
	}
	p := math.Round(exported / total * 100)
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}
