package checkout

import "fmt"

// State is a step of the finalization state machine.
//
//	Idle -> Validating -> Committing -> Completed
//
// Rejected is reached from Idle or Validating without side effects;
// PartiallyCommitted from Committing once the sale is recorded.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateCommitting
	StateCompleted
	StateRejected
	StatePartiallyCommitted
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateValidating:         "validating",
	StateCommitting:         "committing",
	StateCompleted:          "completed",
	StateRejected:           "rejected",
	StatePartiallyCommitted: "partially_committed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StatePartiallyCommitted
}
