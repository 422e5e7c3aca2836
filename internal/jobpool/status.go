package jobpool

import "fmt"

// Status is the lifecycle state of a job. Transitions only move forward:
// Waiting, Running, then one of the terminal states.
type Status int

const (
	Waiting Status = iota
	Running
	Complete
	Failed
	Killed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Running:
		return "Running"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	case Killed:
		return "Killed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == Complete || s == Failed || s == Killed
}

// CanTransition reports whether a job in state s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Waiting:
		return next == Running || next == Killed
	case Running:
		return next.Terminal()
	default:
		return false
	}
}

// MarshalText renders the status name, used by the YAML report.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
