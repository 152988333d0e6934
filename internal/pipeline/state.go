package pipeline

import "fmt"

// State is a position in the coverage run. The sequence is linear: each
// state has exactly one successor, any failure lands in Aborted.
type State string

const (
	StateNew                 State = "NEW"
	StateCleaned             State = "CLEANED"
	StateUnitBuilt           State = "UNIT_BUILT"
	StateUnitCaptured        State = "UNIT_CAPTURED"
	StateCacheReset          State = "CACHE_RESET"
	StateIntegrationCaptured State = "INTEGRATION_CAPTURED"
	StateMerged              State = "MERGED"
	StateFiltered            State = "FILTERED"
	StateRendered            State = "RENDERED"
	StateAborted             State = "ABORTED"
)

// successor is the transition table. Encoding the order here, instead of
// relying on statement order in the run loop, makes ordering and fail-fast
// behavior checkable on their own.
var successor = map[State]State{
	StateNew:                 StateCleaned,
	StateCleaned:             StateUnitBuilt,
	StateUnitBuilt:           StateUnitCaptured,
	StateUnitCaptured:        StateCacheReset,
	StateCacheReset:          StateIntegrationCaptured,
	StateIntegrationCaptured: StateMerged,
	StateMerged:              StateFiltered,
	StateFiltered:            StateRendered,
}

// IsTerminal reports whether the state ends the run.
func IsTerminal(s State) bool {
	return s == StateRendered || s == StateAborted
}

// Machine tracks the run position and rejects transitions outside the
// table.
type Machine struct {
	current State
}

// NewMachine returns a machine positioned before the first step.
func NewMachine() *Machine {
	return &Machine{current: StateNew}
}

// Current returns the machine's position.
func (m *Machine) Current() State {
	return m.current
}

// Advance moves to the next state, which must be the current state's one
// allowed successor.
func (m *Machine) Advance(to State) error {
	next, ok := successor[m.current]
	if !ok {
		return fmt.Errorf("no transition out of terminal state %s", m.current)
	}
	if to != next {
		return fmt.Errorf("invalid transition %s -> %s, expected %s", m.current, to, next)
	}
	m.current = to
	return nil
}

// Abort moves any non-terminal state to Aborted.
func (m *Machine) Abort() error {
	if IsTerminal(m.current) {
		return fmt.Errorf("cannot abort from terminal state %s", m.current)
	}
	m.current = StateAborted
	return nil
}
