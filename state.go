package scraper

import "fmt"

// State is a position in the job life-cycle.
type State string

const (
	StateCreated            State = "created"
	StateSourcesDiscovered  State = "sources_discovered"
	StateFetched            State = "fetched"
	StateTransformed        State = "transformed"
	StateDimensionsResolved State = "dimensions_resolved"
	StateUploaded           State = "uploaded"
	StateDone               State = "done"
	StateError              State = "error"
)

// next lists the only state reachable from each state besides StateError.
var next = map[State]State{
	StateCreated:            StateSourcesDiscovered,
	StateSourcesDiscovered:  StateFetched,
	StateFetched:            StateTransformed,
	StateTransformed:        StateDimensionsResolved,
	StateDimensionsResolved: StateUploaded,
	StateUploaded:           StateDone,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// CanTransition reports whether to is reachable from s in one step.
// StateError is reachable from every non-terminal state.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateError {
		return true
	}
	return next[s] == to
}

func transition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
