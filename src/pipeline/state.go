// Package pipeline runs one admitted event through build and publish as a
// finite state machine, and reports every transition to a status sink.
package pipeline

import "fmt"

// State is the lifecycle position of a run.
type State string

const (
	Pending    State = "pending"
	Building   State = "building"
	Publishing State = "publishing"
	Succeeded  State = "succeeded"
	Failed     State = "failed"
)

// transitions lists every legal edge. Pending → Failed covers runs cancelled
// or superseded before they start.
var transitions = map[State][]State{
	Pending:    {Building, Failed},
	Building:   {Publishing, Failed},
	Publishing: {Succeeded, Failed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Running reports whether a stage is executing.
func (s State) Running() bool {
	return s == Building || s == Publishing
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is an attempted illegal edge. It indicates a bug.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal run transition %s -> %s", e.From, e.To)
}
