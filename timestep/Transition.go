package timestep

import (
	"fmt"

	"github.com/samuelfneumann/gamelearn/action"
)

// Transition is a single (state, action, reward, next state, terminal)
// tuple of experience. Transitions are never mutated after creation;
// NewTransition and Copy take copies of the state slices so that
// callers may reuse their buffers.
type Transition struct {
	State     []float64
	Action    action.Action
	Reward    float64
	NextState []float64
	Terminal  bool
}

// NewTransition returns a new Transition that owns copies of state
// and nextState
func NewTransition(state []float64, a action.Action, reward float64,
	nextState []float64, terminal bool) Transition {
	return Transition{
		State:     clone(state),
		Action:    a,
		Reward:    reward,
		NextState: clone(nextState),
		Terminal:  terminal,
	}
}

// Copy returns a deep copy of the Transition
func (t Transition) Copy() Transition {
	return NewTransition(t.State, t.Action, t.Reward, t.NextState, t.Terminal)
}

// String implements the fmt.Stringer interface
func (t Transition) String() string {
	return fmt.Sprintf("Transition | Action: %v  |  Reward: %.2f  |  "+
		"Terminal: %v", t.Action, t.Reward, t.Terminal)
}

func clone(s []float64) []float64 {
	if s == nil {
		return nil
	}
	c := make([]float64, len(s))
	copy(c, s)
	return c
}
