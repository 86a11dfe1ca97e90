// Package policy implements the ε-greedy action selection policy and
// its exploration decay schedule.
package policy

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/samuelfneumann/gamelearn/action"
)

// Estimator predicts one value per action for a state
type Estimator interface {
	Estimate(state []float64) ([]float64, error)
}

// EGreedy implements an ε-greedy policy over a fixed discrete action
// set. With probability ε a uniformly random action is selected,
// otherwise the action of highest estimated value is selected.
//
// EGreedy does not own the value estimates or ε. Both are passed to
// SelectAction so that a caller can select actions from a snapshot of
// the agent's state. EGreedy is safe for concurrent use.
type EGreedy struct {
	numActions int

	mu  sync.Mutex // Guards rng
	rng *rand.Rand
}

// NewEGreedy constructs a new EGreedy policy over numActions actions
// enumerated from 0.
func NewEGreedy(numActions int, seed uint64) (*EGreedy, error) {
	if numActions < 1 {
		return nil, fmt.Errorf("newegreedy: at least one action required"+
			"\n\twant(>0)\n\thave(%v)", numActions)
	}

	return &EGreedy{
		numActions: numActions,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// NumActions returns the number of actions the policy chooses between
func (p *EGreedy) NumActions() int {
	return p.numActions
}

// SelectAction selects an action in state from an ε-greedy policy. The
// returned boolean reports whether the action was exploratory. The
// estimator is only consulted for greedy actions.
func (p *EGreedy) SelectAction(e Estimator, state []float64,
	epsilon float64) (action.Action, bool, error) {
	p.mu.Lock()
	explore := p.rng.Float64() < epsilon
	var random int
	if explore {
		random = p.rng.Intn(p.numActions)
	}
	p.mu.Unlock()

	if explore {
		return action.Action(random), true, nil
	}

	values, err := e.Estimate(state)
	if err != nil {
		return 0, false, fmt.Errorf("selectaction: %w", err)
	}
	if len(values) != p.numActions {
		return 0, false, fmt.Errorf("selectaction: invalid number of "+
			"action values\n\twant(%v)\n\thave(%v)", p.numActions, len(values))
	}

	return Greedy(values), false, nil
}

// Greedy returns the action of maximum value, breaking ties by the
// lowest action index.
func Greedy(values []float64) action.Action {
	return action.Action(floats.MaxIdx(values))
}
