// Package agent implements a deep Q-learning agent whose value
// function can be read by many interaction loops while a single
// background learner trains it.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/deepq"
	"github.com/samuelfneumann/gamelearn/expreplay"
	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/timestep"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

// Snapshot is the part of an Agent's state that a single interaction
// step reads. Once captured, a Snapshot never changes.
type Snapshot struct {
	ValueFunction valuefn.ValueFunction
	Epsilon       float64
}

// published wraps a value function so it can be stored atomically
type published struct {
	vf valuefn.ValueFunction
}

// Agent aggregates the transition store, the ε-greedy policy, and the
// learner of a deep Q-learning agent.
//
// The learner trains its own value function. A copy of it is published
// after every learning cycle, and action selection only ever reads the
// published copy. The exploration rate is stored atomically and only
// decreases.
type Agent struct {
	stateSize int
	actions   int
	batchSize int

	policy   *policy.EGreedy
	schedule policy.Schedule
	cadence  policy.Cadence

	replay  *expreplay.Fifo
	learner *deepq.Learner

	current atomic.Pointer[published]
	epsilon atomic.Uint64 // math.Float64bits of ε

	logger *slog.Logger
}

// New creates a new Agent. If vf is nil, a new value function is
// created from c. Otherwise vf is trained by the Agent and must match
// the state size and action count of c.
func New(c Config, vf valuefn.ValueFunction, logger *slog.Logger) (*Agent,
	error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	var err error
	if vf == nil {
		if vf, err = valuefn.New(c.valueFunction()); err != nil {
			return nil, fmt.Errorf("new: could not create value "+
				"function: %w", err)
		}
	}
	if vf.StateSize() != c.StateSize() || vf.Actions() != c.ActionCount {
		return nil, fmt.Errorf("new: value function shape does not match "+
			"configuration\n\twant(%v -> %v)\n\thave(%v -> %v): %w",
			c.StateSize(), c.ActionCount, vf.StateSize(), vf.Actions(),
			valuefn.ErrShapeMismatch)
	}

	p, err := policy.NewEGreedy(c.ActionCount, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	schedule, err := policy.NewSchedule(c.EpsilonMin, c.EpsilonDecay)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	replay, err := expreplay.Config{
		Capacity: c.ReplayCapacity,
		Seed:     c.Seed,
	}.Create()
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	learner, err := deepq.New(vf, replay, deepq.Config{
		Gamma:    c.Gamma,
		Schedule: schedule,
		Cadence:  c.Cadence,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	snapshot, err := vf.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not publish value function: %w",
			err)
	}

	a := &Agent{
		stateSize: c.StateSize(),
		actions:   c.ActionCount,
		batchSize: c.BatchSize,
		policy:    p,
		schedule:  schedule,
		cadence:   c.Cadence,
		replay:    replay,
		learner:   learner,
		logger:    logger,
	}
	a.current.Store(&published{vf: snapshot})
	a.epsilon.Store(math.Float64bits(c.Epsilon))

	return a, nil
}

// StateSize returns the number of features in a flattened state
func (a *Agent) StateSize() int {
	return a.stateSize
}

// Snapshot returns the currently published value function and ε
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		ValueFunction: a.current.Load().vf,
		Epsilon:       a.Epsilon(),
	}
}

// SelectAction selects an action in state using the ε-greedy policy
// over snap. In evaluation mode ε is taken to be 0 and the Agent is
// not modified. The returned boolean reports whether the action was
// exploratory.
func (a *Agent) SelectAction(snap Snapshot, state []float64,
	eval bool) (action.Action, bool, error) {
	epsilon := snap.Epsilon
	if eval {
		epsilon = 0
	}

	act, explored, err := a.policy.SelectAction(snap.ValueFunction, state,
		epsilon)
	if err != nil {
		return 0, false, fmt.Errorf("selectaction: %w", err)
	}
	return act, explored, nil
}

// Remember adds a transition to the transition store
func (a *Agent) Remember(t timestep.Transition) error {
	if len(t.State) != a.stateSize || len(t.NextState) != a.stateSize {
		return fmt.Errorf("remember: invalid state size\n\twant(%v)"+
			"\n\thave(%v, %v): %w", a.stateSize, len(t.State),
			len(t.NextState), valuefn.ErrShapeMismatch)
	}
	if !t.Action.Valid(a.actions) {
		return fmt.Errorf("remember: invalid action %v\n\twant([0, %v))",
			t.Action, a.actions)
	}

	a.replay.Push(t)
	return nil
}

// Epsilon returns the current exploration rate
func (a *Agent) Epsilon() float64 {
	return math.Float64frombits(a.epsilon.Load())
}

// Cadence returns when the Agent's exploration rate is decayed
func (a *Agent) Cadence() policy.Cadence {
	return a.cadence
}

// DecayEpsilon decays the exploration rate once and returns the new
// rate
func (a *Agent) DecayEpsilon() float64 {
	for {
		bits := a.epsilon.Load()
		next := a.schedule.Next(math.Float64frombits(bits))
		if a.epsilon.CompareAndSwap(bits, math.Float64bits(next)) {
			return next
		}
	}
}

// adoptEpsilon sets the exploration rate to epsilon unless the current
// rate is already lower
func (a *Agent) adoptEpsilon(epsilon float64) {
	for {
		bits := a.epsilon.Load()
		if epsilon >= math.Float64frombits(bits) {
			return
		}
		if a.epsilon.CompareAndSwap(bits, math.Float64bits(epsilon)) {
			return
		}
	}
}

// Learn runs a single learning cycle over a batch from the transition
// store. Learn must not be called concurrently with itself.
func (a *Agent) Learn(ctx context.Context) (deepq.Result, error) {
	return a.learner.Learn(ctx, a.batchSize, a.Epsilon())
}

// Publish makes the value function and exploration rate of a learning
// cycle visible to subsequent Snapshots. Skipped cycles are ignored.
func (a *Agent) Publish(r deepq.Result) {
	if r.Skipped || r.ValueFunction == nil {
		return
	}

	a.current.Store(&published{vf: r.ValueFunction})
	a.adoptEpsilon(r.Epsilon)
}

// Store returns the Agent's transition store
func (a *Agent) Store() *expreplay.Fifo {
	return a.replay
}

// ReplaySize returns the number of transitions in the transition store
func (a *Agent) ReplaySize() int {
	return a.replay.Len()
}

// ValueFunction returns the currently published value function
func (a *Agent) ValueFunction() valuefn.ValueFunction {
	return a.current.Load().vf
}
