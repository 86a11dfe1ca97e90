// Package deepq implements the deep Q-learning update over a
// transition store.
package deepq

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/timestep"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

// Sampler is a store of transitions that can be sampled uniformly
type Sampler interface {
	Sample(n int) []timestep.Transition
	Len() int
}

// Config describes a Learner
type Config struct {
	Gamma    float64
	Schedule policy.Schedule
	Cadence  policy.Cadence
}

// Validate checks that c describes a valid Learner
func (c Config) Validate() error {
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in (0, 1]\n\thave(%v)",
			c.Gamma)
	}
	if !c.Cadence.Valid() {
		return fmt.Errorf("validate: unknown decay cadence %q", c.Cadence)
	}
	return nil
}

// Result describes the outcome of a single learning cycle
type Result struct {
	// Skipped is true when the store held fewer transitions than a
	// batch. Nothing else in the Result is set in that case.
	Skipped bool

	Samples int
	Loss    float64 // Mean loss over the batch

	// Epsilon is the exploration rate after the cycle
	Epsilon float64

	// ValueFunction is a snapshot of the trained value function which
	// the Learner will never mutate
	ValueFunction valuefn.ValueFunction
}

// Learner implements the Q-learning update using the MSE loss on a
// single value function:
//
//	Q(s, a) <- r + γ * max_a' Q(s', a')
//
// Transitions are replayed one at a time in the order sampled. A
// Learner owns its value function exclusively and must only be used
// from one goroutine at a time.
type Learner struct {
	vf     valuefn.ValueFunction
	replay Sampler

	gamma    float64
	schedule policy.Schedule
	cadence  policy.Cadence

	logger *slog.Logger
}

// New returns a new Learner training vf on transitions from replay
func New(vf valuefn.ValueFunction, replay Sampler, c Config,
	logger *slog.Logger) (*Learner, error) {
	if vf == nil || replay == nil {
		return nil, fmt.Errorf("new: value function and replay buffer " +
			"are required")
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	return &Learner{
		vf:       vf,
		replay:   replay,
		gamma:    c.Gamma,
		schedule: c.Schedule,
		cadence:  c.Cadence,
		logger:   logger,
	}, nil
}

// Target returns the Q-learning update target of a transition given
// the estimated action values of its next state. The next state values
// are ignored for terminal transitions.
func Target(reward float64, terminal bool, gamma float64,
	next []float64) float64 {
	if terminal {
		return reward
	}
	return reward + gamma*floats.Max(next)
}

// Learn runs one learning cycle over batchSize sampled transitions and
// returns the exploration rate that should follow epsilon. If fewer
// than batchSize transitions are stored, Learn does nothing.
func (l *Learner) Learn(ctx context.Context, batchSize int,
	epsilon float64) (Result, error) {
	if batchSize < 1 {
		return Result{}, fmt.Errorf("learn: batch size must be positive"+
			"\n\twant(>0)\n\thave(%v)", batchSize)
	}
	if l.replay.Len() < batchSize {
		return Result{Skipped: true}, nil
	}

	batch := l.replay.Sample(batchSize)

	var total float64
	for i, t := range batch {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("learn: interrupted after %d "+
				"samples: %w", i, err)
		}

		loss, err := l.step(t)
		if err != nil {
			return Result{}, fmt.Errorf("learn: %w", err)
		}
		total += loss
	}

	if l.cadence == policy.PerLearningCycle {
		epsilon = l.schedule.Next(epsilon)
	}

	snapshot, err := l.vf.Clone()
	if err != nil {
		return Result{}, fmt.Errorf("learn: could not snapshot value "+
			"function: %w", err)
	}

	result := Result{
		Samples:       len(batch),
		Loss:          total / float64(len(batch)),
		Epsilon:       epsilon,
		ValueFunction: snapshot,
	}
	l.logger.Debug("learning cycle complete", "samples", result.Samples,
		"loss", result.Loss, "epsilon", result.Epsilon)

	return result, nil
}

// step fits the value function to the target of a single transition.
// Only the value of the action taken is moved.
func (l *Learner) step(t timestep.Transition) (float64, error) {
	var next []float64
	if !t.Terminal {
		var err error
		if next, err = l.vf.Estimate(t.NextState); err != nil {
			return 0, fmt.Errorf("could not estimate next state: %w", err)
		}
	}
	target := Target(t.Reward, t.Terminal, l.gamma, next)

	values, err := l.vf.Estimate(t.State)
	if err != nil {
		return 0, fmt.Errorf("could not estimate state: %w", err)
	}
	if !t.Action.Valid(len(values)) {
		return 0, fmt.Errorf("invalid action %v\n\twant([0, %d))",
			t.Action, len(values))
	}
	values[t.Action] = target

	return l.vf.FitStep(t.State, values)
}

// ValueFunction returns the value function being trained. The caller
// must not use it concurrently with Learn.
func (l *Learner) ValueFunction() valuefn.ValueFunction {
	return l.vf
}
