package agent

import (
	"fmt"

	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

// Config describes an Agent
type Config struct {
	StateShape  []int
	ActionCount int

	Gamma        float64
	Epsilon      float64 // Initial exploration rate
	EpsilonMin   float64
	EpsilonDecay float64
	Cadence      policy.Cadence
	LearningRate float64

	ReplayCapacity int
	BatchSize      int

	Seed uint64

	// ValueFunction describes the value function created when none is
	// given to New. Its shape and step size are taken from the Agent
	// Config.
	ValueFunction valuefn.Config
}

// StateSize returns the number of features in a flattened state
func (c Config) StateSize() int {
	size := 1
	for _, dim := range c.StateShape {
		size *= dim
	}
	return size
}

// Validate checks that c describes a valid Agent
func (c Config) Validate() error {
	if len(c.StateShape) == 0 {
		return fmt.Errorf("validate: state shape must have at least one " +
			"dimension")
	}
	for _, dim := range c.StateShape {
		if dim < 1 {
			return fmt.Errorf("validate: state dimensions must be positive"+
				"\n\thave(%v)", c.StateShape)
		}
	}
	if c.ActionCount < 1 {
		return fmt.Errorf("validate: action count must be positive"+
			"\n\twant(>0)\n\thave(%v)", c.ActionCount)
	}

	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in (0, 1]\n\thave(%v)",
			c.Gamma)
	}
	if c.EpsilonMin < 0 || c.EpsilonMin > 1 {
		return fmt.Errorf("validate: minimum epsilon must be in [0, 1]"+
			"\n\thave(%v)", c.EpsilonMin)
	}
	if c.Epsilon < c.EpsilonMin || c.Epsilon > 1 {
		return fmt.Errorf("validate: epsilon must be in [%v, 1]\n\thave(%v)",
			c.EpsilonMin, c.Epsilon)
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay >= 1 {
		return fmt.Errorf("validate: epsilon decay must be in (0, 1)"+
			"\n\thave(%v)", c.EpsilonDecay)
	}
	if !c.Cadence.Valid() {
		return fmt.Errorf("validate: unknown decay cadence %q", c.Cadence)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("validate: learning rate must be positive"+
			"\n\thave(%v)", c.LearningRate)
	}

	if c.ReplayCapacity < 1 {
		return fmt.Errorf("validate: replay capacity must be positive"+
			"\n\thave(%v)", c.ReplayCapacity)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive"+
			"\n\thave(%v)", c.BatchSize)
	}
	return nil
}

// valueFunction returns the Config of the value function described by c
func (c Config) valueFunction() valuefn.Config {
	vf := c.ValueFunction
	vf.Features = c.StateSize()
	vf.Actions = c.ActionCount
	vf.Solver.StepSize = c.LearningRate
	return vf
}
