// Package valuefn implements action-value functions which map a state
// to one estimated return per action.
package valuefn

import (
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/samuelfneumann/gamelearn/initwfn"
	"github.com/samuelfneumann/gamelearn/network"
	"github.com/samuelfneumann/gamelearn/solver"
)

// ErrShapeMismatch is returned when a state, target, or serialized
// value function does not match the shape of a ValueFunction
var ErrShapeMismatch = errors.New("shape mismatch")

// ValueFunction maps a state to one value per action. A ValueFunction
// that is only read through Estimate may be shared between goroutines.
type ValueFunction interface {
	// Estimate returns one value per action for state
	Estimate(state []float64) ([]float64, error)

	// FitStep performs a single update moving Estimate(state) towards
	// target and returns the mean squared error before the update
	FitStep(state, target []float64) (float64, error)

	// Clone returns an independent deep copy
	Clone() (ValueFunction, error)

	StateSize() int
	Actions() int

	gob.GobEncoder
	gob.GobDecoder
}

// Kind determines the type of ValueFunction to construct
type Kind string

const (
	MLPKind    Kind = "mlp"
	LinearKind Kind = "linear"
)

// Config describes a ValueFunction
type Config struct {
	Kind     Kind
	Features int // Length of a flattened state
	Actions  int

	// MLP architecture. Hidden may be empty, in which case the network
	// is a single affine layer.
	Hidden     []int
	Activation string
	Init       initwfn.Config

	// Solver describes the optimizer of an MLP. The Linear value
	// function uses only its step size.
	Solver solver.Config
}

// Validate checks that a ValueFunction can be constructed from c
func (c Config) Validate() error {
	if c.Features < 1 {
		return fmt.Errorf("validate: state size must be positive"+
			"\n\twant(>0)\n\thave(%v): %w", c.Features, ErrShapeMismatch)
	}
	if c.Actions < 1 {
		return fmt.Errorf("validate: action count must be positive"+
			"\n\twant(>0)\n\thave(%v): %w", c.Actions, ErrShapeMismatch)
	}

	switch c.Kind {
	case MLPKind, LinearKind, "":
	default:
		return fmt.Errorf("validate: unknown value function kind %q", c.Kind)
	}

	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.Init.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if _, err := network.ParseActivation(c.Activation); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// New returns the ValueFunction described by c. The empty Kind is an
// MLP.
func New(c Config) (ValueFunction, error) {
	if c.Kind == LinearKind {
		return NewLinear(c)
	}
	return NewMLP(c)
}

// checkLen returns an error if a vector named name has length other
// than want
func checkLen(op, name string, want, have int) error {
	if want != have {
		return fmt.Errorf("%s: invalid %s size\n\twant(%v)\n\thave(%v): %w",
			op, name, want, have, ErrShapeMismatch)
	}
	return nil
}
