// Package solver describes Gorgonia Solvers in a form that can be read
// from YAML configuration files.
package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "adam"
	Vanilla Type = "vanilla"
	RMSProp Type = "rmsprop"
)

// Config describes a Gorgonia Solver. Fields which do not apply to
// the configured Type are ignored. Zero-valued hyperparameters are
// replaced with their defaults on Create.
type Config struct {
	Type     Type    `yaml:"type" validate:"omitempty,oneof=adam vanilla rmsprop"`
	StepSize float64 `yaml:"step_size" validate:"gt=0"`
	Epsilon  float64 `yaml:"epsilon" validate:"gte=0"`
	Beta1    float64 `yaml:"beta1" validate:"gte=0,lt=1"`
	Beta2    float64 `yaml:"beta2" validate:"gte=0,lt=1"`
	Rho      float64 `yaml:"rho" validate:"gte=0,lt=1"`
	Clip     float64 `yaml:"clip"` // <= 0 if no clipping
}

// NewDefault returns the configuration of an Adam solver with the
// given step size and default hyperparameters
func NewDefault(stepSize float64) Config {
	return Config{Type: Adam, StepSize: stepSize}
}

// Validate checks that c describes a solver which can be created
func (c Config) Validate() error {
	switch c.Type {
	case Adam, Vanilla, RMSProp, "":
	default:
		return fmt.Errorf("validate: unknown solver type %q", c.Type)
	}

	if c.StepSize <= 0 {
		return fmt.Errorf("validate: step size must be positive"+
			"\n\twant(>0)\n\thave(%v)", c.StepSize)
	}
	return nil
}

// Create returns a new Gorgonia Solver as described by the Config.
// Updates are always applied one sample at a time.
func (c Config) Create() (G.Solver, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	switch c.Type {
	case Vanilla:
		return c.vanilla(), nil

	case RMSProp:
		return c.rmsprop(), nil

	default:
		return c.adam(), nil
	}
}

// opts returns the options shared by every solver type
func (c Config) opts() []G.SolverOpt {
	opts := []G.SolverOpt{
		G.WithLearnRate(c.StepSize),
		G.WithBatchSize(1),
	}
	if c.Clip > 0 {
		opts = append(opts, G.WithClip(c.Clip))
	}
	return opts
}

// orDefault returns v if it is non-zero and def otherwise
func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
