// Package initwfn describes Gorgonia weight initializers in a form that
// can be read from YAML configuration files.
package initwfn

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of InitWFn that are available
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "glorot_uniform"
	GlorotN  Type = "glorot_normal"
	HeU      Type = "he_uniform"
	HeN      Type = "he_normal"
	Zeroes   Type = "zeroes"
	Ones     Type = "ones"
	Constant Type = "constant"
)

// Config describes a Gorgonia weight initializer. Gain applies to the
// Glorot and He initializers and defaults to 1. Value applies only to
// the Constant initializer.
type Config struct {
	Type  Type    `yaml:"type"`
	Gain  float64 `yaml:"gain"`
	Value float64 `yaml:"value"`
}

// Validate checks that c describes a known initializer
func (c Config) Validate() error {
	switch c.Type {
	case GlorotU, GlorotN, HeU, HeN, Zeroes, Ones, Constant, "":
		return nil
	}
	return fmt.Errorf("validate: unknown weight initializer %q", c.Type)
}

// Create returns the Gorgonia InitWFn that the Config describes. The
// zero Config creates a Glorot uniform initializer.
func (c Config) Create() (G.InitWFn, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	switch c.Type {
	case GlorotN:
		return G.GlorotN(c.gain()), nil

	case HeU:
		return G.HeU(c.gain()), nil

	case HeN:
		return G.HeN(c.gain()), nil

	case Zeroes:
		return G.Zeroes(), nil

	case Ones:
		return G.Ones(), nil

	case Constant:
		return G.ValuesOf(c.Value), nil

	default:
		return G.GlorotU(c.gain()), nil
	}
}

func (c Config) gain() float64 {
	if c.Gain == 0 {
		return 1.0
	}
	return c.Gain
}

// String implements the fmt.Stringer interface
func (c Config) String() string {
	if c.Type == Constant {
		return fmt.Sprintf("{%v InitWFn: %v}", c.Type, c.Value)
	}
	return fmt.Sprintf("{%v InitWFn: gain=%v}", c.Type, c.gain())
}
