// Package expreplay implements the bounded experience replay buffer the
// agent learns from.
package expreplay

import (
	"fmt"

	"github.com/samuelfneumann/gamelearn/timestep"
)

// ExperienceReplayer implements an experience replay buffer
type ExperienceReplayer interface {
	// Push adds a transition to the buffer, evicting the oldest
	// transition if the buffer is full
	Push(t timestep.Transition)

	// Sample returns min(n, Len()) distinct transitions from the buffer.
	// An empty buffer returns an empty slice.
	Sample(n int) []timestep.Transition

	// Len returns the current number of transitions in the buffer
	Len() int

	// Capacity returns the maximum number of transitions in the buffer
	Capacity() int
}

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	Capacity int
	Seed     uint64
}

// Create creates and returns the replay buffer with the specified
// Config and a uniform sampler.
func (c Config) Create() (*Fifo, error) {
	return New(c.Capacity, NewUniformSelector(c.Seed))
}

// New creates and returns a new FIFO replay buffer holding at most
// capacity transitions. The sampler determines which transitions are
// drawn by Sample().
func New(capacity int, sampler Selector) (*Fifo, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("new: capacity must be >= 1\n\twant(>0)"+
			"\n\thave(%v)", capacity)
	}
	if sampler == nil {
		return nil, fmt.Errorf("new: sampler must not be nil")
	}

	return newFifo(capacity, sampler), nil
}
