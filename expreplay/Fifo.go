package expreplay

import (
	"fmt"
	"sync"

	"github.com/samuelfneumann/gamelearn/timestep"
)

// Fifo implements a concrete ExperienceReplayer where transitions are
// removed from the buffer in a FiFo manner, one at a time, once the
// buffer is full. Storage is a ring: pushing is O(1) and never
// allocates after the buffer fills.
//
// Fifo is safe for concurrent use. The interaction loop pushes while
// the learner samples.
type Fifo struct {
	mu sync.Mutex // Guards the following

	data  []timestep.Transition
	start int // Position of the oldest transition
	size  int

	// Outlines how data is sampled
	sampler Selector
}

// newFifo returns a new Fifo with the given capacity
func newFifo(capacity int, sampler Selector) *Fifo {
	return &Fifo{
		data:    make([]timestep.Transition, capacity),
		sampler: sampler,
	}
}

// String returns the string representation of the Fifo
func (c *Fifo) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fmt.Sprintf("Fifo | Size: %v  |  Capacity: %v", c.size,
		len(c.data))
}

// at returns the transition at logical position i, where position 0 is
// the oldest transition. The caller must hold c.mu.
func (c *Fifo) at(i int) timestep.Transition {
	return c.data[(c.start+i)%len(c.data)]
}

// Push adds a transition to the buffer. If the buffer is at capacity,
// the oldest transition is evicted.
func (c *Fifo) Push(t timestep.Transition) {
	t = t.Copy()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size < len(c.data) {
		c.data[(c.start+c.size)%len(c.data)] = t
		c.size++
		return
	}

	// Overwrite the oldest element and advance the front of the ring
	c.data[c.start] = t
	c.start = (c.start + 1) % len(c.data)
}

// Sample samples and returns min(n, Len()) distinct transitions from
// the buffer. Returned transitions are copies owned by the caller.
func (c *Fifo) Sample(n int) []timestep.Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	indices := c.sampler.choose(c.size, n)
	batch := make([]timestep.Transition, len(indices))
	for i, index := range indices {
		batch[i] = c.at(index).Copy()
	}
	return batch
}

// SampleErr samples exactly n transitions from the buffer or reports
// why it could not.
func (c *Fifo) SampleErr(n int) ([]timestep.Transition, error) {
	size := c.Len()
	if size == 0 {
		return nil, &ExpReplayError{Op: "sample", Err: errEmptyCache}
	}
	if size < n {
		return nil, &ExpReplayError{Op: "sample", Err: errInsufficientSamples}
	}

	// The buffer never shrinks, so n samples are still available
	return c.Sample(n), nil
}

// Contents returns copies of all stored transitions, oldest first
func (c *Fifo) Contents() []timestep.Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	contents := make([]timestep.Transition, c.size)
	for i := range contents {
		contents[i] = c.at(i).Copy()
	}
	return contents
}

// Len returns the current number of transitions in the buffer
func (c *Fifo) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Capacity returns the maximum number of transitions that are allowed
// in the buffer
func (c *Fifo) Capacity() int {
	return len(c.data)
}
