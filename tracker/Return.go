package tracker

import (
	"io"
	"sync"

	ts "github.com/samuelfneumann/gamelearn/timestep"
)

// Return tracks the episodic return of a session. When a session
// produces a TimeStep, this Tracker will extract the reward and
// accumulate the return for each episode.
//
// Note: An episode must finish for this Tracker to record its return.
// Return tracks a single session at a time.
type Return struct {
	mu             sync.Mutex
	currentReturn  float64
	episodeReturns []float64
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn() *Return {
	return &Return{}
}

// Track tracks the reward seen on a timestep. A First timestep starts a
// new episode and a Last timestep records the episode's return.
func (r *Return) Track(step ts.TimeStep) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if step.First() {
		r.currentReturn = 0
	}
	r.currentReturn += step.Reward

	if step.Last() {
		r.episodeReturns = append(r.episodeReturns, r.currentReturn)
		r.currentReturn = 0
	}
}

// Returns returns the return of each finished episode
func (r *Return) Returns() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64{}, r.episodeReturns...)
}

// Save saves the episode returns to w
func (r *Return) Save(w io.Writer) error {
	return SaveReturns(w, r.Returns())
}
