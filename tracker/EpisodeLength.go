package tracker

import (
	"io"
	"sync"

	"github.com/samuelfneumann/gamelearn/timestep"
)

// EpisodeLength tracks the lengths of episodes in a session.
// Note that an episode must finish for this Tracker to record its
// length.
type EpisodeLength struct {
	mu             sync.Mutex
	episodeLengths []int
}

// NewEpisodeLength returns a new EpisodeLength tracker
func NewEpisodeLength() *EpisodeLength {
	return &EpisodeLength{}
}

// Track caches the episode length if the timestep passed to it is the
// last timestep in the episode.
func (e *EpisodeLength) Track(t timestep.TimeStep) {
	if t.Last() {
		e.mu.Lock()
		e.episodeLengths = append(e.episodeLengths, t.Number)
		e.mu.Unlock()
	}
}

// Lengths returns the number of steps of each finished episode
func (e *EpisodeLength) Lengths() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int{}, e.episodeLengths...)
}

// Save saves the episode lengths to w
func (e *EpisodeLength) Save(w io.Writer) error {
	return save(w, e.Lengths())
}
