package policy

import (
	"fmt"
	"math"
)

// Cadence determines when the exploration rate is decayed
type Cadence string

const (
	// PerLearningCycle decays ε once after each learning cycle
	PerLearningCycle Cadence = "per_learning_cycle"

	// PerEpisode decays ε once at the end of each episode
	PerEpisode Cadence = "per_episode"
)

// Valid returns whether c is a known Cadence
func (c Cadence) Valid() bool {
	return c == PerLearningCycle || c == PerEpisode
}

// Schedule implements multiplicative ε decay with a floor:
//
//	ε' = max(Min, ε * Decay)
type Schedule struct {
	Min   float64
	Decay float64
}

// NewSchedule returns a new decay Schedule
func NewSchedule(min, decay float64) (Schedule, error) {
	if min < 0 || min > 1 {
		return Schedule{}, fmt.Errorf("newschedule: minimum epsilon must be "+
			"in [0, 1]\n\thave(%v)", min)
	}
	if decay <= 0 || decay >= 1 {
		return Schedule{}, fmt.Errorf("newschedule: decay must be in (0, 1)"+
			"\n\thave(%v)", decay)
	}
	return Schedule{Min: min, Decay: decay}, nil
}

// Next returns ε after a single decay
func (s Schedule) Next(epsilon float64) float64 {
	return math.Max(s.Min, epsilon*s.Decay)
}

// After returns ε after k decays starting from e0
func (s Schedule) After(e0 float64, k int) float64 {
	return math.Max(s.Min, e0*math.Pow(s.Decay, float64(k)))
}
