package expreplay

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Selector implements functionality for choosing which stored
// transitions are drawn from an experience replay buffer
type Selector interface {
	// choose selects min(n, size) distinct logical positions in
	// [0, size), where position 0 is the oldest stored transition.
	choose(size, n int) []int
}

// uniformSelector is a Selector which selects data from an experience
// replay buffer uniformly randomly without replacement
type uniformSelector struct {
	src rand.Source
}

// NewUniformSelector returns a new Selector which selects data uniformly
// randomly, without replacement, from an experience replay buffer
func NewUniformSelector(seed uint64) Selector {
	return &uniformSelector{src: rand.NewSource(seed)}
}

// choose selects a number of distinct positions at which to draw data
// from the buffer
func (u *uniformSelector) choose(size, n int) []int {
	if n > size {
		n = size
	}
	if n <= 0 {
		return []int{}
	}

	selected := make([]int, n)
	sampleuv.WithoutReplacement(selected, size, u.src)
	return selected
}

// newestSelector is a Selector which always selects the most recently
// added data. It is mostly useful to replay the live interaction order.
type newestSelector struct{}

// NewNewestSelector returns a Selector which draws the most recently
// added transitions from an experience replay buffer
func NewNewestSelector() Selector {
	return newestSelector{}
}

// choose selects the n newest positions, newest first
func (newestSelector) choose(size, n int) []int {
	if n > size {
		n = size
	}
	if n <= 0 {
		return []int{}
	}

	selected := make([]int, n)
	for i := range selected {
		selected[i] = size - 1 - i
	}
	return selected
}
