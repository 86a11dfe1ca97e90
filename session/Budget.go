package session

import (
	"fmt"
	"sync"
)

// Scope determines which sessions share an episode Budget
type Scope string

const (
	// Global shares one Budget between every session of a process
	Global Scope = "global"

	// PerConnection gives each session its own Budget
	PerConnection Scope = "connection"
)

// Valid returns whether s is a known Scope
func (s Scope) Valid() bool {
	return s == Global || s == PerConnection
}

// Budget counts the episodes that may still be started. Budget is safe
// for concurrent use.
type Budget struct {
	total int

	mu        sync.Mutex
	claimed   int
	completed int
}

// NewBudget returns a Budget of total episodes
func NewBudget(total int) (*Budget, error) {
	if total < 1 {
		return nil, fmt.Errorf("newbudget: episode budget must be positive"+
			"\n\twant(>0)\n\thave(%v)", total)
	}
	return &Budget{total: total}, nil
}

// Claim claims the next episode. It returns the 1-based index of the
// claimed episode, or false once the budget is exhausted.
func (b *Budget) Claim() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.claimed >= b.total {
		return 0, false
	}
	b.claimed++
	return b.claimed, true
}

// Complete records that a claimed episode has ended, however it ended
func (b *Budget) Complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
}

// Remaining returns the number of episodes which may still be claimed
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.claimed
}

// Completed returns the number of finished episodes
func (b *Budget) Completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// Total returns the size of the budget
func (b *Budget) Total() int {
	return b.total
}
