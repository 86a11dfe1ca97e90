package scheduler

import (
	"context"
	"encoding/gob"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/agent"
	"github.com/samuelfneumann/gamelearn/checkpoint"
	"github.com/samuelfneumann/gamelearn/deepq"
	"github.com/samuelfneumann/gamelearn/logging"
	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/timestep"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

// blocking is an Agent whose learning cycles wait for permission
type blocking struct {
	mu        sync.Mutex
	learned   int
	published int
	release   chan struct{}
	err       error

	// Cycles, counted from 1, whose result is skipped
	skip map[int]bool
}

func newBlocking() *blocking {
	return &blocking{release: make(chan struct{})}
}

func (b *blocking) Learn(ctx context.Context) (deepq.Result, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return deepq.Result{}, ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.learned++
	return deepq.Result{Samples: 1, Skipped: b.skip[b.learned]}, b.err
}

// saves counts checkpoints
type saves struct {
	checkpoint.Nop
	mu sync.Mutex
	n  int
}

func (s *saves) Save(context.Context, gob.GobEncoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func (s *saves) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (b *blocking) Publish(deepq.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published++
}

func (b *blocking) Epsilon() float64 { return 1 }
func (b *blocking) ReplaySize() int  { return 0 }

func (b *blocking) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.learned, b.published
}

func newScheduler(t *testing.T, c Config, a Agent,
	store checkpoint.Store) *Scheduler {
	t.Helper()
	s, err := New(c, a, store, nil, logging.NewNop())
	require.NoError(t, err)
	s.Start(context.Background())
	t.Cleanup(func() { s.Close() })
	return s
}

func waitCycles(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Cycles() >= n && !s.InFlight() },
		5*time.Second, time.Millisecond)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Interval: 0}, newBlocking(), nil, nil,
		logging.NewNop())
	assert.Error(t, err)
	_, err = New(Config{Interval: 1, Unit: "hours"}, newBlocking(), nil,
		nil, logging.NewNop())
	assert.Error(t, err)
	_, err = New(Config{Interval: 1, CheckpointEvery: -1}, newBlocking(),
		nil, nil, logging.NewNop())
	assert.Error(t, err)
}

func TestDispatchesEveryInterval(t *testing.T) {
	a := newBlocking()
	close(a.release)
	s := newScheduler(t, Config{Interval: 3}, a, nil)

	s.Tick()
	s.Tick()
	assert.False(t, s.InFlight())
	s.Tick()
	waitCycles(t, s, 1)

	for i := 0; i < 6; i++ {
		s.Tick()
		waitCycles(t, s, 1+(i+1)/3)
	}
	learned, published := a.counts()
	assert.Equal(t, 3, learned)
	assert.Equal(t, 3, published)

	s.EndEpisode()
	s.EndEpisode()
	s.EndEpisode()
	assert.Equal(t, 3, s.Cycles(), "episodes are not counted in steps")
}

func TestTickNeverBlocksWhileLearning(t *testing.T) {
	a := newBlocking()
	s := newScheduler(t, Config{Interval: 1}, a, nil)

	s.Tick()
	require.True(t, s.InFlight())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Tick()
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Tick blocked on an in-flight cycle")
	}

	a.release <- struct{}{}
	waitCycles(t, s, 1)

	// The deferred cycle is dispatched by the next tick
	s.Tick()
	assert.True(t, s.InFlight())
	a.release <- struct{}{}
	waitCycles(t, s, 2)

	learned, _ := a.counts()
	assert.Equal(t, 2, learned, "at most one cycle in flight")
}

func TestEpisodeUnit(t *testing.T) {
	a := newBlocking()
	close(a.release)
	s := newScheduler(t, Config{Interval: 2, Unit: Episodes}, a, nil)

	for i := 0; i < 10; i++ {
		s.Tick()
	}
	assert.False(t, s.InFlight())

	s.EndEpisode()
	s.EndEpisode()
	waitCycles(t, s, 1)
}

func TestFailedCycleIsNotPublished(t *testing.T) {
	a := newBlocking()
	a.err = errors.New("boom")
	close(a.release)
	s := newScheduler(t, Config{Interval: 1}, a, nil)

	s.Tick()
	waitCycles(t, s, 1)
	learned, published := a.counts()
	assert.Equal(t, 1, learned)
	assert.Zero(t, published)
}

func TestCheckpointsCountPublishedCycles(t *testing.T) {
	a := newBlocking()
	a.skip = map[int]bool{2: true, 4: true}
	close(a.release)
	store := &saves{}
	s := newScheduler(t, Config{Interval: 1, CheckpointEvery: 2}, a, store)

	for i := 1; i <= 6; i++ {
		s.Tick()
		waitCycles(t, s, i)
	}

	_, published := a.counts()
	assert.Equal(t, 4, published)
	assert.Equal(t, 2, store.count(), "every second published cycle")
}

func TestCloseCancelsCycle(t *testing.T) {
	a := newBlocking()
	s, err := New(Config{Interval: 1}, a, nil, nil, logging.NewNop())
	require.NoError(t, err)
	s.Start(context.Background())
	s.Tick()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Close()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the in-flight cycle")
	}
}

func TestLearnsPublishesAndCheckpointsAgent(t *testing.T) {
	a, err := agent.New(agent.Config{
		StateShape:     []int{2},
		ActionCount:    action.DefaultCount,
		Gamma:          0.9,
		Epsilon:        1,
		EpsilonMin:     0.1,
		EpsilonDecay:   0.5,
		Cadence:        policy.PerLearningCycle,
		LearningRate:   0.1,
		ReplayCapacity: 10,
		BatchSize:      2,
		Seed:           1,
		ValueFunction:  valuefn.Config{Kind: valuefn.LinearKind},
	}, nil, logging.NewNop())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model")
	store := checkpoint.NewFile(path)
	s := newScheduler(t, Config{Interval: 1}, a, store)

	// Too few transitions for a batch
	require.NoError(t, a.Remember(timestep.NewTransition([]float64{1, 0},
		action.Right, 1, []float64{0, 1}, true)))
	s.Tick()
	waitCycles(t, s, 1)
	assert.Equal(t, 1.0, a.Epsilon())

	require.NoError(t, a.Remember(timestep.NewTransition([]float64{0, 1},
		action.Jump, 1, []float64{1, 1}, true)))
	s.Tick()
	waitCycles(t, s, 2)
	assert.Equal(t, 0.5, a.Epsilon())

	into, err := a.ValueFunction().Clone()
	require.NoError(t, err)
	ok, err := store.Load(context.Background(), into)
	require.NoError(t, err)
	require.True(t, ok)

	want, err := a.ValueFunction().Estimate([]float64{1, 0})
	require.NoError(t, err)
	have, err := into.Estimate([]float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, want, have)
	assert.NotEqual(t, []float64{0, 0, 0, 0}, have)
}
