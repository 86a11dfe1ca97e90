// Package scheduler triggers learning cycles in the background so that
// learning never stalls the interaction with a game.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samuelfneumann/gamelearn/checkpoint"
	"github.com/samuelfneumann/gamelearn/deepq"
	"github.com/samuelfneumann/gamelearn/metrics"
)

// Unit is what the Scheduler counts between learning cycles
type Unit string

const (
	Steps    Unit = "steps"
	Episodes Unit = "episodes"
)

// Valid returns whether u is a known Unit
func (u Unit) Valid() bool {
	return u == Steps || u == Episodes
}

// Agent is learned by the Scheduler's worker
type Agent interface {
	Learn(ctx context.Context) (deepq.Result, error)
	Publish(r deepq.Result)
	Epsilon() float64
	ReplaySize() int
}

// Config describes a Scheduler
type Config struct {
	// Interval is the number of Units between learning cycles
	Interval int
	Unit     Unit

	// CheckpointEvery is the number of published learning cycles
	// between checkpoints, 0 to checkpoint after every cycle
	CheckpointEvery int
}

// Scheduler counts steps or episodes and dispatches a learning cycle to
// a single background worker once Interval of them have passed. At most
// one learning cycle is in flight at any time. Tick and EndEpisode never
// block; a cycle that is due while another is in flight is deferred
// until that cycle finishes and the next Tick or EndEpisode.
type Scheduler struct {
	agent Agent
	store checkpoint.Store

	interval        int
	unit            Unit
	checkpointEvery int

	mu       sync.Mutex // Guards count
	count    int
	requests chan struct{}
	inFlight atomic.Bool
	cycles   atomic.Int64

	published int // Owned by the worker

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a new Scheduler which learns a and checkpoints the value
// function of each cycle to store
func New(c Config, a Agent, store checkpoint.Store, m *metrics.Metrics,
	logger *slog.Logger) (*Scheduler, error) {
	if c.Interval < 1 {
		return nil, fmt.Errorf("new: learning interval must be positive"+
			"\n\twant(>0)\n\thave(%v)", c.Interval)
	}
	if c.Unit == "" {
		c.Unit = Steps
	}
	if !c.Unit.Valid() {
		return nil, fmt.Errorf("new: unknown learning unit %q", c.Unit)
	}
	if c.CheckpointEvery < 0 {
		return nil, fmt.Errorf("new: checkpoint interval must not be "+
			"negative\n\thave(%v)", c.CheckpointEvery)
	}
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = 1
	}
	if store == nil {
		store = checkpoint.Nop{}
	}

	return &Scheduler{
		agent:           a,
		store:           store,
		interval:        c.Interval,
		unit:            c.Unit,
		checkpointEvery: c.CheckpointEvery,
		requests:        make(chan struct{}, 1),
		metrics:         m,
		logger:          logger,
	}, nil
}

// Start starts the background worker. The worker stops when ctx is
// cancelled or Close is called. Start may only be called once.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go s.work(ctx)
	})
}

// Close stops the background worker and waits for it to return. A
// learning cycle in progress is cancelled between samples.
func (s *Scheduler) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// Tick records a single step of interaction
func (s *Scheduler) Tick() {
	if s.unit == Steps {
		s.advance()
	}
}

// EndEpisode records the end of an episode
func (s *Scheduler) EndEpisode() {
	if s.unit == Episodes {
		s.advance()
	}
}

// InFlight returns whether a learning cycle is queued or running
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Cycles returns the number of learning cycles the worker has finished,
// including skipped and failed ones
func (s *Scheduler) Cycles() int {
	return int(s.cycles.Load())
}

func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count < s.interval {
		s.count++
	}
	if s.count < s.interval {
		return
	}

	if s.tryDispatch() {
		s.count = 0
	}
}

// tryDispatch requests a learning cycle unless one is in flight
func (s *Scheduler) tryDispatch() bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	select {
	case s.requests <- struct{}{}:
		return true
	default:
		s.inFlight.Store(false)
		return false
	}
}

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.requests:
			s.cycle(ctx)
			s.cycles.Add(1)
			s.inFlight.Store(false)
		}
	}
}

// cycle runs a single learning cycle, publishes its result into the
// agent and checkpoints the new value function
func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	r, err := s.agent.Learn(ctx)
	d := time.Since(start)

	s.metrics.SetReplaySize(s.agent.ReplaySize())
	if err != nil {
		s.metrics.LearnCycle(false, true, d)
		if ctx.Err() == nil {
			s.logger.Error("learning cycle failed", "error", err)
		}
		return
	}
	s.metrics.LearnCycle(r.Skipped, false, d)
	if r.Skipped {
		return
	}

	s.agent.Publish(r)
	epsilon := s.agent.Epsilon()
	s.metrics.SetEpsilon(epsilon)
	s.logger.Debug("learning cycle", "samples", r.Samples, "loss", r.Loss,
		"epsilon", epsilon, "duration", d)

	s.published++
	if s.published%s.checkpointEvery != 0 {
		return
	}
	if err := s.store.Save(ctx, r.ValueFunction); err != nil {
		s.metrics.CheckpointError("save")
		s.logger.Warn("could not checkpoint value function", "error", err)
	}
}
