// Package session implements the episodic interaction between the
// agent and a single connected game.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/agent"
	"github.com/samuelfneumann/gamelearn/metrics"
	"github.com/samuelfneumann/gamelearn/policy"
	ts "github.com/samuelfneumann/gamelearn/timestep"
	"github.com/samuelfneumann/gamelearn/tracker"
	"github.com/samuelfneumann/gamelearn/transport"
)

// Agent is the part of an agent.Agent that a Session drives
type Agent interface {
	StateSize() int
	Snapshot() agent.Snapshot
	SelectAction(snap agent.Snapshot, state []float64,
		eval bool) (action.Action, bool, error)
	Remember(t ts.Transition) error
	Cadence() policy.Cadence
	DecayEpsilon() float64
}

// Learning is notified of progress so that it can trigger learning
type Learning interface {
	Tick()
	EndEpisode()
}

// Options configures a Session
type Options struct {
	MaxSteps int  // Steps after which an episode is ended
	Eval     bool // Act greedily and never learn

	// StepDelay is the minimum time between consecutive actions, 0
	// to act as fast as the game responds
	StepDelay time.Duration

	// StartCommand begins each episode, action.Reset by default
	StartCommand action.Control

	// Budget limits the number of episodes the Session runs. It may
	// be shared with other Sessions.
	Budget *Budget

	Trackers []tracker.Tracker
}

// Stats describes the progress of a Session's current episode
type Stats struct {
	State       State
	Episode     int
	Steps       int
	TotalReward float64
	Terminal    bool
}

// EpisodeResult describes a finished episode
type EpisodeResult struct {
	Episode     int
	Steps       int
	TotalReward float64

	// Done is true if the game ended the episode, either by reporting
	// done or because it failed to respond
	Done bool
}

// Session runs episodes against a single game over a Transport. Steps
// within a Session are strictly sequential: exactly one action is sent
// and one response consumed per step.
type Session struct {
	id        string
	agent     Agent
	transport transport.Transport
	learning  Learning // nil in evaluation mode
	opts      Options
	limit     StepLimit
	limiter   *rate.Limiter // nil if actions are not paced

	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New returns a new Session identified by id. The learning parameter
// may be nil, and is ignored in evaluation mode.
func New(id string, a Agent, t transport.Transport, learning Learning,
	opts Options, m *metrics.Metrics, logger *slog.Logger) (*Session,
	error) {
	if a == nil || t == nil {
		return nil, fmt.Errorf("new: agent and transport are required")
	}
	if opts.MaxSteps < 1 {
		return nil, fmt.Errorf("new: max steps must be positive"+
			"\n\twant(>0)\n\thave(%v)", opts.MaxSteps)
	}
	if opts.Budget == nil {
		return nil, fmt.Errorf("new: an episode budget is required")
	}
	if opts.StepDelay < 0 {
		return nil, fmt.Errorf("new: step delay must not be negative"+
			"\n\thave(%v)", opts.StepDelay)
	}
	if opts.StartCommand == "" {
		opts.StartCommand = action.Reset
	}
	if !opts.StartCommand.Valid() {
		return nil, fmt.Errorf("new: unknown start command %q",
			opts.StartCommand)
	}
	if opts.Eval {
		learning = nil
	}

	s := &Session{
		id:        id,
		agent:     a,
		transport: t,
		learning:  learning,
		opts:      opts,
		limit:     NewStepLimit(opts.MaxSteps),
		metrics:   m,
		logger:    logger.With("session", id),
	}
	if opts.StepDelay > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.StepDelay), 1)
	}
	return s, nil
}

// ID returns the identifier of the Session
func (s *Session) ID() string {
	return s.id
}

// State returns the current state of the Session
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.State
}

// Stats returns the progress of the current episode
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run runs episodes until the budget is exhausted, the transport fails,
// or ctx is cancelled. An episode ended by a protocol error does not
// end the Session. Running out of episodes is not an error.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		episode, ok := s.opts.Budget.Claim()
		if !ok {
			s.logger.Info("episode budget exhausted",
				"episodes", s.opts.Budget.Total())
			return nil
		}

		_, err := s.RunEpisode(ctx, episode)
		if err == nil {
			continue
		}
		if transport.IsProtocol(err) {
			s.logger.Warn("episode ended by protocol error", "episode",
				episode, "error", err)
			continue
		}
		return fmt.Errorf("run: %w", err)
	}
}

// RunEpisode runs a single episode with the given index, starting from
// AwaitingReset and ending in Terminated. An error is returned if the
// episode was ended by anything other than the game or the step limit.
// If the game sent a malformed message the error satisfies
// transport.IsProtocol, and if it disconnected or did not respond the
// error satisfies transport.IsFailure.
func (s *Session) RunEpisode(ctx context.Context, episode int) (
	EpisodeResult, error) {
	s.mu.Lock()
	s.stats = Stats{State: AwaitingReset, Episode: episode}
	s.mu.Unlock()

	// The episode counts as completed however it ends
	defer s.opts.Budget.Complete()

	result := EpisodeResult{Episode: episode}

	state, err := s.reset(ctx)
	if err != nil {
		return result, err
	}
	s.track(ts.New(ts.First, 0, state, 0))
	s.setState(Active)

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("runepisode: %w", err)
			}
		}

		// The step reads a single snapshot of the agent, so a learning
		// cycle published meanwhile does not affect it
		snap := s.agent.Snapshot()
		act, explored, err := s.agent.SelectAction(snap, state, s.opts.Eval)
		if err != nil {
			return result, fmt.Errorf("runepisode: %w", err)
		}

		err = s.transport.Send(ctx, transport.ActionMessage(act))
		if err != nil && transport.IsFailure(err) && ctx.Err() == nil {
			return result, s.abandon(&result, state, act, err)
		}
		if err != nil {
			return result, fmt.Errorf("runepisode: %w", err)
		}
		s.metrics.Step()

		next, reward, done, err := s.receiveStep(ctx, len(state))
		if err != nil && transport.IsFailure(err) && ctx.Err() == nil {
			return result, s.abandon(&result, state, act, err)
		}
		if err != nil {
			if transport.IsProtocol(err) {
				s.metrics.ProtocolError()
				s.finish(result)
			}
			return result, fmt.Errorf("runepisode: %w", err)
		}

		s.logger.Debug("step", "episode", episode, "step", result.Steps+1,
			"action", act, "explored", explored, "reward", reward,
			"epsilon", snap.Epsilon)

		last, err := s.step(&result, state, act, reward, next, done)
		if err != nil {
			return result, err
		}
		if last {
			s.finish(result)
			return result, nil
		}
		state = next
	}
}

// abandon ends the episode of a game which disconnected or stopped
// responding while act was in flight. The game is gone, so act ended
// the episode.
func (s *Session) abandon(result *EpisodeResult, state []float64,
	act action.Action, cause error) error {
	s.metrics.TransportFailure()
	s.logger.Warn("game failed to respond", "episode", result.Episode,
		"step", result.Steps+1, "error", cause)

	if _, err := s.step(result, state, act, 0, state, true); err != nil {
		return err
	}
	s.finish(*result)
	return fmt.Errorf("runepisode: %w", cause)
}

// reset begins an episode and returns its initial state
func (s *Session) reset(ctx context.Context) ([]float64, error) {
	err := s.transport.Send(ctx, transport.ControlMessage(s.opts.StartCommand))
	if err != nil {
		if transport.IsFailure(err) {
			s.metrics.TransportFailure()
		}
		return nil, fmt.Errorf("reset: %w", err)
	}

	obs, err := s.transport.Receive(ctx)
	if err == nil && len(obs.State) != s.agent.StateSize() {
		err = &transport.Error{Op: "reset", Err: fmt.Errorf("%w: invalid "+
			"state size\n\twant(%v)\n\thave(%v)", transport.ErrProtocol,
			s.agent.StateSize(), len(obs.State))}
	}
	if err != nil {
		switch {
		case transport.IsProtocol(err):
			s.metrics.ProtocolError()
		case transport.IsFailure(err):
			s.metrics.TransportFailure()
		}
		return nil, fmt.Errorf("reset: %w", err)
	}
	return obs.State, nil
}

// receiveStep receives the game's response to an action
func (s *Session) receiveStep(ctx context.Context, stateSize int) (
	[]float64, float64, bool, error) {
	obs, err := s.transport.Receive(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	if obs.Partial {
		return nil, 0, false, &transport.Error{Op: "step", Err: fmt.Errorf(
			"%w: response is missing reward or done", transport.ErrProtocol)}
	}
	if len(obs.State) != stateSize {
		return nil, 0, false, &transport.Error{Op: "step", Err: fmt.Errorf(
			"%w: invalid state size\n\twant(%v)\n\thave(%v)",
			transport.ErrProtocol, stateSize, len(obs.State))}
	}
	return obs.State, obs.Reward, obs.Done, nil
}

// step records a completed step of the episode and returns whether
// the episode has ended
func (s *Session) step(result *EpisodeResult, state []float64,
	act action.Action, reward float64, next []float64, done bool) (bool,
	error) {
	result.Steps++
	result.TotalReward += reward
	result.Done = done

	t := ts.New(ts.Mid, reward, next, result.Steps)
	if done {
		t.StepType = ts.Last
	}
	truncated := s.limit.End(&t)

	s.mu.Lock()
	s.stats.Steps = result.Steps
	s.stats.TotalReward = result.TotalReward
	s.stats.Terminal = done || truncated
	s.mu.Unlock()

	s.track(t)

	if s.opts.Eval {
		return t.Last(), nil
	}

	// A truncated episode does not make the transition terminal
	transition := ts.NewTransition(state, act, reward, next, done)
	if err := s.agent.Remember(transition); err != nil {
		return true, fmt.Errorf("step: %w", err)
	}
	if s.learning != nil {
		s.learning.Tick()
	}
	return t.Last(), nil
}

// finish moves the Session to Terminated and reports the episode
func (s *Session) finish(result EpisodeResult) {
	s.setState(Terminated)

	epsilon := s.agent.Snapshot().Epsilon
	if s.opts.Eval {
		epsilon = 0
	}
	s.logger.Info(fmt.Sprintf("Episode %d/%d", result.Episode,
		s.opts.Budget.Total()), "total_reward", result.TotalReward,
		"steps", result.Steps, "epsilon", epsilon)
	s.metrics.EpisodeEnded(s.opts.Eval, result.TotalReward)

	if s.opts.Eval {
		return
	}
	if s.learning != nil {
		s.learning.EndEpisode()
	}
	if s.agent.Cadence() == policy.PerEpisode {
		s.agent.DecayEpsilon()
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.State = state
}

func (s *Session) track(t ts.TimeStep) {
	for _, tr := range s.opts.Trackers {
		tr.Track(t)
	}
}
