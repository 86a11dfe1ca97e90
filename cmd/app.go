package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samuelfneumann/gamelearn/agent"
	"github.com/samuelfneumann/gamelearn/checkpoint"
	"github.com/samuelfneumann/gamelearn/config"
	"github.com/samuelfneumann/gamelearn/metrics"
	"github.com/samuelfneumann/gamelearn/scheduler"
	"github.com/samuelfneumann/gamelearn/session"
	"github.com/samuelfneumann/gamelearn/tracker"
	"github.com/samuelfneumann/gamelearn/transport"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

const saveTimeout = 30 * time.Second

// app holds the state shared by every session of a process: the agent,
// its learning scheduler and checkpoint store
type app struct {
	cfg    config.Config
	eval   bool
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store     checkpoint.Store
	agent     *agent.Agent
	scheduler *scheduler.Scheduler // nil in evaluation mode
	budget    *session.Budget      // nil unless the budget is global

	sessions atomic.Int64
}

// newApp builds the agent from its checkpoint, or from scratch if there
// is none, and starts learning unless eval is true
func newApp(ctx context.Context, cfg config.Config, eval bool,
	logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		eval:     eval,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.registry)

	store, err := checkpoint.Open(cfg.Checkpoint, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	vf, err := a.restore(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	a.agent, err = agent.New(cfg.Agent(), vf, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.metrics.SetEpsilon(a.agent.Epsilon())

	if cfg.EpisodeScope == session.Global {
		if a.budget, err = session.NewBudget(cfg.Episodes); err != nil {
			store.Close()
			return nil, err
		}
	}

	if !eval {
		a.scheduler, err = scheduler.New(cfg.Scheduler(), a.agent, store,
			a.metrics, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.scheduler.Start(ctx)
	}
	return a, nil
}

// restore returns the checkpointed value function. If there is none, or
// it cannot be read, a fresh value function is returned. A checkpoint of
// a model with another shape is an error, so that it is not overwritten.
func (a *app) restore(ctx context.Context) (valuefn.ValueFunction, error) {
	vfConfig := a.cfg.Agent().ValueFunction
	vf, err := valuefn.New(vfConfig)
	if err != nil {
		return nil, err
	}

	ok, err := a.store.Load(ctx, vf)
	switch {
	case errors.Is(err, valuefn.ErrShapeMismatch):
		a.metrics.CheckpointError("load")
		return nil, fmt.Errorf("restore: checkpoint does not match the "+
			"configured model: %w", err)

	case err != nil:
		a.metrics.CheckpointError("load")
		a.logger.Warn("could not load checkpoint, starting from scratch",
			"error", err)
		return valuefn.New(vfConfig)

	case !ok:
		if a.eval {
			a.logger.Warn("no checkpoint found, evaluating an untrained model")
		} else {
			a.logger.Info("no checkpoint found, starting from scratch")
		}

	default:
		a.logger.Info("loaded model from checkpoint")
	}
	return vf, nil
}

// newSession returns a new session playing the game at the end of t
func (a *app) newSession(id string, t transport.Transport,
	trackers ...tracker.Tracker) (*session.Session, error) {
	budget := a.budget
	if budget == nil {
		var err error
		if budget, err = session.NewBudget(a.cfg.Episodes); err != nil {
			return nil, err
		}
	}
	opts := a.cfg.Session(a.eval, budget)
	opts.Trackers = trackers

	// A nil scheduler must not become a non-nil interface
	var learning session.Learning
	if a.scheduler != nil {
		learning = a.scheduler
	}
	return session.New(id, a.agent, t, learning, opts, a.metrics, a.logger)
}

// play runs a session until it ends
func (a *app) play(ctx context.Context, id string,
	t transport.Transport, trackers ...tracker.Tracker) error {
	s, err := a.newSession(id, t, trackers...)
	if err != nil {
		return err
	}

	a.sessions.Add(1)
	a.metrics.SessionStarted()
	defer func() {
		a.sessions.Add(-1)
		a.metrics.SessionEnded()
	}()

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("session %v: %w", id, err)
	}
	return nil
}

// exhausted returns whether every episode of the global budget has
// ended. Claimed episodes still being played do not count.
func (a *app) exhausted() bool {
	return a.budget != nil && a.budget.Completed() >= a.budget.Total()
}

// serveHandler returns the handler of games connecting to the server.
// shutdown is called once the global episode budget is exhausted.
func (a *app) serveHandler(shutdown func()) transport.Handler {
	return func(ctx context.Context, id string, t transport.Transport) {
		err := a.play(ctx, id, t)
		switch {
		case err == nil:
		case transport.IsFailure(err), errors.Is(err, context.Canceled):
			a.logger.Info("session ended", "session", id, "error", err)
		default:
			a.logger.Error("session failed", "session", id, "error", err)
		}

		if a.exhausted() {
			a.logger.Info("episode budget exhausted, shutting down")
			shutdown()
		}
	}
}

// health describes the agent for the health endpoint
func (a *app) health() map[string]any {
	h := map[string]any{
		"epsilon":     a.agent.Epsilon(),
		"replay_size": a.agent.ReplaySize(),
		"sessions":    a.sessions.Load(),
		"eval":        a.eval,
	}
	if a.budget != nil {
		h["episodes_remaining"] = a.budget.Remaining()
		h["episodes_completed"] = a.budget.Completed()
	}
	if a.scheduler != nil {
		h["learning_cycles"] = a.scheduler.Cycles()
	}
	return h
}

// close stops learning and persists the agent's value function. The
// model is saved even if ctx has been cancelled.
func (a *app) close(ctx context.Context) error {
	defer a.store.Close()
	if a.scheduler == nil {
		return nil
	}
	a.scheduler.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
		saveTimeout)
	defer cancel()

	if err := a.store.Save(ctx, a.agent.ValueFunction()); err != nil {
		a.metrics.CheckpointError("save")
		return fmt.Errorf("close: could not save model: %w", err)
	}
	a.logger.Info("saved model")
	return nil
}
