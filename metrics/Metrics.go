// Package metrics exposes Prometheus metrics describing the agent's
// interaction with games and its learning progress.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gamelearn"

// Metrics holds the collectors of a single agent process. All methods
// are safe to call on a nil *Metrics, in which case they do nothing.
type Metrics struct {
	episodes          *prometheus.CounterVec
	steps             prometheus.Counter
	protocolErrors    prometheus.Counter
	transportFailures prometheus.Counter
	learnCycles       *prometheus.CounterVec
	checkpointErrors  *prometheus.CounterVec

	epsilon        prometheus.Gauge
	replaySize     prometheus.Gauge
	activeSessions prometheus.Gauge

	episodeReward *prometheus.HistogramVec
	learnDuration prometheus.Histogram
}

// New creates the agent's collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		episodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Episodes completed, by mode",
		}, []string{"mode"}),
		steps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Actions sent to a game",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed messages received from a game",
		}),
		transportFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Disconnects and response timeouts",
		}),
		learnCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learn_cycles_total",
			Help:      "Learning cycles, by outcome",
		}, []string{"outcome"}),
		checkpointErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_errors_total",
			Help:      "Failed checkpoint operations, by operation",
		}, []string{"op"}),
		epsilon: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epsilon",
			Help:      "Current exploration rate",
		}),
		replaySize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_size",
			Help:      "Transitions held by the replay buffer",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Games currently connected",
		}),
		episodeReward: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_reward",
			Help:      "Total reward of completed episodes",
			Buckets:   []float64{-100, -10, -1, 0, 1, 10, 100, 1000, 10000},
		}, []string{"mode"}),
		learnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "learn_duration_seconds",
			Help:      "Duration of learning cycles that ran",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

func mode(eval bool) string {
	if eval {
		return "eval"
	}
	return "train"
}

// EpisodeEnded records a completed episode and its total reward
func (m *Metrics) EpisodeEnded(eval bool, reward float64) {
	if m == nil {
		return
	}
	m.episodes.WithLabelValues(mode(eval)).Inc()
	m.episodeReward.WithLabelValues(mode(eval)).Observe(reward)
}

// Step records a single action sent to a game
func (m *Metrics) Step() {
	if m == nil {
		return
	}
	m.steps.Inc()
}

// ProtocolError records a malformed message
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// TransportFailure records a disconnect or response timeout
func (m *Metrics) TransportFailure() {
	if m == nil {
		return
	}
	m.transportFailures.Inc()
}

// LearnCycle records the outcome of a learning cycle
func (m *Metrics) LearnCycle(skipped bool, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	switch {
	case failed:
		m.learnCycles.WithLabelValues("failed").Inc()
	case skipped:
		m.learnCycles.WithLabelValues("skipped").Inc()
	default:
		m.learnCycles.WithLabelValues("ran").Inc()
		m.learnDuration.Observe(d.Seconds())
	}
}

// CheckpointError records a failed checkpoint save or load
func (m *Metrics) CheckpointError(op string) {
	if m == nil {
		return
	}
	m.checkpointErrors.WithLabelValues(op).Inc()
}

// SetEpsilon records the current exploration rate
func (m *Metrics) SetEpsilon(epsilon float64) {
	if m == nil {
		return
	}
	m.epsilon.Set(epsilon)
}

// SetReplaySize records the number of stored transitions
func (m *Metrics) SetReplaySize(n int) {
	if m == nil {
		return
	}
	m.replaySize.Set(float64(n))
}

// SessionStarted records a newly connected game
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded records a disconnected game
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
