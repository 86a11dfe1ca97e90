package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/agent"
	"github.com/samuelfneumann/gamelearn/logging"
	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/tracker"
	"github.com/samuelfneumann/gamelearn/transport"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

// reply is a scripted answer of a game
type reply struct {
	obs transport.Observation
	err error
}

// scripted is a Transport whose answers are produced by a function of
// the last message sent
type scripted struct {
	mu      sync.Mutex
	sent    []transport.Message
	respond func(m transport.Message, n int) reply

	// If set, fails the nth message sent
	failSend func(n int) error
}

func (s *scripted) Send(_ context.Context, m transport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	if s.failSend != nil {
		return s.failSend(len(s.sent))
	}
	return nil
}

func (s *scripted) Receive(ctx context.Context) (transport.Observation, error) {
	if err := ctx.Err(); err != nil {
		return transport.Observation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.respond(s.sent[len(s.sent)-1], len(s.sent))
	return r.obs, r.err
}

func (s *scripted) Close() error { return nil }

func (s *scripted) messages() []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Message(nil), s.sent...)
}

func state(v float64) []float64 { return []float64{v, -v} }

// endless never ends an episode and rewards every step with 1
func endless(m transport.Message, n int) reply {
	if m.IsControl() {
		return reply{obs: transport.Observation{State: state(0), Partial: true}}
	}
	return reply{obs: transport.Observation{State: state(float64(n)),
		Reward: 1}}
}

// counting counts learning notifications
type counting struct {
	mu       sync.Mutex
	ticks    int
	episodes int
}

func (c *counting) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
}

func (c *counting) EndEpisode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.episodes++
}

func newAgent(t *testing.T, cadence policy.Cadence) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		StateShape:     []int{2},
		ActionCount:    action.DefaultCount,
		Gamma:          0.95,
		Epsilon:        1,
		EpsilonMin:     0.01,
		EpsilonDecay:   0.5,
		Cadence:        cadence,
		LearningRate:   0.01,
		ReplayCapacity: 100,
		BatchSize:      4,
		Seed:           5,
		ValueFunction:  valuefn.Config{Kind: valuefn.LinearKind},
	}, nil, logging.NewNop())
	require.NoError(t, err)
	return a
}

func newSession(t *testing.T, a Agent, game transport.Transport,
	learning Learning, opts Options) *Session {
	t.Helper()
	if opts.Budget == nil {
		b, err := NewBudget(1)
		require.NoError(t, err)
		opts.Budget = b
	}
	s, err := New("test", a, game, learning, opts, nil, logging.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: endless}
	b, err := NewBudget(1)
	require.NoError(t, err)

	_, err = New("x", a, game, nil, Options{MaxSteps: 0, Budget: b}, nil,
		logging.NewNop())
	assert.Error(t, err)
	_, err = New("x", a, game, nil, Options{MaxSteps: 1}, nil,
		logging.NewNop())
	assert.Error(t, err)
	_, err = New("x", a, game, nil, Options{MaxSteps: 1, Budget: b,
		StartCommand: "Jump"}, nil, logging.NewNop())
	assert.Error(t, err)
	_, err = New("x", a, game, nil, Options{MaxSteps: 1, Budget: b,
		StepDelay: -time.Second}, nil, logging.NewNop())
	assert.Error(t, err)
}

func TestEpisodeEndsAtStepLimit(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: endless}
	learning := &counting{}
	returns := tracker.NewReturn()
	s := newSession(t, a, game, learning, Options{
		MaxSteps: 3,
		Trackers: []tracker.Tracker{returns},
	})

	assert.Equal(t, AwaitingReset, s.State())
	result, err := s.RunEpisode(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Steps)
	assert.Equal(t, 3.0, result.TotalReward)
	assert.False(t, result.Done)
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, []float64{3}, returns.Returns())

	sent := game.messages()
	require.Len(t, sent, 4)
	assert.Equal(t, transport.ControlMessage(action.Reset), sent[0])
	for _, m := range sent[1:] {
		assert.False(t, m.IsControl())
	}

	// Truncation does not make the last transition terminal
	contents := a.Store().Contents()
	require.Len(t, contents, 3)
	for _, tr := range contents {
		assert.False(t, tr.Terminal)
	}

	assert.Equal(t, 3, learning.ticks)
	assert.Equal(t, 1, learning.episodes)
	assert.Equal(t, 0.5, a.Epsilon(), "decayed once per episode")
}

func TestEpisodeEndsWhenGameIsDone(t *testing.T) {
	a := newAgent(t, policy.PerLearningCycle)
	game := &scripted{respond: func(m transport.Message, n int) reply {
		if m.IsControl() {
			return reply{obs: transport.Observation{State: state(0),
				Partial: true}}
		}
		return reply{obs: transport.Observation{State: state(1),
			Reward: -1, Done: n == 3}}
	}}
	s := newSession(t, a, game, nil, Options{MaxSteps: 100})

	result, err := s.RunEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Steps)
	assert.Equal(t, -2.0, result.TotalReward)
	assert.True(t, result.Done)

	contents := a.Store().Contents()
	require.Len(t, contents, 2)
	assert.False(t, contents[0].Terminal)
	assert.True(t, contents[1].Terminal)
	assert.Equal(t, 1.0, a.Epsilon(), "no decay at episode end")
}

func TestEvaluationNeitherRemembersNorLearns(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: endless}
	learning := &counting{}
	s := newSession(t, a, game, learning, Options{MaxSteps: 5, Eval: true})

	_, err := s.RunEpisode(context.Background(), 1)
	require.NoError(t, err)

	assert.Zero(t, a.Store().Len())
	assert.Zero(t, learning.ticks)
	assert.Zero(t, learning.episodes)
	assert.Equal(t, 1.0, a.Epsilon())
}

func TestStartCommand(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: endless}
	s := newSession(t, a, game, nil, Options{MaxSteps: 1,
		StartCommand: action.Start})

	_, err := s.RunEpisode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, transport.ControlMessage(action.Start),
		game.messages()[0])
}

func TestTimeoutRecordsTerminalTransition(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	timeout := &transport.Error{Op: "receive", Err: transport.ErrTimeout}
	game := &scripted{respond: func(m transport.Message, n int) reply {
		if n == 3 {
			return reply{err: timeout}
		}
		return endless(m, n)
	}}
	s := newSession(t, a, game, nil, Options{MaxSteps: 10})

	result, err := s.RunEpisode(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, transport.IsFailure(err))
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, 2, result.Steps)
	assert.True(t, result.Done)

	contents := a.Store().Contents()
	require.Len(t, contents, 2)
	last := contents[1]
	assert.True(t, last.Terminal)
	assert.Zero(t, last.Reward)
	assert.Equal(t, last.State, last.NextState)
}

func TestSendFailureRecordsTerminalTransition(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	closed := &transport.Error{Op: "send", Err: transport.ErrClosed}
	game := &scripted{
		respond: endless,
		failSend: func(n int) error {
			// The reset and the first action go through
			if n == 3 {
				return closed
			}
			return nil
		},
	}
	learning := &counting{}
	budget, err := NewBudget(3)
	require.NoError(t, err)
	s := newSession(t, a, game, learning, Options{MaxSteps: 10,
		Budget: budget})

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsFailure(err))
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, 1, budget.Completed())
	assert.Equal(t, 2, budget.Remaining())

	stats := s.Stats()
	assert.Equal(t, 2, stats.Steps)
	assert.Equal(t, 1.0, stats.TotalReward)
	assert.True(t, stats.Terminal)

	contents := a.Store().Contents()
	require.Len(t, contents, 2)
	assert.False(t, contents[0].Terminal)
	last := contents[1]
	assert.True(t, last.Terminal)
	assert.Zero(t, last.Reward)
	assert.Equal(t, last.State, last.NextState)

	assert.Equal(t, 2, learning.ticks)
	assert.Equal(t, 1, learning.episodes)
	assert.Equal(t, 0.5, a.Epsilon(), "decayed at the end of the episode")
}

func TestProtocolErrorEndsEpisodeOnly(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: func(m transport.Message, n int) reply {
		if !m.IsControl() && n == 2 {
			// First step of the first episode misses its reward
			return reply{obs: transport.Observation{State: state(1),
				Partial: true}}
		}
		return endless(m, n)
	}}
	budget, err := NewBudget(2)
	require.NoError(t, err)
	s := newSession(t, a, game, nil, Options{MaxSteps: 2, Budget: budget})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, budget.Completed())
	assert.Equal(t, 2, a.Store().Len(), "only the second episode stored")
}

func TestResetRejectsWrongStateSize(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: func(transport.Message, int) reply {
		return reply{obs: transport.Observation{State: []float64{1, 2, 3}}}
	}}
	s := newSession(t, a, game, nil, Options{MaxSteps: 2})

	_, err := s.RunEpisode(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, transport.IsProtocol(err))
	assert.Equal(t, AwaitingReset, s.State())
}

func TestFailedResetsCompleteTheirEpisodes(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	game := &scripted{respond: func(transport.Message, int) reply {
		return reply{obs: transport.Observation{State: []float64{1, 2, 3}}}
	}}
	budget, err := NewBudget(3)
	require.NoError(t, err)
	s := newSession(t, a, game, nil, Options{MaxSteps: 2, Budget: budget})

	require.NoError(t, s.Run(context.Background()))
	assert.Zero(t, budget.Remaining())
	assert.Equal(t, 3, budget.Completed())
	assert.Zero(t, a.Store().Len())

	closed := &transport.Error{Op: "send", Err: transport.ErrClosed}
	game = &scripted{respond: endless, failSend: func(int) error {
		return closed
	}}
	budget, err = NewBudget(3)
	require.NoError(t, err)
	s = newSession(t, a, game, nil, Options{MaxSteps: 2, Budget: budget})

	err = s.Run(context.Background())
	assert.True(t, transport.IsFailure(err))
	assert.Equal(t, 1, budget.Completed())
	assert.Equal(t, 2, budget.Remaining())
}

func TestRunStopsOnFailure(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	closed := &transport.Error{Op: "receive", Err: transport.ErrClosed}
	game := &scripted{respond: func(m transport.Message, n int) reply {
		if n > 1 {
			return reply{err: closed}
		}
		return endless(m, n)
	}}
	budget, err := NewBudget(5)
	require.NoError(t, err)
	s := newSession(t, a, game, nil, Options{MaxSteps: 2, Budget: budget})

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsFailure(err))
	assert.Equal(t, 4, budget.Remaining())
	assert.Equal(t, 1, budget.Completed())
}

func TestSharedBudget(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	budget, err := NewBudget(7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		s := newSession(t, a, &scripted{respond: endless}, nil,
			Options{MaxSteps: 2, Budget: budget})
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Run(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, budget.Completed())
	assert.Zero(t, budget.Remaining())
	assert.Equal(t, 14, a.Store().Len())
}

func TestRunHonoursContext(t *testing.T) {
	a := newAgent(t, policy.PerEpisode)
	budget, err := NewBudget(1000)
	require.NoError(t, err)
	s := newSession(t, a, &scripted{respond: endless}, nil,
		Options{MaxSteps: 1000, Budget: budget, StepDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)
	err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBudget(t *testing.T) {
	_, err := NewBudget(0)
	require.Error(t, err)

	b, err := NewBudget(2)
	require.NoError(t, err)
	i, ok := b.Claim()
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	i, ok = b.Claim()
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = b.Claim()
	assert.False(t, ok)
	assert.Zero(t, b.Remaining())

	assert.True(t, Global.Valid())
	assert.False(t, Scope("nope").Valid())
}
