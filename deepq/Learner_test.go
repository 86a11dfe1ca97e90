package deepq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/expreplay"
	"github.com/samuelfneumann/gamelearn/logging"
	"github.com/samuelfneumann/gamelearn/policy"
	"github.com/samuelfneumann/gamelearn/solver"
	"github.com/samuelfneumann/gamelearn/timestep"
	"github.com/samuelfneumann/gamelearn/valuefn"
)

// recorder is a value function which returns fixed estimates keyed by
// the first state feature and records every fit
type recorder struct {
	valuefn.ValueFunction
	values map[float64][]float64
	fits   [][]float64
}

func (r *recorder) Estimate(state []float64) ([]float64, error) {
	return append([]float64{}, r.values[state[0]]...), nil
}

func (r *recorder) FitStep(_, target []float64) (float64, error) {
	r.fits = append(r.fits, append([]float64{}, target...))
	return 1, nil
}

func (r *recorder) Clone() (valuefn.ValueFunction, error) {
	return r, nil
}

func config() Config {
	s, _ := policy.NewSchedule(0.01, 0.5)
	return Config{Gamma: 0.95, Schedule: s, Cadence: policy.PerLearningCycle}
}

func newReplay(t *testing.T, ts ...timestep.Transition) *expreplay.Fifo {
	t.Helper()
	r, err := expreplay.New(100, expreplay.NewUniformSelector(1))
	require.NoError(t, err)
	for _, tr := range ts {
		r.Push(tr)
	}
	return r
}

func TestTarget(t *testing.T) {
	assert.Equal(t, 7.5, Target(7.5, true, 0.95, []float64{100, 200}))
	assert.Equal(t, -1.0, Target(-1, true, 0.95, nil))

	assert.InDelta(t, 1+0.95*3, Target(1, false, 0.95, []float64{-2, 3, 0}),
		1e-12)
}

func TestLearnSkipsSmallStore(t *testing.T) {
	r := newReplay(t, timestep.NewTransition([]float64{0}, action.Left, 1,
		[]float64{1}, false))
	vf := &recorder{}

	l, err := New(vf, r, config(), logging.NewNop())
	require.NoError(t, err)

	result, err := l.Learn(context.Background(), 2, 0.5)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, vf.fits)
}

func TestLearnFitsMaskedTargets(t *testing.T) {
	vf := &recorder{values: map[float64][]float64{
		0: {0.1, 0.2, 0.3, 0.4},
		1: {1, 5, 2, 3},
	}}

	tests := []struct {
		name string
		tr   timestep.Transition
		want []float64
	}{
		{
			name: "terminal",
			tr: timestep.NewTransition([]float64{0}, action.Jump, 2,
				[]float64{1}, true),
			want: []float64{0.1, 0.2, 2, 0.4},
		},
		{
			name: "non-terminal",
			tr: timestep.NewTransition([]float64{0}, action.Right, 2,
				[]float64{1}, false),
			want: []float64{0.1, 2 + 0.95*5, 0.3, 0.4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vf.fits = nil
			l, err := New(vf, newReplay(t, tt.tr), config(), logging.NewNop())
			require.NoError(t, err)

			result, err := l.Learn(context.Background(), 1, 1)
			require.NoError(t, err)
			require.False(t, result.Skipped)
			require.Len(t, vf.fits, 1)
			assert.InDeltaSlice(t, tt.want, vf.fits[0], 1e-12)
		})
	}
}

func TestLearnDecaysPerCadence(t *testing.T) {
	tr := timestep.NewTransition([]float64{0}, action.Left, 0, []float64{1},
		true)
	vf := &recorder{values: map[float64][]float64{0: {0, 0, 0, 0}}}

	c := config()
	l, err := New(vf, newReplay(t, tr), c, logging.NewNop())
	require.NoError(t, err)
	result, err := l.Learn(context.Background(), 1, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0.4, result.Epsilon)
	assert.Equal(t, 1, result.Samples)
	assert.Equal(t, 1.0, result.Loss)

	c.Cadence = policy.PerEpisode
	l, err = New(vf, newReplay(t, tr), c, logging.NewNop())
	require.NoError(t, err)
	result, err = l.Learn(context.Background(), 1, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0.8, result.Epsilon)
}

func TestLearnPublishesIndependentSnapshot(t *testing.T) {
	vf, err := valuefn.New(valuefn.Config{
		Kind:     valuefn.LinearKind,
		Features: 2,
		Actions:  4,
		Solver:   solver.Config{Type: solver.Vanilla, StepSize: 0.1},
	})
	require.NoError(t, err)

	state := []float64{1, 1}
	r := newReplay(t, timestep.NewTransition(state, action.Idle, 10,
		[]float64{0, 0}, true))
	l, err := New(vf, r, config(), logging.NewNop())
	require.NoError(t, err)

	first, err := l.Learn(context.Background(), 1, 1)
	require.NoError(t, err)
	published, err := first.ValueFunction.Estimate(state)
	require.NoError(t, err)
	assert.Greater(t, published[action.Idle], 0.0)

	_, err = l.Learn(context.Background(), 1, 1)
	require.NoError(t, err)

	after, err := first.ValueFunction.Estimate(state)
	require.NoError(t, err)
	assert.Equal(t, published, after, "published snapshot mutated")

	trained, err := l.ValueFunction().Estimate(state)
	require.NoError(t, err)
	assert.Greater(t, trained[action.Idle], published[action.Idle])
}

func TestLearnStopsOnCancelledContext(t *testing.T) {
	tr := timestep.NewTransition([]float64{0}, action.Left, 0, []float64{1},
		true)
	vf := &recorder{values: map[float64][]float64{0: {0, 0, 0, 0}}}
	l, err := New(vf, newReplay(t, tr), config(), logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Learn(ctx, 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, vf.fits)
}

func TestNewValidates(t *testing.T) {
	c := config()
	c.Gamma = 0
	_, err := New(&recorder{}, newReplay(t), c, logging.NewNop())
	assert.Error(t, err)

	c = config()
	c.Cadence = "sometimes"
	_, err = New(&recorder{}, newReplay(t), c, logging.NewNop())
	assert.Error(t, err)

	_, err = New(nil, newReplay(t), config(), logging.NewNop())
	assert.Error(t, err)
}
