package valuefn

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Linear implements a ValueFunction which is linear in the state. Each
// row of the weight matrix holds the weights of one action:
//
//	Q(s, a) = W[a] · s
//
// Weights are initialized to zero and updated with stochastic gradient
// descent on the mean squared error over actions. Linear is safe for
// concurrent use.
type Linear struct {
	features int
	actions  int
	stepSize float64

	mu      sync.RWMutex
	weights *mat.Dense // actions × features
}

// NewLinear returns a new Linear value function. Only the features,
// actions, and solver step size of c are used.
func NewLinear(c Config) (*Linear, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newlinear: %w", err)
	}

	return &Linear{
		features: c.Features,
		actions:  c.Actions,
		stepSize: c.Solver.StepSize,
		weights:  mat.NewDense(c.Actions, c.Features, nil),
	}, nil
}

// StateSize returns the length of states l accepts
func (l *Linear) StateSize() int {
	return l.features
}

// Actions returns the number of values l predicts
func (l *Linear) Actions() int {
	return l.actions
}

// Estimate returns the value of each action in state
func (l *Linear) Estimate(state []float64) ([]float64, error) {
	if err := checkLen("estimate", "state", l.StateSize(), len(state)); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.estimate(state), nil
}

// estimate computes the action values in state. The caller must hold
// l.mu.
func (l *Linear) estimate(state []float64) []float64 {
	s := mat.NewVecDense(len(state), append([]float64{}, state...))
	values := mat.NewVecDense(l.Actions(), nil)
	values.MulVec(l.weights, s)
	return values.RawVector().Data
}

// FitStep takes a single gradient step on the mean squared error
// between the prediction in state and target
func (l *Linear) FitStep(state, target []float64) (float64, error) {
	if err := checkLen("fitstep", "state", l.StateSize(), len(state)); err != nil {
		return 0, err
	}
	if err := checkLen("fitstep", "target", l.Actions(), len(target)); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	diff := mat.NewVecDense(len(target), l.estimate(state))
	diff.SubVec(diff, mat.NewVecDense(len(target), append([]float64{}, target...)))
	loss := mat.Dot(diff, diff) / float64(len(target))

	// ∇W = (2/|A|) (Ws - t) sᵀ
	scale := -l.stepSize * 2 / float64(len(target))
	s := mat.NewVecDense(len(state), append([]float64{}, state...))
	l.weights.RankOne(l.weights, scale, diff, s)

	return loss, nil
}

// Clone returns a deep copy of l
func (l *Linear) Clone() (ValueFunction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &Linear{
		features: l.features,
		actions:  l.actions,
		stepSize: l.stepSize,
		weights:  mat.DenseCopyOf(l.weights),
	}, nil
}

func (l *Linear) encoded() encoded {
	return encoded{
		Kind:     LinearKind,
		Features: l.StateSize(),
		Actions:  l.Actions(),
	}
}

// GobEncode implements the gob.GobEncoder interface
func (l *Linear) GobEncode() ([]byte, error) {
	l.mu.RLock()
	e := l.encoded()
	e.Weights = [][]float64{mat.DenseCopyOf(l.weights).RawMatrix().Data}
	l.mu.RUnlock()

	return e.encode()
}

// GobDecode implements the gob.GobDecoder interface. The Linear value
// function must already have been constructed with the encoded shape.
func (l *Linear) GobDecode(data []byte) error {
	if l.weights == nil {
		return fmt.Errorf("gobdecode: cannot decode into an " +
			"unconstructed Linear value function")
	}

	e, err := decode(data, l.encoded())
	if err != nil {
		return err
	}
	if len(e.Weights) != 1 || len(e.Weights[0]) != e.Features*e.Actions {
		return fmt.Errorf("gobdecode: invalid weights: %w", ErrShapeMismatch)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = mat.NewDense(e.Actions, e.Features, e.Weights[0])
	return nil
}
