package valuefn

import (
	"fmt"
	"sync"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gamelearn/initwfn"
	"github.com/samuelfneumann/gamelearn/network"
	"github.com/samuelfneumann/gamelearn/solver"
)

// MLP implements a ValueFunction as a multi-layered perceptron with
// one output head per action, trained on the mean squared error
// between its prediction and a target vector.
//
// Two computational graphs hold the same weights: a training graph
// which computes the loss and its gradients, and a prediction graph
// used by Estimate. The prediction graph is synchronized with the
// training graph after every FitStep. Both share a single mutex, so an
// MLP is safe for concurrent use.
type MLP struct {
	features   int
	actions    int
	hidden     []int
	activation string
	solverCfg  solver.Config

	mu sync.Mutex // Guards the following

	predNet network.NeuralNet
	predVM  G.VM

	trainNet network.NeuralNet
	trainVM  G.VM
	target   *G.Node
	lossVal  G.Value
	solver   G.Solver
}

// NewMLP returns a new MLP value function
func NewMLP(c Config) (*MLP, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newmlp: %w", err)
	}

	act, err := network.ParseActivation(c.Activation)
	if err != nil {
		return nil, fmt.Errorf("newmlp: %w", err)
	}
	init, err := c.Init.Create()
	if err != nil {
		return nil, fmt.Errorf("newmlp: %w", err)
	}
	s, err := c.Solver.Create()
	if err != nil {
		return nil, fmt.Errorf("newmlp: %w", err)
	}

	m := &MLP{
		features:   c.Features,
		actions:    c.Actions,
		hidden:     append([]int{}, c.Hidden...),
		activation: act.String(),
		solverCfg:  c.Solver,
		solver:     s,
	}

	biases := make([]bool, len(c.Hidden))
	acts := make([]*network.Activation, len(c.Hidden))
	for i := range c.Hidden {
		biases[i] = true
		acts[i] = act
	}

	// Training graph
	m.trainNet, err = network.NewMultiHeadMLP(c.Features, c.Actions,
		G.NewGraph(), c.Hidden, biases, init, acts)
	if err != nil {
		return nil, fmt.Errorf("newmlp: could not create training "+
			"network: %w", err)
	}

	g := m.trainNet.Graph()
	m.target = G.NewMatrix(g, tensor.Float64, G.WithShape(1, c.Actions),
		G.WithName("target"), G.WithInit(G.Zeroes()))

	diff := G.Must(G.Sub(m.trainNet.Prediction(), m.target))
	loss := G.Must(G.Mean(G.Must(G.Square(diff))))
	G.Read(loss, &m.lossVal)

	if _, err := G.Grad(loss, m.trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("newmlp: could not compute gradient: %w", err)
	}
	m.trainVM = G.NewTapeMachine(g,
		G.BindDualValues(m.trainNet.Learnables()...))

	// Prediction graph
	m.predNet, err = m.trainNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("newmlp: could not create prediction "+
			"network: %w", err)
	}
	m.predVM = G.NewTapeMachine(m.predNet.Graph())

	return m, nil
}

// encoded returns the architecture of m without its weights
func (m *MLP) encoded() encoded {
	return encoded{
		Kind:       MLPKind,
		Features:   m.features,
		Actions:    m.actions,
		Hidden:     m.hidden,
		Activation: m.activation,
	}
}

// StateSize returns the length of states m accepts
func (m *MLP) StateSize() int {
	return m.features
}

// Actions returns the number of values m predicts
func (m *MLP) Actions() int {
	return m.actions
}

// Estimate returns the value of each action in state
func (m *MLP) Estimate(state []float64) ([]float64, error) {
	if err := checkLen("estimate", "state", m.features, len(state)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.predVM.Reset()

	if err := m.predNet.SetInput(state); err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}
	if err := m.predVM.RunAll(); err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}

	out := m.predNet.Output().Data().([]float64)
	values := make([]float64, len(out))
	copy(values, out)
	return values, nil
}

// FitStep takes a single solver step on the squared error between the
// prediction in state and target
func (m *MLP) FitStep(state, target []float64) (float64, error) {
	if err := checkLen("fitstep", "state", m.features, len(state)); err != nil {
		return 0, err
	}
	if err := checkLen("fitstep", "target", m.actions, len(target)); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.trainNet.SetInput(state); err != nil {
		return 0, fmt.Errorf("fitstep: %w", err)
	}

	backing := make([]float64, len(target))
	copy(backing, target)
	targetTensor := tensor.New(
		tensor.WithBacking(backing),
		tensor.WithShape(1, m.actions),
	)
	if err := G.Let(m.target, targetTensor); err != nil {
		return 0, fmt.Errorf("fitstep: could not set target: %w", err)
	}

	if err := m.trainVM.RunAll(); err != nil {
		m.trainVM.Reset()
		return 0, fmt.Errorf("fitstep: %w", err)
	}
	loss := scalar(m.lossVal)

	if err := m.solver.Step(m.trainNet.Model()); err != nil {
		m.trainVM.Reset()
		return 0, fmt.Errorf("fitstep: could not step solver: %w", err)
	}
	m.trainVM.Reset()

	if err := m.predNet.Set(m.trainNet); err != nil {
		return 0, fmt.Errorf("fitstep: %w", err)
	}
	return loss, nil
}

// Clone returns a deep copy of m with fresh solver state
func (m *MLP) Clone() (ValueFunction, error) {
	m.mu.Lock()
	weights := m.trainNet.Weights()
	m.mu.Unlock()

	clone, err := m.empty()
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	if err := clone.setWeights(weights); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	return clone, nil
}

// empty returns an MLP with the same architecture as m. Weights of the
// returned MLP are zero.
func (m *MLP) empty() (*MLP, error) {
	c := Config{
		Kind:       MLPKind,
		Features:   m.features,
		Actions:    m.actions,
		Hidden:     m.hidden,
		Activation: m.activation,
		Init:       initwfn.Config{Type: initwfn.Zeroes},
		Solver:     m.solverCfg,
	}
	return NewMLP(c)
}

func (m *MLP) setWeights(weights [][]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.trainNet.SetWeights(weights); err != nil {
		return fmt.Errorf("setweights: %w: %w", err, ErrShapeMismatch)
	}
	return m.predNet.SetWeights(weights)
}

// GobEncode implements the gob.GobEncoder interface
func (m *MLP) GobEncode() ([]byte, error) {
	m.mu.Lock()
	e := m.encoded()
	e.Weights = m.trainNet.Weights()
	m.mu.Unlock()

	return e.encode()
}

// GobDecode implements the gob.GobDecoder interface. The MLP must
// already have been constructed with the same architecture as the one
// that was encoded.
func (m *MLP) GobDecode(data []byte) error {
	if m.trainNet == nil {
		return fmt.Errorf("gobdecode: cannot decode into an " +
			"unconstructed MLP")
	}

	e, err := decode(data, m.encoded())
	if err != nil {
		return err
	}
	if err := m.setWeights(e.Weights); err != nil {
		return fmt.Errorf("gobdecode: %w", err)
	}
	return nil
}

// scalar returns the float64 held by a scalar Value
func scalar(v G.Value) float64 {
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	}
	panic(fmt.Sprintf("scalar: unexpected value type %T", v.Data()))
}
