package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// multiHeadMLP implements a multi-layered perceptron with multiple
// output nodes, one for each value that should be predicted.
type multiHeadMLP struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int

	// Data needed for cloning and gobbing
	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMultiHeadMLP creates and returns a new multi-layered perceptron
// that has multiple output nodes. The number of output nodes is equal
// to outputs. The graph parameter g is populated with the MLP.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1. A final
// layer with a bias unit and no activation is always added so that the
// network produces outputs predictions. For index i, hiddenSizes[i] is
// the number of nodes in hidden layer i; biases[i] is true if the
// hidden layer will contain a bias unit; and activations[i] is the
// activation function for hidden layer i.
func NewMultiHeadMLP(features, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	network := &multiHeadMLP{}
	err := network.build(features, outputs, g, hiddenSizes, biases, init,
		activations)
	if err != nil {
		return nil, err
	}
	return network, nil
}

// build adds the multiHeadMLP to g. The prediction is read into
// e.predVal, so e must not be copied afterwards.
func (e *multiHeadMLP) build(features, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) error {
	if features < 1 || outputs < 1 {
		return fmt.Errorf("newmultiheadmlp: features and outputs must "+
			"be positive\n\twant(>0, >0)\n\thave(%v, %v)", features, outputs)
	}

	// Ensure we have one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newmultiheadmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Ensure one bias bool per layer
	if len(hiddenSizes) != len(biases) {
		msg := "newmultiheadmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	for i, size := range hiddenSizes {
		if size < 1 {
			return fmt.Errorf("newmultiheadmlp: hidden layer %d must "+
				"have at least one unit\n\thave(%v)", i, size)
		}
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(1, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	// Add a final linear layer with no activation so that the output
	// heads are predicted by the network
	sizes := append(append([]int{}, hiddenSizes...), outputs)
	allBiases := append(append([]bool{}, biases...), true)
	allActs := append(append([]*Activation{}, activations...), Identity())

	*e = multiHeadMLP{
		g:           g,
		layers:      addfcLayers(g, sizes, allBiases, allActs, init, features, ""),
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		hiddenSizes: append([]int{}, hiddenSizes...),
		biases:      append([]bool{}, biases...),
		activations: append([]*Activation{}, activations...),
	}
	if _, err := e.fwd(input); err != nil {
		msg := "newmultiheadmlp: could not compute forward pass: %v"
		return fmt.Errorf(msg, err)
	}

	return nil
}

// Graph returns the computational graph of the multiHeadMLP.
func (e *multiHeadMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones a multiHeadMLP onto a new computational graph. The
// clone's weights are copies of the weights of e.
func (e *multiHeadMLP) Clone() (NeuralNet, error) {
	net, err := NewMultiHeadMLP(e.numInputs, e.numOutputs, G.NewGraph(),
		e.hiddenSizes, e.biases, G.Zeroes(), e.activations)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	if err := net.Set(e); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	return net, nil
}

// Features returns the number of features in a single observation
// vector that the network takes as input.
func (e *multiHeadMLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs from the network
func (e *multiHeadMLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the forward
// pass.
func (e *multiHeadMLP) SetInput(input []float64) error {
	if len(input) != e.numInputs {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", e.numInputs, len(input))
	}

	backing := make([]float64, len(input))
	copy(backing, input)
	inputTensor := tensor.New(
		tensor.WithBacking(backing),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of a multiHeadMLP to be equal to the
// weights of another NeuralNet of the same architecture
func (dest *multiHeadMLP) Set(source NeuralNet) error {
	if err := dest.SetWeights(source.Weights()); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// Weights returns a copy of the data of each learnable node
func (e *multiHeadMLP) Weights() [][]float64 {
	learnables := e.Learnables()
	weights := make([][]float64, len(learnables))
	for i, node := range learnables {
		data := node.Value().Data().([]float64)
		weights[i] = make([]float64, len(data))
		copy(weights[i], data)
	}
	return weights
}

// SetWeights overwrites the data of each learnable node in place. The
// weights must be ordered as returned by Learnables.
func (e *multiHeadMLP) SetWeights(weights [][]float64) error {
	learnables := e.Learnables()
	if len(weights) != len(learnables) {
		return fmt.Errorf("setweights: invalid number of weight tensors"+
			"\n\twant(%v)\n\thave(%v)", len(learnables), len(weights))
	}

	for i, node := range learnables {
		data := node.Value().Data().([]float64)
		if len(weights[i]) != len(data) {
			return fmt.Errorf("setweights: invalid size for %v"+
				"\n\twant(%v)\n\thave(%v)", node.Name(), len(data),
				len(weights[i]))
		}
	}

	for i, node := range learnables {
		copy(node.Value().Data().([]float64), weights[i])
	}
	return nil
}

// Learnables returns the learnable nodes in a multiHeadMLP
func (e *multiHeadMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		e.learnables = e.computeLearnables()
	}
	return e.learnables
}

// computeLearnables computes all the learnables for the network
func (e *multiHeadMLP) computeLearnables() G.Nodes {
	learnables := make([]*G.Node, 0, 2*len(e.layers))

	for i := range e.layers {
		learnables = append(learnables, e.layers[i].Weights())
		if bias := e.layers[i].Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return G.Nodes(learnables)
}

// Model returns the learnables nodes with their gradients.
func (e *multiHeadMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		learnables := e.Learnables()
		e.model = make([]G.ValueGrad, 0, len(learnables))
		for _, node := range learnables {
			e.model = append(e.model, node)
		}
	}
	return e.model
}

// fwd performs the forward pass of the multiHeadMLP on the input
// node
func (e *multiHeadMLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the output of the multiHeadMLP after the most recent
// run of a VM over its graph
func (e *multiHeadMLP) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the output of the multiHeadMLP
func (e *multiHeadMLP) Prediction() *G.Node {
	return e.prediction
}

// GobEncode implements the gob.GobEncoder interface
func (e *multiHeadMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(e.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of inputs")
	}
	if err := enc.Encode(e.numOutputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of outputs")
	}
	if err := enc.Encode(e.hiddenSizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}
	if err := enc.Encode(e.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases")
	}
	if err := enc.Encode(e.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}
	if err := enc.Encode(e.Weights()); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode weights")
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The network is
// rebuilt on a new computational graph.
func (e *multiHeadMLP) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var numInputs, numOutputs int
	if err := dec.Decode(&numInputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}
	if err := dec.Decode(&numOutputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of outputs")
	}

	var hiddenSizes []int
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}

	var biases []bool
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases")
	}

	var activations []*Activation
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}

	var weights [][]float64
	if err := dec.Decode(&weights); err != nil {
		return fmt.Errorf("gobdecode: could not decode weights")
	}

	err := e.build(numInputs, numOutputs, G.NewGraph(), hiddenSizes, biases,
		G.Zeroes(), activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct network: %v", err)
	}
	if err := e.SetWeights(weights); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}
	return nil
}
