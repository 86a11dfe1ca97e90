// Package network implements feed forward neural networks as Gorgonia
// computational graphs.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a neural network whose forward pass has been added to a
// Gorgonia computational graph. A NeuralNet takes a single row of
// features as input and predicts Outputs() values.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	Features() int
	Outputs() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() G.Value
	Prediction() *G.Node

	// Weights returns a copy of each learnable's data, in the order
	// returned by Learnables
	Weights() [][]float64
	SetWeights([][]float64) error
}
