package solver

import G "gorgonia.org/gorgonia"

// vanilla returns a new Gorgonia stochastic gradient descent solver
func (c Config) vanilla() G.Solver {
	return G.NewVanillaSolver(c.opts()...)
}
