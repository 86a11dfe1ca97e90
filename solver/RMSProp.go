package solver

import G "gorgonia.org/gorgonia"

// rmsprop returns a new Gorgonia RMSProp solver
func (c Config) rmsprop() G.Solver {
	opts := append(c.opts(),
		G.WithEps(orDefault(c.Epsilon, 1e-8)),
		G.WithRho(orDefault(c.Rho, 0.999)),
	)
	return G.NewRMSPropSolver(opts...)
}
