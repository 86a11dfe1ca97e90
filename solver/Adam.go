package solver

import G "gorgonia.org/gorgonia"

// adam returns a new Gorgonia Adam solver
func (c Config) adam() G.Solver {
	opts := append(c.opts(),
		G.WithEps(orDefault(c.Epsilon, 1e-8)),
		G.WithBeta1(orDefault(c.Beta1, 0.9)),
		G.WithBeta2(orDefault(c.Beta2, 0.999)),
	)
	return G.NewAdamSolver(opts...)
}
