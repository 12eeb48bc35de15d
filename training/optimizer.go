package training

import (
	"github.com/gomlx/gomlx/ml/train/optimizers"

	"github.com/convforge/dialogue/params"
)

// OptimizerFactory builds a fresh optimizer bound to the model being
// trained. A factory rather than an instance so every Fit gets clean
// optimizer state.
type OptimizerFactory func() optimizers.Interface

// DefaultOptimizer is Adam with betas (0.8, 0.99), the fixed configuration
// used when the caller does not supply a factory.
func DefaultOptimizer() OptimizerFactory {
	return func() optimizers.Interface {
		return optimizers.Adam().
			Betas(params.AdamBeta1, params.AdamBeta2).
			Done()
	}
}
