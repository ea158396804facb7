package optimization

import (
	"context"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Starting point of the search
	InitialPosition []float64

	// Maximum number of iterations
	MaxIterations int

	// Random seed for reproducibility. A nil seed draws the perturbations
	// from an explicitly unseeded source.
	RandomSeed *uint64

	// Verbose logging
	Verbose bool
}

// ObjectiveFunction defines the function to be minimized
type ObjectiveFunction func([]float64) (float64, error)

// VectorObjective is an objective that reports its value as a vector, the
// way measured expectation values usually arrive. Only single-element
// results are meaningful to a scalar minimizer; see ScalarObjective.
type VectorObjective func([]float64) ([]float64, error)

// ScalarObjective adapts a VectorObjective into an ObjectiveFunction.
// Results that do not hold exactly one value fail with a shape mismatch.
func ScalarObjective(f VectorObjective) ObjectiveFunction {
	return func(x []float64) (float64, error) {
		out, err := f(x)
		if err != nil {
			return 0, err
		}
		if len(out) != 1 {
			return 0, NewErrorf(KindShapeMismatch, "objective returned %d values, expected a scalar", len(out)).
				WithOperation("evaluate")
		}
		return out[0], nil
	}
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single iteration of the optimizer
type Evaluation struct {
	Iteration int
	Solution  *Solution
	Accepted  bool
	Error     error
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	Final        *Solution
	History      []Evaluation
	Iterations   int
	Evaluations  int
	Converged    bool
}
