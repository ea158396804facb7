package spsa

import (
	"context"
	"errors"
	"sync"

	"github.com/copyleftdev/spsa/internal/optimization"
)

// Optimizer runs SPSA behind the optimization.Optimizer interface. It keeps
// the history of iterates and the best accepted solution so that they can
// be inspected while a run is in progress.
type Optimizer struct {
	// Base settings, overridden per run by OptimizerConfig
	settings Settings

	mu           sync.RWMutex
	bestSolution *optimization.Solution
	history      []optimization.Evaluation
	state        *State

	// For cancellation
	cancel context.CancelFunc
}

// NewOptimizer creates an SPSA optimizer with the given base settings.
func NewOptimizer(settings Settings) *Optimizer {
	return &Optimizer{settings: settings}
}

// Optimize runs SPSA with the objective and starting point from config.
// A non-zero config.MaxIterations overrides the base settings; a non-nil
// config.RandomSeed seeds the run. Without a seed and without a Source in
// the base settings the run uses an unseeded source.
func (o *Optimizer) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	settings := o.settings
	if config.MaxIterations != 0 {
		settings.MaxIterations = config.MaxIterations
	}
	switch {
	case config.RandomSeed != nil:
		settings.Source = NewSource(*config.RandomSeed)
	case settings.Source == nil:
		settings.Source = NewUnseededSource()
	}
	if !config.Verbose {
		settings.Logger = nil
	}

	o.mu.Lock()
	ctx, o.cancel = context.WithCancel(ctx)
	o.history = nil
	o.bestSolution = nil
	o.state = nil
	o.mu.Unlock()
	defer o.Stop()

	if config.Objective != nil && len(config.InitialPosition) > 0 {
		// The starting point is a candidate solution even if no step is accepted.
		start := append([]float64(nil), config.InitialPosition...)
		objective := config.Objective
		config.Objective = func(x []float64) (float64, error) {
			v, err := objective(x)
			if err == nil && start != nil {
				o.updateBestSolution(start, v)
				start = nil
			}
			return v, err
		}
	}
	var recordErr error
	if user := settings.Recorder; user != nil {
		settings.Recorder = Recorders{RecorderFunc(o.record), RecorderFunc(func(it Iterate) error {
			recordErr = user.Record(it)
			return recordErr
		})}
	} else {
		settings.Recorder = RecorderFunc(o.record)
	}

	st, err := Minimize(ctx, config.Objective, config.InitialPosition, settings)
	if st != nil {
		o.mu.Lock()
		o.state = st
		o.mu.Unlock()
	}
	if err != nil {
		if st != nil && recordErr == nil && !isContextErr(err) {
			o.recordFailure(st, err)
		}
		return nil, err
	}

	return &optimization.OptimizationResult{
		BestSolution: o.GetBestSolution(),
		Final: &optimization.Solution{
			Parameters: append([]float64(nil), st.Position...),
			Value:      st.ObjectiveValue,
		},
		History:     o.GetHistory(),
		Iterations:  st.NumIterations,
		Evaluations: st.TotalEvaluations(),
		Converged:   st.Converged,
	}, nil
}

// record appends an iterate to the history.
func (o *Optimizer) record(it Iterate) error {
	eval := optimization.Evaluation{
		Iteration: it.Iteration,
		Solution: &optimization.Solution{
			Parameters: it.Position,
			Value:      it.ObjectiveValue,
		},
		Accepted: it.Accepted,
	}

	o.mu.Lock()
	o.history = append(o.history, eval)
	o.mu.Unlock()

	if it.Accepted {
		o.updateBestSolution(it.Position, it.ObjectiveValue)
	}
	return nil
}

// recordFailure appends the iteration that failed. It holds the last
// committed position since a failed step changes nothing.
func (o *Optimizer) recordFailure(st *State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, optimization.Evaluation{
		Iteration: st.NumIterations + 1,
		Solution: &optimization.Solution{
			Parameters: append([]float64(nil), st.Position...),
			Value:      st.ObjectiveValue,
		},
		Error: err,
	})
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// updateBestSolution updates the best solution if the new solution is better
func (o *Optimizer) updateBestSolution(params []float64, value float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bestSolution == nil || value < o.bestSolution.Value {
		o.bestSolution = &optimization.Solution{
			Parameters: append([]float64(nil), params...),
			Value:      value,
		}
	}
}

// GetBestSolution returns the best solution found so far
func (o *Optimizer) GetBestSolution() *optimization.Solution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bestSolution
}

// GetHistory returns a copy of the iterations recorded so far. When a run
// fails on an objective error, the last entry is the failed iteration with
// Error set.
func (o *Optimizer) GetHistory() []optimization.Evaluation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]optimization.Evaluation(nil), o.history...)
}

// NumIterations returns the number of completed iterations recorded so far.
func (o *Optimizer) NumIterations() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := len(o.history)
	if n > 0 && o.history[n-1].Error != nil {
		n--
	}
	return n
}

// State returns the state at the end of the last run, or nil while a run
// is in progress or when it failed validation.
func (o *Optimizer) State() *State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state == nil {
		return nil
	}
	return o.state.clone()
}

// Stop stops the optimization process
func (o *Optimizer) Stop() {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

var _ optimization.Optimizer = (*Optimizer)(nil)
