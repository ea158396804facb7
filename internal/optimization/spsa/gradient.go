package spsa

import (
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/spsa/internal/optimization"
)

// estimator performs SPSA steps against one objective. Its buffers are
// reused across iterations.
type estimator struct {
	objective        optimization.ObjectiveFunction
	perturber        perturber
	concurrent       bool
	abortOnNonFinite bool

	delta     []float64
	minus     []float64
	plus      []float64
	gradient  []float64
	candidate []float64
}

func newEstimator(f optimization.ObjectiveFunction, n int, s Settings) *estimator {
	return &estimator{
		objective:        f,
		perturber:        newPerturber(s.Source),
		concurrent:       s.Concurrent,
		abortOnNonFinite: s.AbortOnNonFinite,
		delta:            make([]float64, n),
		minus:            make([]float64, n),
		plus:             make([]float64, n),
		gradient:         make([]float64, n),
		candidate:        make([]float64, n),
	}
}

// evaluate calls the objective. Objective errors are returned unmodified.
func (e *estimator) evaluate(x []float64) (float64, error) {
	v, err := e.objective(x)
	if err != nil {
		return 0, err
	}
	if e.abortOnNonFinite && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return 0, optimization.NewErrorf(optimization.KindNonFinite, "objective returned %v", v).
			WithOperation("evaluate").
			WithComponent(component)
	}
	return v, nil
}

// evaluatePair evaluates the objective at both perturbed points.
func (e *estimator) evaluatePair() (vMinus, vPlus float64, err error) {
	if !e.concurrent {
		if vMinus, err = e.evaluate(e.minus); err != nil {
			return 0, 0, err
		}
		if vPlus, err = e.evaluate(e.plus); err != nil {
			return 0, 0, err
		}
		return vMinus, vPlus, nil
	}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		vMinus, err = e.evaluate(e.minus)
		return err
	})
	g.Go(func() error {
		var err error
		vPlus, err = e.evaluate(e.plus)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return vMinus, vPlus, nil
}

// step runs one SPSA iteration on st with learning rate lr and
// perturbation size c. The state, including LR and Perturb, is only written
// once every evaluation of the step has succeeded. It reports whether the
// candidate update was accepted.
func (e *estimator) step(st *State, lr, c float64) (bool, error) {
	e.perturber.draw(e.delta)
	floats.AddScaledTo(e.minus, st.Position, -c, e.delta)
	floats.AddScaledTo(e.plus, st.Position, c, e.delta)

	vMinus, vPlus, err := e.evaluatePair()
	if err != nil {
		return false, err
	}

	// Every coordinate shares one finite difference, signed by delta.
	floats.ScaleTo(e.gradient, (vPlus-vMinus)/(2*c), e.delta)
	floats.AddScaledTo(e.candidate, st.Position, -lr, e.gradient)

	current, err := e.evaluate(e.candidate)
	if err != nil {
		return false, err
	}

	st.LR, st.Perturb = lr, c
	st.NumObjectiveEvaluations += 2
	st.NumCandidateEvaluations++

	if st.Blocking && st.ObjectiveValuePreviousIteration+st.AllowedIncrease < current {
		return false, nil
	}
	copy(st.Position, e.candidate)
	st.ObjectiveValuePreviousIteration = st.ObjectiveValue
	st.ObjectiveValue = current
	return true, nil
}
