package spsa

import "math"

const component = "spsa"

// State is the optimizer state of one Minimize run. The driver owns it for
// the duration of the run; callers only ever see independent snapshots.
type State struct {
	// Converged reports whether the run stopped on the tolerance test
	// rather than on the iteration budget.
	Converged bool
	// NumIterations is the number of completed iterations.
	NumIterations int
	// NumObjectiveEvaluations counts the paired perturbation evaluations,
	// two per iteration.
	NumObjectiveEvaluations int
	// NumCandidateEvaluations counts the evaluations at candidate
	// positions, one per iteration. They are not part of
	// NumObjectiveEvaluations.
	NumCandidateEvaluations int

	// Position is the current candidate solution.
	Position []float64
	// ObjectiveValue is the objective at Position.
	ObjectiveValue float64
	// ObjectiveValuePreviousIteration is the objective one accepted
	// update ago; +Inf before the first one.
	ObjectiveValuePreviousIteration float64

	Tolerance       float64
	LR              float64
	Alpha           float64
	Perturb         float64
	Gamma           float64
	Blocking        bool
	AllowedIncrease float64
}

func newState(x0 []float64, s Settings) *State {
	return &State{
		Position:                        append([]float64(nil), x0...),
		ObjectiveValuePreviousIteration: math.Inf(1),
		Tolerance:                       s.Tolerance,
		LR:                              s.LR,
		Alpha:                           s.Alpha,
		Perturb:                         s.Perturb,
		Gamma:                           s.Gamma,
		Blocking:                        s.Blocking,
		AllowedIncrease:                 s.AllowedIncrease,
	}
}

// TotalEvaluations returns every objective call of the run: the initial
// evaluation, the perturbation pairs and the candidate evaluations.
func (s *State) TotalEvaluations() int {
	return 1 + s.NumObjectiveEvaluations + s.NumCandidateEvaluations
}

func (s *State) clone() *State {
	c := *s
	c.Position = append([]float64(nil), s.Position...)
	return &c
}
