package spsa

import "math"

// converged reports whether the objective moved by less than the tolerance
// over the last iteration. NaN differences never converge.
func converged(st *State) bool {
	return math.Abs(st.ObjectiveValue-st.ObjectiveValuePreviousIteration) < st.Tolerance
}
