package spsa

import (
	"context"
	"fmt"

	"github.com/copyleftdev/spsa/internal/optimization"
)

// Minimize runs SPSA on f from x0 and returns the state at termination.
//
// The run ends when the objective changes by less than the tolerance
// between two iterations (Converged is true) or after MaxIterations
// iterations. Invalid settings fail before f is called and return a nil
// state. Errors from f, from the Recorder or from ctx end the run early;
// the returned state is then the last fully completed iteration.
func Minimize(ctx context.Context, f optimization.ObjectiveFunction, x0 []float64, settings Settings) (*State, error) {
	if err := settings.validate(f, x0); err != nil {
		return nil, err
	}

	st := newState(x0, settings)
	est := newEstimator(f, len(x0), settings)
	schedule := settings.schedule()

	value, err := est.evaluate(append([]float64(nil), st.Position...))
	if err != nil {
		return nil, err
	}
	st.ObjectiveValue = value

	for st.NumIterations < settings.MaxIterations && !st.Converged {
		if err := ctx.Err(); err != nil {
			return st.clone(), err
		}

		lr, perturb := schedule.At(st.NumIterations)
		accepted, err := est.step(st, lr, perturb)
		if err != nil {
			return st.clone(), err
		}
		st.NumIterations++
		st.Converged = converged(st)

		if settings.Logger != nil {
			settings.Logger.Debug("SPSA iteration", map[string]interface{}{
				"iteration": st.NumIterations,
				"objective": st.ObjectiveValue,
				"lr":        st.LR,
				"perturb":   st.Perturb,
				"accepted":  accepted,
				"converged": st.Converged,
			})
		}

		if settings.Recorder != nil {
			if err := settings.Recorder.Record(st.iterate(accepted)); err != nil {
				return st.clone(), fmt.Errorf("record iteration %d: %w", st.NumIterations, err)
			}
		}
	}

	return st.clone(), nil
}
