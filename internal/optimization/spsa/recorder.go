package spsa

// Iterate is a snapshot of the state after one iteration.
type Iterate struct {
	Iteration                       int
	Position                        []float64
	ObjectiveValue                  float64
	ObjectiveValuePreviousIteration float64
	LR                              float64
	Perturb                         float64
	Accepted                        bool
	Converged                       bool
	NumObjectiveEvaluations         int
}

// Recorder receives the iterates of a run. An error aborts the run.
type Recorder interface {
	Record(it Iterate) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(it Iterate) error

// Record calls f(it).
func (f RecorderFunc) Record(it Iterate) error {
	return f(it)
}

// Recorders fans an iterate out to several recorders in order, stopping at
// the first error. Nil entries are skipped.
type Recorders []Recorder

// Record implements Recorder.
func (rs Recorders) Record(it Iterate) error {
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Record(it); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) iterate(accepted bool) Iterate {
	return Iterate{
		Iteration:                       s.NumIterations,
		Position:                        append([]float64(nil), s.Position...),
		ObjectiveValue:                  s.ObjectiveValue,
		ObjectiveValuePreviousIteration: s.ObjectiveValuePreviousIteration,
		LR:                              s.LR,
		Perturb:                         s.Perturb,
		Accepted:                        accepted,
		Converged:                       s.Converged,
		NumObjectiveEvaluations:         s.NumObjectiveEvaluations,
	}
}
