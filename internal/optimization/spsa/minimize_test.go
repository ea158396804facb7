package spsa

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/spsa/internal/optimization"
)

func TestMinimizeConvergesOnSphere(t *testing.T) {
	st, err := Minimize(context.Background(), sphere, []float64{1.0, 1.0}, seeded(60))
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.True(t, st.Converged)
	assert.Less(t, st.ObjectiveValue, 1e-2)
	assert.InDelta(t, 5.092566464125203e-05, st.ObjectiveValue, 1e-9)
	assert.Equal(t, 7, st.NumIterations)
	assert.Equal(t, 14, st.NumObjectiveEvaluations)
	assert.Equal(t, 7, st.NumCandidateEvaluations)
	assert.Equal(t, 22, st.TotalEvaluations())
	assert.Len(t, st.Position, 2)

	// Configuration is echoed back.
	assert.Equal(t, DefaultTolerance, st.Tolerance)
	assert.Equal(t, DefaultAlpha, st.Alpha)
	assert.Equal(t, DefaultGamma, st.Gamma)
	assert.False(t, st.Blocking)
	assert.Equal(t, DefaultAllowedIncrease, st.AllowedIncrease)
	lr, perturb := DefaultSettings().schedule().At(6)
	assert.Equal(t, lr, st.LR)
	assert.Equal(t, perturb, st.Perturb)
}

func TestMinimizeZeroBudget(t *testing.T) {
	f := &countingObjective{f: sphere}
	settings := seeded(1)
	settings.MaxIterations = 0
	x0 := []float64{0.5, -3, 7}

	st, err := Minimize(context.Background(), f.eval, x0, settings)
	require.NoError(t, err)

	assert.False(t, st.Converged)
	assert.Equal(t, 0, st.NumIterations)
	assert.Equal(t, 0, st.NumObjectiveEvaluations)
	assert.Equal(t, x0, st.Position)
	assert.Equal(t, 58.25, st.ObjectiveValue)
	assert.True(t, math.IsInf(st.ObjectiveValuePreviousIteration, 1))
	assert.Equal(t, int64(1), f.calls.Load(), "only the initial evaluation runs")
}

func TestMinimizeInvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Settings)
		x0       []float64
		nilF     bool
		wantKind optimization.Kind
	}{
		{name: "negative max iterations", mutate: func(s *Settings) { s.MaxIterations = -1 }, x0: []float64{1}, wantKind: optimization.KindInvalidArgument},
		{name: "negative tolerance", mutate: func(s *Settings) { s.Tolerance = -1 }, x0: []float64{1}, wantKind: optimization.KindInvalidArgument},
		{name: "zero learning rate", mutate: func(s *Settings) { s.LR = 0 }, x0: []float64{1}, wantKind: optimization.KindInvalidArgument},
		{name: "negative perturbation", mutate: func(s *Settings) { s.Perturb = -0.5 }, x0: []float64{1}, wantKind: optimization.KindInvalidArgument},
		{name: "missing source", mutate: func(s *Settings) { s.Source = nil }, x0: []float64{1}, wantKind: optimization.KindInvalidArgument},
		{name: "missing objective", x0: []float64{1}, nilF: true, wantKind: optimization.KindInvalidArgument},
		{name: "empty position", x0: []float64{}, wantKind: optimization.KindShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := seeded(1)
			if tt.mutate != nil {
				tt.mutate(&settings)
			}
			f := &countingObjective{f: sphere}
			objective := f.eval
			if tt.nilF {
				objective = nil
			}

			st, err := Minimize(context.Background(), objective, tt.x0, settings)
			require.Error(t, err)
			assert.Nil(t, st)
			assert.Equal(t, tt.wantKind, optimization.KindOf(err))
			assert.Equal(t, int64(0), f.calls.Load(), "no objective call before validation")
		})
	}

	_, err := Minimize(context.Background(), sphere, []float64{1}, Settings{MaxIterations: -1})
	assert.ErrorIs(t, err, optimization.ErrInvalidArgument)
}

func TestMinimizeCounters(t *testing.T) {
	settings := seeded(9)
	settings.Tolerance = 0 // |diff| < 0 never holds
	settings.MaxIterations = 50
	tr := &trajectory{}
	settings.Recorder = tr

	f := &countingObjective{f: shiftedQuadratic}
	st, err := Minimize(context.Background(), f.eval, []float64{0, 0, 0, 0}, settings)
	require.NoError(t, err)

	assert.False(t, st.Converged)
	assert.Equal(t, 50, st.NumIterations)
	assert.Equal(t, 2*st.NumIterations, st.NumObjectiveEvaluations)
	assert.Equal(t, 50, st.NumCandidateEvaluations)
	assert.Equal(t, int64(st.TotalEvaluations()), f.calls.Load())

	require.Len(t, tr.iterates, 50)
	for i, it := range tr.iterates {
		assert.Equal(t, i+1, it.Iteration)
		assert.Equal(t, 2*(i+1), it.NumObjectiveEvaluations)
		assert.LessOrEqual(t, it.Iteration, settings.MaxIterations)
	}
}

func TestMinimizeBlocking(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3, 4, 5} {
		settings := seeded(seed)
		settings.Blocking = true
		settings.AllowedIncrease = 0
		settings.Tolerance = 0
		settings.MaxIterations = 100
		tr := &trajectory{}
		settings.Recorder = tr

		x0 := []float64{4, -4, 2}
		st, err := Minimize(context.Background(), shiftedQuadratic, x0, settings)
		require.NoError(t, err)
		require.Len(t, tr.iterates, 100)

		// An accepted step never exceeds the value the rule compared it to:
		// the previous-iteration value held before the step.
		before := math.Inf(1)
		for _, it := range tr.iterates {
			if it.Accepted {
				assert.LessOrEqual(t, it.ObjectiveValue, before, "seed %d iteration %d", seed, it.Iteration)
			}
			before = it.ObjectiveValuePreviousIteration
		}
		assert.Equal(t, tr.iterates[len(tr.iterates)-1].ObjectiveValue, st.ObjectiveValue)
	}
}

func TestMinimizeBlockingRejectedStepKeepsPosition(t *testing.T) {
	settings := seeded(4)
	settings.Blocking = true
	settings.AllowedIncrease = 0
	settings.Tolerance = 0
	settings.MaxIterations = 60
	tr := &trajectory{}
	settings.Recorder = tr

	_, err := Minimize(context.Background(), shiftedQuadratic, []float64{10, 10}, settings)
	require.NoError(t, err)

	for i := 1; i < len(tr.iterates); i++ {
		if !tr.iterates[i].Accepted {
			assert.Equal(t, tr.iterates[i-1].Position, tr.iterates[i].Position)
			assert.Equal(t, tr.iterates[i-1].ObjectiveValue, tr.iterates[i].ObjectiveValue)
		}
	}
}

func TestMinimizeDeterministicUnderSeed(t *testing.T) {
	run := func() ([]Iterate, *State) {
		settings := seeded(1234)
		settings.MaxIterations = 80
		settings.Tolerance = 1e-12
		tr := &trajectory{}
		settings.Recorder = tr
		st, err := Minimize(context.Background(), shiftedQuadratic, []float64{1, 1, 1}, settings)
		require.NoError(t, err)
		return tr.iterates, st
	}

	a, sa := run()
	b, sb := run()
	assert.Equal(t, a, b)
	assert.Equal(t, sa, sb)
}

func TestMinimizeConcurrentMatchesSequential(t *testing.T) {
	settings := seeded(77)
	settings.MaxIterations = 40
	seq, err := Minimize(context.Background(), shiftedQuadratic, []float64{2, 2, 2, 2}, settings)
	require.NoError(t, err)

	settings = seeded(77)
	settings.MaxIterations = 40
	settings.Concurrent = true
	con, err := Minimize(context.Background(), shiftedQuadratic, []float64{2, 2, 2, 2}, settings)
	require.NoError(t, err)

	assert.Equal(t, seq, con)
}

func TestMinimizeObjectiveErrorPropagates(t *testing.T) {
	boom := errors.New("backend unavailable")
	f := &countingObjective{}
	f.f = func(x []float64) (float64, error) {
		// initial + 3 full iterations, then fail on the next perturbed call
		if f.calls.Load() == 11 {
			return 0, boom
		}
		return sphere(x)
	}

	settings := seeded(2)
	settings.Tolerance = 0
	st, err := Minimize(context.Background(), f.eval, []float64{1, 2}, settings)
	require.Error(t, err)
	assert.Same(t, boom, err, "objective errors are returned unmodified")

	require.NotNil(t, st)
	assert.Equal(t, 3, st.NumIterations)
	assert.Equal(t, 6, st.NumObjectiveEvaluations)
	assert.False(t, st.Converged)

	// Schedule values belong to the last completed iteration, not the failed one.
	wantLR, wantPerturb := settings.schedule().At(2)
	assert.Equal(t, wantLR, st.LR)
	assert.Equal(t, wantPerturb, st.Perturb)
}

func TestMinimizeInitialEvaluationError(t *testing.T) {
	boom := errors.New("no signal")
	st, err := Minimize(context.Background(), func([]float64) (float64, error) { return 0, boom }, []float64{1}, seeded(1))
	assert.Nil(t, st)
	assert.Same(t, boom, err)
}

func TestMinimizeNonFinite(t *testing.T) {
	nanAfter := func(n int64) *countingObjective {
		f := &countingObjective{}
		f.f = func(x []float64) (float64, error) {
			if f.calls.Load() > n {
				return math.NaN(), nil
			}
			return sphere(x)
		}
		return f
	}

	settings := seeded(3)
	settings.MaxIterations = 25
	st, err := Minimize(context.Background(), nanAfter(4).eval, []float64{1, 2}, settings)
	require.NoError(t, err)
	assert.False(t, st.Converged, "NaN differences never satisfy the tolerance")
	assert.Equal(t, 25, st.NumIterations)
	assert.False(t, isFinite(st.ObjectiveValue))

	settings = seeded(3)
	settings.AbortOnNonFinite = true
	st, err = Minimize(context.Background(), nanAfter(4).eval, []float64{1, 2}, settings)
	require.ErrorIs(t, err, optimization.ErrNonFinite)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.NumIterations)
	assert.True(t, isFinite(st.ObjectiveValue))
}

func TestMinimizeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := seeded(8)
	settings.Tolerance = 0
	settings.Recorder = RecorderFunc(func(it Iterate) error {
		if it.Iteration == 3 {
			cancel()
		}
		return nil
	})

	st, err := Minimize(ctx, sphere, []float64{1, 1}, settings)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, st.NumIterations)
}

func TestMinimizeRecorderError(t *testing.T) {
	stop := errors.New("disk full")
	settings := seeded(8)
	settings.Tolerance = 0
	settings.Recorder = Recorders{nil, RecorderFunc(func(it Iterate) error {
		if it.Iteration == 2 {
			return stop
		}
		return nil
	})}

	st, err := Minimize(context.Background(), sphere, []float64{1, 1}, settings)
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, st.NumIterations)
}

func TestMinimizeDoesNotAliasInputs(t *testing.T) {
	x0 := []float64{1, 1}
	st, err := Minimize(context.Background(), sphere, x0, seeded(60))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, x0)

	st.Position[0] = 99
	again, err := Minimize(context.Background(), sphere, x0, seeded(60))
	require.NoError(t, err)
	assert.NotEqual(t, 99.0, again.Position[0])
}

type debugLogger struct {
	entries []map[string]interface{}
}

func (l *debugLogger) Debug(msg string, fields ...map[string]interface{}) {
	if len(fields) > 0 {
		l.entries = append(l.entries, fields[0])
	}
}

func TestMinimizeLogsIterations(t *testing.T) {
	logger := &debugLogger{}
	settings := seeded(60)
	settings.Logger = logger

	st, err := Minimize(context.Background(), sphere, []float64{1, 1}, settings)
	require.NoError(t, err)
	require.Len(t, logger.entries, st.NumIterations)
	assert.Equal(t, true, logger.entries[len(logger.entries)-1]["converged"])
}
