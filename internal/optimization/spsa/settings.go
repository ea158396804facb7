package spsa

import (
	"math/rand/v2"

	"github.com/copyleftdev/spsa/internal/optimization"
)

// Default hyperparameters. Alpha and Gamma are the decay exponents
// recommended in the SPSA literature.
const (
	DefaultTolerance       = 1e-5
	DefaultMaxIterations   = 200
	DefaultAlpha           = 0.602
	DefaultGamma           = 0.101
	DefaultLR              = 1.0
	DefaultPerturb         = 1.0
	DefaultAllowedIncrease = 0.5
)

// Logger is the subset of logging.Logger used by the minimizer.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
}

// Settings configures a Minimize run.
type Settings struct {
	// Tolerance stops the run once the objective changes by less than this
	// amount between two iterations.
	Tolerance float64
	// MaxIterations bounds the number of iterations.
	MaxIterations int

	// LR and Alpha are the initial learning rate and its decay exponent.
	LR    float64
	Alpha float64
	// Perturb and Gamma are the initial perturbation size and its decay exponent.
	Perturb float64
	Gamma   float64

	// Blocking rejects updates that raise the objective by more than
	// AllowedIncrease over the previous iteration's value.
	Blocking        bool
	AllowedIncrease float64

	// Source drives the perturbation directions. It is required; use
	// NewSource for reproducible runs or NewUnseededSource otherwise.
	Source rand.Source

	// Concurrent evaluates the two perturbed points in parallel. The
	// objective must then be safe for concurrent use.
	Concurrent bool
	// AbortOnNonFinite fails the run with ErrNonFinite when the objective
	// returns NaN or an infinity. By default such values are accepted and
	// the run simply never converges on them.
	AbortOnNonFinite bool

	// Recorder, when set, receives every iterate.
	Recorder Recorder
	// Logger, when set, receives a debug entry per iteration.
	Logger Logger
}

// DefaultSettings returns the default hyperparameters. The returned
// settings have no Source.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:       DefaultTolerance,
		MaxIterations:   DefaultMaxIterations,
		LR:              DefaultLR,
		Alpha:           DefaultAlpha,
		Perturb:         DefaultPerturb,
		Gamma:           DefaultGamma,
		AllowedIncrease: DefaultAllowedIncrease,
	}
}

// WithSeed returns a copy of s whose Source is seeded with seed.
func (s Settings) WithSeed(seed uint64) Settings {
	s.Source = NewSource(seed)
	return s
}

func (s Settings) schedule() Schedule {
	return Schedule{
		LR:            s.LR,
		Alpha:         s.Alpha,
		Perturb:       s.Perturb,
		Gamma:         s.Gamma,
		MaxIterations: s.MaxIterations,
	}
}

// Validate checks the settings on their own, without an objective or a
// starting point.
func (s Settings) Validate() error {
	if s.MaxIterations < 0 {
		return invalidArgument("max iterations must be non-negative, got %d", s.MaxIterations)
	}
	if s.Tolerance < 0 {
		return invalidArgument("tolerance must be non-negative, got %g", s.Tolerance)
	}
	if s.LR <= 0 {
		return invalidArgument("learning rate must be positive, got %g", s.LR)
	}
	if s.Perturb <= 0 {
		return invalidArgument("perturbation size must be positive, got %g", s.Perturb)
	}
	if s.Source == nil {
		return invalidArgument("random source is required")
	}
	return nil
}

func (s Settings) validate(f optimization.ObjectiveFunction, x0 []float64) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if f == nil {
		return invalidArgument("objective function is required")
	}
	if len(x0) == 0 {
		return optimization.NewError(optimization.KindShapeMismatch, "initial position must be a non-empty vector").
			WithOperation("minimize").
			WithComponent(component)
	}
	return nil
}

func invalidArgument(format string, args ...interface{}) error {
	return optimization.NewErrorf(optimization.KindInvalidArgument, format, args...).
		WithOperation("minimize").
		WithComponent(component)
}
