// Package objectives provides named benchmark objectives for the SPSA
// service and command line.
package objectives

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/spsa/internal/optimization"
)

// Params parameterizes an objective.
type Params struct {
	// Weights of weighted-quadratic; the dimension of x must match.
	Weights []float64 `json:"weights,omitempty"`
	// NoiseScale is the standard deviation of the noise added by noisy objectives.
	NoiseScale float64 `json:"noise_scale,omitempty"`
	// NoiseSeed seeds the noise of noisy objectives.
	NoiseSeed uint64 `json:"noise_seed,omitempty"`
}

// Info describes a registered objective.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type factory func(Params) (optimization.ObjectiveFunction, error)

type entry struct {
	description string
	build       factory
}

var registry = map[string]entry{
	"sphere": {
		description: "sum of squares, minimum 0 at the origin",
		build:       fixed(Sphere),
	},
	"rosenbrock": {
		description: "Rosenbrock valley, minimum 0 at (1, ..., 1)",
		build:       fixed(Rosenbrock),
	},
	"rastrigin": {
		description: "Rastrigin, highly multimodal, minimum 0 at the origin",
		build:       fixed(Rastrigin),
	},
	"weighted-quadratic": {
		description: "sum of weights[i]*x[i]^2; requires weights",
		build:       weightedQuadratic,
	},
	"noisy-sphere": {
		description: "sphere plus Gaussian noise of standard deviation noise_scale",
		build:       noisySphere,
	},
}

// Names returns the registered objective names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List describes every registered objective, sorted by name.
func List() []Info {
	names := Names()
	infos := make([]Info, len(names))
	for i, name := range names {
		infos[i] = Info{Name: name, Description: registry[name].description}
	}
	return infos
}

// Lookup builds the named objective.
func Lookup(name string, p Params) (optimization.ObjectiveFunction, error) {
	e, ok := registry[name]
	if !ok {
		return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown objective %q", name).
			WithComponent("objectives")
	}
	return e.build(p)
}

func fixed(f func([]float64) float64) factory {
	return func(Params) (optimization.ObjectiveFunction, error) {
		return func(x []float64) (float64, error) {
			return f(x), nil
		}, nil
	}
}

// Sphere returns sum(x_i^2).
func Sphere(x []float64) float64 {
	return floats.Dot(x, x)
}

// Rosenbrock returns sum(100*(x_{i+1}-x_i^2)^2 + (1-x_i)^2).
func Rosenbrock(x []float64) float64 {
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

// Rastrigin returns 10n + sum(x_i^2 - 10*cos(2*pi*x_i)).
func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

func weightedQuadratic(p Params) (optimization.ObjectiveFunction, error) {
	if len(p.Weights) == 0 {
		return nil, optimization.NewError(optimization.KindInvalidArgument, "weighted-quadratic requires weights").
			WithComponent("objectives")
	}
	w := append([]float64(nil), p.Weights...)
	sq := make([]float64, len(w))
	var mu sync.Mutex
	return func(x []float64) (float64, error) {
		if len(x) != len(w) {
			return 0, optimization.NewErrorf(optimization.KindShapeMismatch,
				"position has %d dimensions, weights have %d", len(x), len(w)).
				WithComponent("objectives")
		}
		mu.Lock()
		defer mu.Unlock()
		floats.MulTo(sq, x, x)
		return floats.Dot(w, sq), nil
	}, nil
}

func noisySphere(p Params) (optimization.ObjectiveFunction, error) {
	if p.NoiseScale < 0 {
		return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "noise scale must be non-negative, got %g", p.NoiseScale).
			WithComponent("objectives")
	}
	noise := distuv.Normal{Mu: 0, Sigma: p.NoiseScale, Src: rand.NewPCG(p.NoiseSeed, p.NoiseSeed)}
	var mu sync.Mutex
	return func(x []float64) (float64, error) {
		mu.Lock()
		n := noise.Rand()
		mu.Unlock()
		return Sphere(x) + n, nil
	}, nil
}
