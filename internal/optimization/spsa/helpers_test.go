package spsa

import (
	"math"
	"sync/atomic"
)

// sphere is sum(x_i^2), minimum 0 at the origin.
func sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// shiftedQuadratic has its minimum of 0 at (3, -2, 1, ...).
func shiftedQuadratic(x []float64) (float64, error) {
	sum := 0.0
	for i, v := range x {
		d := v - (3 - 5*float64(i%2)) + float64(i/2)*2
		sum += d * d
	}
	return sum, nil
}

// countingObjective wraps f and counts its calls.
type countingObjective struct {
	f     func([]float64) (float64, error)
	calls atomic.Int64
}

func (c *countingObjective) eval(x []float64) (float64, error) {
	c.calls.Add(1)
	return c.f(x)
}

// trajectory collects the iterates of a run.
type trajectory struct {
	iterates []Iterate
}

func (t *trajectory) Record(it Iterate) error {
	t.iterates = append(t.iterates, it)
	return nil
}

func seeded(seed uint64) Settings {
	return DefaultSettings().WithSeed(seed)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
