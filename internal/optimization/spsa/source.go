package spsa

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NewSource returns a deterministic source: runs given sources built from
// the same seed draw identical perturbations.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed)
}

// NewUnseededSource returns a source seeded from the runtime's entropy.
// Each call yields an independent stream, so concurrent runs never share
// random state.
func NewUnseededSource() rand.Source {
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

// perturber draws symmetric ±1 perturbation directions.
type perturber struct {
	mask distuv.Bernoulli
}

func newPerturber(src rand.Source) perturber {
	return perturber{mask: distuv.Bernoulli{P: 0.5, Src: src}}
}

// draw fills dst with independent, equiprobable ±1 entries.
func (p perturber) draw(dst []float64) {
	for i := range dst {
		dst[i] = 2*p.mask.Rand() - 1
	}
}
