package spsa

import "math"

// Schedule derives the per-iteration learning rate and perturbation size
// from their initial values. Nothing is accumulated between iterations.
type Schedule struct {
	LR            float64
	Alpha         float64
	Perturb       float64
	Gamma         float64
	MaxIterations int
}

// At returns the learning rate and perturbation size for the 0-based
// iteration k:
//
//	lr_k      = LR      / (k + 1 + 0.01*MaxIterations)^Alpha
//	perturb_k = Perturb / (k + 1)^Gamma
func (s Schedule) At(k int) (lr, perturb float64) {
	step := float64(k + 1)
	lr = s.LR / math.Pow(step+0.01*float64(s.MaxIterations), s.Alpha)
	perturb = s.Perturb / math.Pow(step, s.Gamma)
	return lr, perturb
}
