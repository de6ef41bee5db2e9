package phifd

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ewmaDecay is the fixed EWMA decay factor α used by every
// InterArrivalDistribution. See spec §4.3.
const ewmaDecay = 0.9

// InterArrivalDistribution maintains an online estimate of the distribution
// of inter-arrival times of messages from one peer, updated by EWMA rather
// than from a stored sample window (see spec §9, "EWMA vs. bounded window").
type InterArrivalDistribution struct {
	mu       float64
	sigma    float64
	sigma2   float64
	observed bool // false until the first update, true afterwards
}

// update folds a new inter-arrival observation x (seconds) into the
// running estimate. The first call just seeds μ=x, σ²=0; every later call
// applies the EWMA recurrence from spec §4.3.
func (d *InterArrivalDistribution) update(x float64) {
	if !d.observed {
		d.mu = x
		d.sigma2 = 0
		d.sigma = 0
		d.observed = true
		return
	}

	newMu := ewmaDecay*d.mu + (1-ewmaDecay)*x
	newVar := ewmaDecay*d.sigma2 + (1-ewmaDecay)*(x-d.mu)*(x-newMu)

	d.mu = newMu
	d.sigma2 = newVar
	if d.sigma2 < 0 {
		// Guards against floating-point underflow producing a tiny
		// negative variance; it is mathematically always >= 0.
		d.sigma2 = 0
	}
	d.sigma = math.Sqrt(d.sigma2)
}

// phi computes the suspicion level for a silence duration of deltaSeconds,
// given the distribution's current (μ, σ). Returns false ("no value") if σ
// is zero — e.g. only a single observation has been folded in so far, or
// every observation was identical — so the distribution is degenerate and
// has no meaningful tail probability.
func (d *InterArrivalDistribution) phi(deltaSeconds float64) (float64, bool) {
	if !d.observed || d.sigma == 0 {
		return 0, false
	}
	n := distuv.Normal{Mu: d.mu, Sigma: d.sigma}
	tail := 1 - n.CDF(deltaSeconds)
	if tail <= 0 {
		// Tail probability underflowed to zero: φ is unboundedly large.
		// log10(+Inf) is +Inf, which is the mathematically correct answer.
		return math.Inf(1), true
	}
	return -math.Log10(tail), true
}
