// Package censor implements the censored-likelihood correction of spec.md
// §4.4: replacing the ordinary Gaussian log-density contribution at a
// censored observation with the log-probability that the latent prediction
// falls in the censored region. The same correction is applied everywhere
// a data likelihood is evaluated -- the initial MCMC state and every
// proposal (spec.md §4.4, last line) -- by routing every likelihood
// evaluation through NegLogLik below.
package censor

import (
	"math"

	"github.com/nlmefit/saem/numeric"
)

// Flag is the per-observation censoring indicator.
type Flag int

const (
	// None means an ordinary, uncensored observation.
	None Flag = 0
	// Right means the true value is known only to be >= the reported
	// limit (right-censored).
	Right Flag = 1
	// Left means the true value is known only to be <= the reported
	// limit (left-censored).
	Left Flag = -1
)

const tinyProb = 1e-300

// NegLogLik returns the contribution to DYF (spec.md §4.4) of one
// observation: the ordinary Gaussian term for an uncensored observation, or
// the censored-region log-probability correction otherwise.
//
// yhat, fhat and sigma are already on the transformed scale. limitHat is
// the transformed Tobit bound; haveLimit is false when the configured limit
// was -Inf (absent). haveY is false when the observed value itself is not
// finite (pure half-line censoring rather than an interval).
func NegLogLik(yhat, fhat, sigma float64, cens Flag, limitHat float64, haveLimit, haveY bool) float64 {
	if cens == None {
		r := (yhat - fhat) / sigma
		return 0.5*r*r + math.Log(sigma)
	}
	if haveLimit && haveY {
		lo, hi := limitHat, yhat
		if lo > hi {
			lo, hi = hi, lo
		}
		a := (lo - fhat) / sigma
		b := (hi - fhat) / sigma
		p := numeric.StdNormalCDF(b) - numeric.StdNormalCDF(a)
		if p < tinyProb {
			p = tinyProb
		}
		return -math.Log(p)
	}
	switch cens {
	case Right:
		return -numeric.StdNormalLogCDF((limitHat-fhat)/sigma) - math.Log(sigma)
	case Left:
		return -numeric.StdNormalLogCDF((fhat-limitHat)/sigma) - math.Log(sigma)
	default:
		panic("censor: unknown Flag")
	}
}
