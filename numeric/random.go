package numeric

import (
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Rng is a package-level source shared by the estimator's draws, mirroring
// the teacher's reliance on the global math/rand source (see mcmc.init,
// optimize/proposal.go) rather than threading a *rand.Rand through every
// call.
var Rng = rand.New(rand.NewSource(1))

// Seed reseeds the package-level generator. Fit callers that need
// reproducible runs should call this before saem.Fit.
func Seed(seed int64) {
	Rng = rand.New(rand.NewSource(uint64(seed)))
}

// StdNormal draws a single standard normal variate.
func StdNormal() float64 {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: Rng}.Rand()
}

// Normal draws a single N(mu, sigma^2) variate.
func Normal(mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: Rng}.Rand()
}

// Uniform01 draws a single Uniform(0,1) variate.
func Uniform01() float64 {
	return distuv.Uniform{Min: 0, Max: 1, Src: Rng}.Rand()
}

// NormalVector fills a length-n vector with independent N(mean[i],
// sigma[i]^2) draws.
func NormalVector(mean, sigma []float64) []float64 {
	out := make([]float64, len(mean))
	for i := range out {
		out[i] = Normal(mean[i], sigma[i])
	}
	return out
}

// MVNormal draws a single sample from N(mean, Sigma) using the lower
// Cholesky factor L of Sigma: x = mean + L*z, z ~ N(0, I).
func MVNormal(mean []float64, L *Matrix) []float64 {
	n := len(mean)
	z := make([]float64, n)
	for i := range z {
		z[i] = StdNormal()
	}
	out := make([]float64, n)
	copy(out, mean)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j <= i; j++ {
			s += L.At(i, j) * z[j]
		}
		out[i] += s
	}
	return out
}

// StdNormalCDF is Phi(x), the standard normal CDF, used by the censored
// likelihood correction (spec.md §4.4).
func StdNormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// StdNormalLogCDF is log(Phi(x)), computed without losing precision for very
// negative x (important for heavily censored data where Phi(x) underflows).
func StdNormalLogCDF(x float64) float64 {
	p := distuv.UnitNormal.CDF(x)
	if p > 0 {
		return math.Log(p)
	}
	// Mills-ratio asymptotic for the deep left tail, where Phi(x) underflows
	// to 0 but the log is still well defined: log Phi(x) ~ -x^2/2 - log(-x)
	// - log(sqrt(2*pi)).
	return -0.5*x*x - math.Log(-x) - 0.5*math.Log(2*math.Pi)
}
