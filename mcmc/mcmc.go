// Package mcmc implements the three Metropolis kernels of spec.md §4.5 that
// sample the replicated individual-parameter block phiM: a prior-sample
// independence kernel, a full random-walk kernel, and a coordinate-wise
// random-walk kernel, sharing one accept/reject step and one data-likelihood
// evaluator.
package mcmc

import (
	"math"

	"github.com/op/go-logging"

	"github.com/nlmefit/saem/numeric"
)

var log = logging.MustGetLogger("mcmc")

// Target is the data-likelihood evaluator every kernel samples against
// (spec.md §4.5: "a common data-likelihood evaluator"). The SAEM driver
// implements it, wrapping the predictor adapter and the censored-likelihood
// correction; mcmc itself knows nothing about ODE solving or censoring.
type Target interface {
	// NegLogLikRow returns -log p(y_row | phi) for one row of phiM (one
	// subject within one chain replicate), along with the per-observation
	// prediction vector for that row, to be cached in FSave on acceptance.
	NegLogLikRow(row int, phi []float64) (negLogLik float64, f []float64)
}

// Prior holds the per-row prior mean and the shared covariance the three
// kernels propose against.
type Prior struct {
	// Mean is N*M x nphi; row i is mprior_i for phiM's row i.
	Mean *numeric.Matrix
	// Gamma is the nphi x nphi covariance; GammaDiag its diagonal, cached
	// separately since the random-walk kernels only ever need the diagonal
	// scale.
	Gamma     *numeric.Matrix
	GammaDiag []float64
	// InvGamma is Gamma's inverse, used by the quadratic-form delta in
	// kernels 2 and 3.
	InvGamma *numeric.Matrix
}

func (p Prior) quadForm(row int, phi []float64) float64 {
	nphi := len(phi)
	d := make([]float64, nphi)
	mean := p.Mean.Row(row)
	for j := 0; j < nphi; j++ {
		d[j] = phi[j] - mean[j]
	}
	var q float64
	for i := 0; i < nphi; i++ {
		var s float64
		for j := 0; j < nphi; j++ {
			s += p.InvGamma.At(i, j) * d[j]
		}
		q += d[i] * s
	}
	return q
}

// Sampler runs the three kernels over phiM in place.
type Sampler struct {
	Target Target
	Prior  Prior
	// Mask is the N*M x nphi `ue` matrix: zero entries pin the coordinate
	// to its prior mean, never perturbed by any kernel.
	Mask *numeric.Matrix
	// Rmcmc scales the random-walk kernels' proposal variance relative to
	// Gamma's diagonal (spec.md §4.5, kernel 2/3).
	Rmcmc float64

	// FSave caches, per row, the prediction vector written back on the
	// most recent acceptance -- spec.md §4.5's "so statistics computed
	// later do not re-solve."
	FSave [][]float64

	// Dump, if non-nil, receives phiM after every SAEM iteration (spec.md
	// §4.5's append-only chain dump). The SAEM driver owns opening and
	// closing it.
	Dump *ChainDump

	accepted, proposed int
}

// NewSampler constructs a Sampler over an N*M x nphi block.
func NewSampler(target Target, prior Prior, mask *numeric.Matrix, rmcmc float64) *Sampler {
	rows := mask.Rows()
	return &Sampler{
		Target: target,
		Prior:  prior,
		Mask:   mask,
		Rmcmc:  rmcmc,
		FSave:  make([][]float64, rows),
	}
}

// accept implements spec.md §4.5's shared acceptance rule: accept when
// deltaU (the increase in -log posterior) is less than an Exponential(1)
// draw, equivalently deltaU < -log(U), U ~ Uniform(0,1).
func accept(deltaU float64) bool {
	u := numeric.Uniform01()
	return deltaU < -math.Log(u)
}

// sweepRow applies f to every row of phiM once, in place; f itself does the
// proposal and the acceptance bookkeeping.
func (s *Sampler) sweepRow(phiM *numeric.Matrix, f func(row int)) {
	for row := 0; row < phiM.Rows(); row++ {
		f(row)
	}
}

// RunPriorKernel runs method=1 (spec.md §4.5.1): propose a fresh draw from
// the prior per subject, masked by ue, and accept/reject on the
// data-likelihood delta alone (proposal is the prior itself, so the prior
// ratio in the Metropolis-Hastings acceptance cancels).
func (s *Sampler) RunPriorKernel(phiM *numeric.Matrix, sweeps int) {
	L, err := s.Prior.Gamma.Cholesky()
	if err != nil {
		log.Warningf("prior kernel: covariance not positive-definite, skipping sweep: %v", err)
		return
	}
	for sweep := 0; sweep < sweeps; sweep++ {
		s.sweepRow(phiM, func(row int) {
			s.proposed++
			cur := phiM.Row(row)
			draw := numeric.MVNormal(s.Prior.Mean.Row(row), L)
			prop := maskedProposal(cur, draw, s.Mask.Row(row))

			curLL, _ := s.Target.NegLogLikRow(row, cur)
			propLL, propF := s.Target.NegLogLikRow(row, prop)

			deltaU := propLL - curLL
			if math.IsNaN(deltaU) {
				return
			}
			if accept(deltaU) {
				phiM.SetRow(row, prop)
				s.FSave[row] = propF
				s.accepted++
			}
		})
	}
}

// RunRandomWalk runs method=2 (spec.md §4.5.2): a full random-walk proposal
// phi' = phi + N(0, diag(Gamma)*rmcmc) masked by ue, accepted on the
// data-likelihood plus prior quadratic-form delta (the random walk is
// symmetric, so its own proposal ratio cancels).
func (s *Sampler) RunRandomWalk(phiM *numeric.Matrix, sweeps int) {
	sd := make([]float64, len(s.Prior.GammaDiag))
	for i, g := range s.Prior.GammaDiag {
		sd[i] = math.Sqrt(g * s.Rmcmc)
	}
	for sweep := 0; sweep < sweeps; sweep++ {
		s.sweepRow(phiM, func(row int) {
			s.proposed++
			cur := phiM.Row(row)
			mask := s.Mask.Row(row)
			prop := make([]float64, len(cur))
			copy(prop, cur)
			for j := range prop {
				if mask[j] != 0 {
					prop[j] = cur[j] + numeric.Normal(0, sd[j])
				}
			}
			s.acceptOrReject(phiM, row, cur, prop)
		})
	}
}

// RunCoordinateWise runs method=3 (spec.md §4.5.3): perturb one column of
// phi at a time, masked and accepted exactly as the full random walk but
// restricted to a single coordinate per proposal.
func (s *Sampler) RunCoordinateWise(phiM *numeric.Matrix, sweeps int) {
	sd := make([]float64, len(s.Prior.GammaDiag))
	for i, g := range s.Prior.GammaDiag {
		sd[i] = math.Sqrt(g * s.Rmcmc)
	}
	nphi := phiM.Cols()
	for sweep := 0; sweep < sweeps; sweep++ {
		for k := 0; k < nphi; k++ {
			s.sweepRow(phiM, func(row int) {
				s.proposed++
				mask := s.Mask.Row(row)
				if mask[k] == 0 {
					return
				}
				cur := phiM.Row(row)
				prop := make([]float64, len(cur))
				copy(prop, cur)
				prop[k] = cur[k] + numeric.Normal(0, sd[k])
				s.acceptOrReject(phiM, row, cur, prop)
			})
		}
	}
}

func (s *Sampler) acceptOrReject(phiM *numeric.Matrix, row int, cur, prop []float64) {
	curLL, _ := s.Target.NegLogLikRow(row, cur)
	propLL, propF := s.Target.NegLogLikRow(row, prop)
	deltaU := (propLL + s.Prior.quadForm(row, prop)/2) - (curLL + s.Prior.quadForm(row, cur)/2)
	if math.IsNaN(deltaU) {
		return
	}
	if accept(deltaU) {
		phiM.SetRow(row, prop)
		s.FSave[row] = propF
		s.accepted++
	}
}

// maskedProposal returns draw where mask is nonzero and cur otherwise.
func maskedProposal(cur, draw, mask []float64) []float64 {
	out := make([]float64, len(cur))
	for j := range out {
		if mask[j] != 0 {
			out[j] = draw[j]
		} else {
			out[j] = cur[j]
		}
	}
	return out
}

// AcceptanceRate returns the running acceptance fraction across every
// kernel invocation since construction, for diagnostics/logging.
func (s *Sampler) AcceptanceRate() float64 {
	if s.proposed == 0 {
		return 0
	}
	return float64(s.accepted) / float64(s.proposed)
}

// RunIteration runs the fixed kernel order of spec.md §5 ("the three MCMC
// kernels run in a fixed order 1 -> 2 -> 3") for one SAEM iteration, with
// the burn-in schedule of spec.md §4.5: 20*nu[m] sweeps at k==0, nu[m]
// sweeps thereafter. Before the kernels run, every masked coordinate of phiM
// is set to its current prior mean.
func (s *Sampler) RunIteration(phiM *numeric.Matrix, k int, nu [3]int) {
	sweeps := func(m int) int {
		if k == 0 {
			return 20 * nu[m]
		}
		return nu[m]
	}
	for row := 0; row < phiM.Rows(); row++ {
		mask := s.Mask.Row(row)
		for j, v := range mask {
			if v == 0 {
				phiM.Set(row, j, s.Prior.Mean.At(row, j))
			}
		}
	}
	s.RunPriorKernel(phiM, sweeps(0))
	s.RunRandomWalk(phiM, sweeps(1))
	s.RunCoordinateWise(phiM, sweeps(2))
	if s.Dump != nil {
		if err := s.Dump.Append(phiM); err != nil {
			log.Errorf("failed to append phiM to chain dump: %v", err)
		}
	}
}
