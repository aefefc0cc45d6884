// Package predict implements the predictor adapter of spec.md §4.3: a thin,
// retrying wrapper around an externally supplied ODE-solving Solver. The
// estimator never talks to the solver directly, only through an Adapter.
package predict

import (
	"math"

	"github.com/op/go-logging"

	"github.com/nlmefit/saem/numeric"
)

var log = logging.MustGetLogger("predict")

// naNReplacement is the sentinel value a NaN prediction is replaced with
// (spec.md §4.3, §7).
const naNReplacement = 1e99

// Tolerances carries the solver's absolute and relative error tolerances,
// which the adapter relaxes and restores around a retried solve.
type Tolerances struct {
	Atol, Rtol float64
}

// scale returns a copy of t with both tolerances multiplied by factor.
func (t Tolerances) scale(factor float64) Tolerances {
	return Tolerances{Atol: t.Atol * factor, Rtol: t.Rtol * factor}
}

// Solver is the black-box ODE predictor spec.md §2/§4.3 treats as opaque:
// given the (nM*nphi) matrix of sampled individual parameters, the event
// matrix and the current tolerances, it returns the (nObs*3) prediction
// matrix -- f, cens, limit, one row per observation, in event order -- or
// reports that the solve was bad and should be retried at relaxed
// tolerances.
type Solver interface {
	Solve(phi *numeric.Matrix, evt *numeric.Matrix, tol Tolerances) (f, cens, limit []float64, badSolve bool)
}

// Result is the predictor output matrix of spec.md §4.3: one (f, cens,
// limit) triple per observation, row order matching the event matrix.
type Result struct {
	F, Cens, Limit []float64
}

// Adapter wraps a Solver with the tolerance-relax-and-retry loop and the
// one-shot NaN-prediction warning of spec.md §4.3/§7.
type Adapter struct {
	Solver Solver

	// OdeRecalcFactor multiplies both tolerances on each retry.
	OdeRecalcFactor float64
	// MaxOdeRecalc bounds the number of retries after the first attempt.
	MaxOdeRecalc int

	warned bool
}

// NewAdapter constructs an Adapter with the given retry policy.
func NewAdapter(solver Solver, odeRecalcFactor float64, maxOdeRecalc int) *Adapter {
	return &Adapter{Solver: solver, OdeRecalcFactor: odeRecalcFactor, MaxOdeRecalc: maxOdeRecalc}
}

// Predict calls the solver in place, preserving row ordering and
// observation count (spec.md §4.3). On a "bad solve" it relaxes tolerances
// multiplicatively and retries up to MaxOdeRecalc times, restoring the
// original tolerances afterward regardless of outcome. Any NaN prediction
// in the final result is replaced by 1e99 and triggers a one-shot warning
// for the lifetime of the Adapter.
func (a *Adapter) Predict(phi, evt *numeric.Matrix, tol Tolerances) Result {
	cur := tol
	var f, cens, limit []float64
	var bad bool
	attempts := a.MaxOdeRecalc + 1
	for attempt := 0; attempt < attempts; attempt++ {
		f, cens, limit, bad = a.Solver.Solve(phi, evt, cur)
		if !bad {
			break
		}
		if attempt < attempts-1 {
			log.Debugf("predictor reported a bad solve, relaxing tolerances (attempt %d/%d)", attempt+1, a.MaxOdeRecalc)
			cur = cur.scale(a.OdeRecalcFactor)
		}
	}
	// cur is local to this call: every relaxed tolerance it accumulated is
	// discarded here, which is this adapter's equivalent of saem.cpp's
	// explicit "restore by the inverse product" step against its mutable
	// global tolerance state.
	a.replaceNaN(f)
	return Result{F: f, Cens: cens, Limit: limit}
}

func (a *Adapter) replaceNaN(f []float64) {
	for i, v := range f {
		if math.IsNaN(v) {
			f[i] = naNReplacement
			if !a.warned {
				log.Warning("predictor returned NaN for at least one observation; replacing with 1e99 (reported once per fit)")
				a.warned = true
			}
		}
	}
}
