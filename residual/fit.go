package residual

import (
	"math"

	"github.com/op/go-logging"

	"github.com/nlmefit/saem/optimize"
)

var log = logging.MustGetLogger("residual")

// MethodType selects whether a failed bounded 1-D fit falls back to
// Nelder-Mead, per spec.md §6's `type` field. Both types use Nelder-Mead
// for two or more free parameters and the bounded 1-D minimizer for one.
type MethodType int

const (
	// TypeNelderMead uses Nelder-Mead for two or more free parameters and
	// the bounded 1-D minimizer, with no fallback, for a single one.
	TypeNelderMead MethodType = 1
	// TypeAlternate uses the bounded 1-D minimizer for a single free
	// parameter, falling back to Nelder-Mead if it returns NaN.
	TypeAlternate MethodType = 2
)

// Settings carries the optimizer tuning fields of spec.md §6.
type Settings struct {
	Type    MethodType
	ItMax   int
	Tol     float64
	NelderMead optimize.NelderMeadSettings
}

// DefaultSettings returns the Nelder-Mead coefficients of spec.md §4.2 with
// a 200*ndim iteration cap and 1e-6 relative tolerance.
func DefaultSettings() Settings {
	return Settings{
		Type:       TypeAlternate,
		ItMax:      200,
		Tol:        1e-6,
		NelderMead: optimize.DefaultNelderMeadSettings(),
	}
}

// Fit optimizes Endpoint's free scalars starting from init, returning the
// new Params and whether the optimization produced a usable (non-NaN)
// result. On failure (false), the caller keeps the previous residual
// parameters unchanged this iteration, per spec.md §7.
func Fit(e Endpoint, init Params, s Settings) (Params, bool) {
	free := e.FreeScalars()
	if len(free) == 0 {
		return e.Decode(nil), true
	}

	x0 := e.Encode(init)
	obj := func(x []float64) float64 { return e.Objective(e.Decode(x)) }

	var x []float64
	var ok bool

	switch {
	case len(free) == 1 && s.Type == TypeAlternate:
		lo, hi := boundsFor(free[0], e)
		res1d := optimize.Bounded1D(func(v float64) float64 { return obj([]float64{v}) }, lo, hi, s.Tol, s.ItMax)
		x, ok = res1d.X, !math.IsNaN(res1d.F)
		if !ok {
			log.Debug("bounded 1-D residual fit returned NaN, falling back to Nelder-Mead")
			nm := optimize.NelderMead(obj, x0, s.NelderMead)
			x, ok = nm.X, !math.IsNaN(nm.F)
		}
	case len(free) == 1:
		lo, hi := boundsFor(free[0], e)
		res1d := optimize.Bounded1D(func(v float64) float64 { return obj([]float64{v}) }, lo, hi, s.Tol, s.ItMax)
		x, ok = res1d.X, !math.IsNaN(res1d.F)
	default:
		nm := optimize.NelderMead(obj, x0, s.NelderMead)
		x, ok = nm.X, !math.IsNaN(nm.F)
	}

	if !ok {
		log.Warning("residual-model optimization produced NaN, keeping previous parameters")
		return init, false
	}
	return e.Decode(x), true
}

// boundsFor returns the search interval for the bounded 1-D minimizer in
// optimizer-coordinate space. a/b are signed-sqrt encoded and unbounded in
// principle but a wide symmetric interval keeps the golden-section search
// well-posed; c/lambda are bounded onto (-PowRange,PowRange) and
// (-LambdaRange,LambdaRange) respectively by construction of toPow/toLambda,
// so the search interval is exactly that range.
func boundsFor(s Scalar, e Endpoint) (float64, float64) {
	switch s {
	case C:
		return -e.PowRange, e.PowRange
	case Lambda:
		return -e.LambdaRange, e.LambdaRange
	default:
		return -1e4, 1e4
	}
}

// Step applies the step-size-weighted move toward the optimum of spec.md
// §4.2/§4.6: x <- x + pas[k]*(x* - x), used after nb_fixResid burn-in
// iterations; earlier iterations snap directly to the optimum.
func Step(current, optimum Params, pas float64, burnedIn bool) Params {
	if !burnedIn {
		return optimum
	}
	return Params{
		A:      current.A + pas*(optimum.A-current.A),
		B:      current.B + pas*(optimum.B-current.B),
		C:      current.C + pas*(optimum.C-current.C),
		Lambda: current.Lambda + pas*(optimum.Lambda-current.Lambda),
	}
}
