// Package optimize provides the small, derivative-free local optimizers the
// residual-model objective family (see package residual) is minimized with:
// a Nelder-Mead simplex for two or more free parameters, and a bounded 1-D
// line search for exactly one. The teacher (mrrlab-godon/optimize) hand-rolls
// its own downhill simplex against a bespoke Optimizable/FloatParameter
// object graph designed for likelihood *maximization* over whole
// phylogenetic models; that graph has no host here, since spec.md ties the
// residual optimizer to a handful of scalars with freeze flags rather than
// an arbitrary parameter vector with priors. The reflection/expansion/
// contraction coefficients and the relative-tolerance convergence check
// below are carried over from optimize/simplex.go; the
// polytope mechanics themselves are delegated to gonum's maintained
// Nelder-Mead implementation.
package optimize

import (
	"math"

	"github.com/op/go-logging"
	gonumopt "gonum.org/v1/gonum/optimize"
)

var log = logging.MustGetLogger("optimize")

// Objective is a scalar function to minimize.
type Objective func(x []float64) float64

// NelderMeadSettings mirrors spec.md §4.2: reflection 1.0, expansion 2.0,
// contraction 0.5, a relative tolerance and an iteration cap of
// itmax*ndim.
type NelderMeadSettings struct {
	Reflection   float64
	Expansion    float64
	Contraction  float64
	Shrinkage    float64
	Tolerance    float64
	MaxIterScale int
}

// DefaultNelderMeadSettings returns the coefficients named in spec.md §4.2.
func DefaultNelderMeadSettings() NelderMeadSettings {
	return NelderMeadSettings{
		Reflection:   1.0,
		Expansion:    2.0,
		Contraction:  0.5,
		Shrinkage:    0.5,
		Tolerance:    1e-6,
		MaxIterScale: 200,
	}
}

// Result is the outcome of a local minimization.
type Result struct {
	X         []float64
	F         float64
	Converged bool
}

// NelderMead minimizes f starting from x0 using gonum's Nelder-Mead
// implementation, configured to match spec.md §4.2's tolerance and
// iteration-cap conventions. It never panics: if gonum reports a
// non-convergence status, Result.Converged is false and the caller (see
// residual.Optimize) decides whether to fall back or keep the previous
// value, per spec.md §7.
func NelderMead(f Objective, x0 []float64, s NelderMeadSettings) Result {
	n := len(x0)
	maxIter := s.MaxIterScale * n
	problem := gonumopt.Problem{
		Func: func(x []float64) float64 { return f(x) },
	}
	method := &gonumopt.NelderMead{
		Reflection:  s.Reflection,
		Expansion:   s.Expansion,
		Contraction: s.Contraction,
		Shrink:      s.Shrinkage,
	}
	settings := &gonumopt.Settings{
		Converger: &gonumopt.FunctionConverge{
			Absolute:   s.Tolerance,
			Relative:   s.Tolerance,
			Iterations: 20,
		},
		MajorIterations: maxIter,
	}
	res, err := gonumopt.Minimize(problem, x0, settings, method)
	if err != nil || res == nil {
		log.Debugf("Nelder-Mead failed to converge: %v", err)
		return Result{X: append([]float64{}, x0...), F: f(x0), Converged: false}
	}
	converged := res.Status == gonumopt.Success || res.Status == gonumopt.FunctionConvergence
	return Result{X: res.X, F: res.F, Converged: converged}
}

// Bounded1D minimizes a 1-D function over [lo, hi] with Brent's method
// (golden-section bracketing with parabolic-interpolation acceleration),
// the bounded 1-D minimizer spec.md §4.2 calls for when the residual
// optimizer has exactly one free parameter.
func Bounded1D(f func(float64) float64, lo, hi, tol float64, maxIter int) Result {
	const goldenRatio = 0.3819660112501051 // 1 - 1/phi

	a, b := lo, hi
	x := a + goldenRatio*(b-a)
	w, v := x, x
	fx := f(x)
	fw, fv := fx, fx
	d, e := 0.0, 0.0

	for iter := 0; iter < maxIter; iter++ {
		mid := 0.5 * (a + b)
		tol1 := tol*math.Abs(x) + 1e-12
		tol2 := 2 * tol1
		if math.Abs(x-mid) <= tol2-0.5*(b-a) {
			return Result{X: []float64{x}, F: fx, Converged: true}
		}

		useGolden := true
		if math.Abs(e) > tol1 {
			// Try a parabolic fit through (v,fv), (w,fw), (x,fx).
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			etemp := e
			e = d
			if math.Abs(p) < math.Abs(0.5*q*etemp) && p > q*(a-x) && p < q*(b-x) {
				d = p / q
				u := x + d
				if u-a < tol2 || b-u < tol2 {
					d = tol1
					if mid-x < 0 {
						d = -tol1
					}
				}
				useGolden = false
			}
		}
		if useGolden {
			if x < mid {
				e = b - x
			} else {
				e = a - x
			}
			d = goldenRatio * e
		}

		var u float64
		if math.Abs(d) >= tol1 {
			u = x + d
		} else if d > 0 {
			u = x + tol1
		} else {
			u = x - tol1
		}
		fu := f(u)

		if fu <= fx {
			if u < x {
				b = x
			} else {
				a = x
			}
			v, fv = w, fw
			w, fw = x, fx
			x, fx = u, fu
		} else {
			if u < x {
				a = u
			} else {
				b = u
			}
			if fu <= fw || w == x {
				v, fv = w, fw
				w, fw = u, fu
			} else if fu <= fv || v == x || v == w {
				v, fv = u, fu
			}
		}
	}
	log.Debugf("Bounded1D exceeded %d iterations without converging", maxIter)
	return Result{X: []float64{x}, F: fx, Converged: false}
}
