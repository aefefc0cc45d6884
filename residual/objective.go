package residual

import (
	"math"

	"github.com/nlmefit/saem/transform"
)

// Combined selects which of the two inconsistent add+prop/add+pow formulas
// saem.cpp carries (spec.md §9 Open Questions) is used, uniformly, for every
// model that has both an additive and a proportional/power component.
// _saemAddProp is the authoritative switch in the original source; SPEC_FULL
// exposes it as a single config-level choice instead of a per-optimizer-path
// split.
type Combined int

const (
	// CombinedSum is sigma = a + b*F(c).
	CombinedSum Combined = iota
	// CombinedRMS is sigma = sqrt(a^2 + b^2*F(c)^2).
	CombinedRMS
)

const (
	sigmaFloor = 1e-200
	sigmaCap   = 1e300
)

// Freeze pins a subset of a model's active scalars to fixed values. Frozen
// scalars are removed from the optimizer's search dimensionality entirely
// (spec.md §4.7: "the residual optimizer... reduces its search
// dimensionality to the free coordinates").
type Freeze struct {
	Fixed  map[Scalar]bool
	Values map[Scalar]float64
}

// IsFixed reports whether s is pinned.
func (fr Freeze) IsFixed(s Scalar) bool {
	return fr.Fixed != nil && fr.Fixed[s]
}

// Value returns the pinned value for s (zero if not fixed or not present).
func (fr Freeze) Value(s Scalar) float64 {
	if fr.Values == nil {
		return 0
	}
	return fr.Values[s]
}

// Endpoint bundles everything the objective needs for one endpoint: the
// observation/prediction pair on the original scale, the transform applied
// to both before computing the residual, and the F(f-hat) selection rule.
type Endpoint struct {
	Y, F []float64

	// Transform is applied to both Y and F before computing the
	// residual. For Kind.HasLambda() models, Transform.Lambda is
	// overwritten with the optimizer's current lambda iterate; Transform
	// must then be one of transform.BoxCox(Bounded) or
	// transform.YeoJohnson(Bounded).
	Transform transform.Spec

	// PropT selects F(f-hat) = f-hat (floor-truncated) instead of the
	// original-scale prediction f.
	PropT bool
	// AdjustF replaces f==0 with 1 before use, keeping proportional error
	// well defined at f=0, when PropT is false.
	AdjustF bool

	Model    Kind
	Combined Combined
	Freeze   Freeze

	// LambdaRange and PowRange bound the *Lam and Pow model's estimated
	// lambda/c via the toLambda/toPow bijections (spec.md §4.1).
	LambdaRange float64
	PowRange    float64
}

// fOf applies the F(f-hat) selection rule of spec.md §4.2.
func fOf(fhat, f float64, propT, adjustF bool) float64 {
	if propT {
		if fhat < sigmaFloor {
			return sigmaFloor
		}
		if fhat > sigmaCap {
			return sigmaCap
		}
		return fhat
	}
	if adjustF && f == 0 {
		return 1
	}
	return f
}

func clampSigma(sigma float64) float64 {
	if sigma < sigmaFloor {
		return sigmaFloor
	}
	if sigma > sigmaCap {
		return sigmaCap
	}
	return sigma
}

// Params holds the decoded (natural-scale) residual-model scalars.
type Params struct {
	A, B, C, Lambda float64
}

func (p Params) get(s Scalar) float64 {
	switch s {
	case A:
		return p.A
	case B:
		return p.B
	case C:
		return p.C
	case Lambda:
		return p.Lambda
	}
	panic("residual: unknown scalar")
}

func (p *Params) set(s Scalar, v float64) {
	switch s {
	case A:
		p.A = v
	case B:
		p.B = v
	case C:
		p.C = v
	case Lambda:
		p.Lambda = v
	}
}

// sigma evaluates the model's standard deviation formula at one observation.
func sigma(model Kind, combined Combined, p Params, fhat, f float64, propT, adjustF bool) float64 {
	fa := fOf(fhat, f, propT, adjustF)
	switch model {
	case Add, AddLam:
		return clampSigma(p.A)
	case Prop, PropLam:
		return clampSigma(p.B * fa)
	case Pow, PowLam:
		return clampSigma(p.B * math.Pow(fa, p.C))
	case AddProp, AddPropLam:
		if combined == CombinedSum {
			return clampSigma(p.A + p.B*fa)
		}
		return clampSigma(math.Sqrt(p.A*p.A + p.B*p.B*fa*fa))
	case AddPow, AddPowLam:
		fc := math.Pow(fa, p.C)
		if combined == CombinedSum {
			return clampSigma(p.A + p.B*fc)
		}
		return clampSigma(math.Sqrt(p.A*p.A + p.B*p.B*fc*fc))
	default:
		panic("residual: unknown Kind")
	}
}

// Objective evaluates -2*log-Gaussian-likelihood (minus constants) on the
// transform scale: sum((y-hat - f-hat)/sigma)^2 + 2*log(sigma), per spec.md
// §4.2. free carries the current free-parameter Params, already decoded
// from optimizer coordinates by Decode.
func (e Endpoint) Objective(p Params) float64 {
	ts := e.Transform
	if e.Model.HasLambda() {
		ts.Lambda = p.Lambda
	}
	var sum float64
	for i := range e.Y {
		yhat, err := transform.T(e.Y[i], ts)
		if err != nil {
			return math.NaN()
		}
		fhat, err := transform.T(e.F[i], ts)
		if err != nil {
			return math.NaN()
		}
		sd := sigma(e.Model, e.Combined, p, fhat, e.F[i], e.PropT, e.AdjustF)
		resid := (yhat - fhat) / sd
		sum += resid*resid + 2*math.Log(sd)
	}
	return sum
}

// SigmaAt evaluates the model's standard deviation formula at one
// transformed prediction fhat (and its original-scale counterpart f),
// using the endpoint's F(f-hat) selection rule. Exposed for callers that
// need the fitted sigma outside of Objective's residual sum, e.g. the SAEM
// driver's per-row likelihood evaluator.
func (e Endpoint) SigmaAt(p Params, fhat, f float64) float64 {
	return sigma(e.Model, e.Combined, p, fhat, f, e.PropT, e.AdjustF)
}

// FreeScalars returns the active scalars of e.Model that are not frozen, in
// canonical order.
func (e Endpoint) FreeScalars() []Scalar {
	var free []Scalar
	for _, s := range e.Model.ActiveScalars() {
		if !e.Freeze.IsFixed(s) {
			free = append(free, s)
		}
	}
	return free
}

// Encode maps natural-scale params to the optimizer's coordinate space:
// a/b use the signed-square-root encoding, c/lambda use the toPow/toLambda
// bijections, per spec.md §4.2.
func (e Endpoint) Encode(p Params) []float64 {
	free := e.FreeScalars()
	x := make([]float64, len(free))
	for i, s := range free {
		v := p.get(s)
		switch s {
		case A, B:
			x[i] = signedSqrt(v)
		case C:
			x[i] = transform.ToPowEst(v, e.PowRange)
		case Lambda:
			x[i] = transform.ToLambdaEst(v, e.LambdaRange)
		}
	}
	return x
}

// Decode maps an optimizer coordinate vector (covering only the free
// scalars, in FreeScalars order) back to full natural-scale Params, filling
// frozen/inactive scalars from the freeze values (or zero when inactive).
func (e Endpoint) Decode(x []float64) Params {
	var p Params
	for _, s := range e.Model.ActiveScalars() {
		if e.Freeze.IsFixed(s) {
			p.set(s, e.Freeze.Value(s))
		}
	}
	free := e.FreeScalars()
	for i, s := range free {
		v := x[i]
		switch s {
		case A, B:
			p.set(s, v*v)
		case C:
			p.set(s, transform.ToPow(v, e.PowRange))
		case Lambda:
			p.set(s, transform.ToLambda(v, e.LambdaRange))
		}
	}
	return p
}

func signedSqrt(v float64) float64 {
	if v < 0 {
		return -math.Sqrt(-v)
	}
	return math.Sqrt(v)
}
