// Package transform implements the power transform T(y; lambda, yj, lo, hi)
// used to put both observations and predictions on a common residual scale
// before computing the residual-model likelihood (spec.md §4.1), plus the
// toLambda/toPow bijections used to parameterize the estimated transform
// parameters during residual-model optimization.
package transform

import (
	"fmt"
	"math"
)

// Kind selects which monotone transform T applies.
type Kind int

const (
	// Identity is T(y) = y.
	Identity Kind = iota
	// Log is T(y) = ln(y); y must be strictly positive.
	Log
	// BoxCox is the standard Box-Cox transform with parameter Lambda.
	BoxCox
	// YeoJohnson is the Yeo-Johnson transform with parameter Lambda,
	// defined for the full real line.
	YeoJohnson
	// BoxCoxBounded is BoxCox, but its inverse is clipped to [Lo, Hi].
	BoxCoxBounded
	// YeoJohnsonBounded is YeoJohnson, but its inverse is clipped to
	// [Lo, Hi].
	YeoJohnsonBounded
)

// Spec fully parameterizes one endpoint's transform.
type Spec struct {
	Lambda float64
	Kind   Kind
	Lo     float64
	Hi     float64
}

func isBounded(k Kind) bool {
	return k == BoxCoxBounded || k == YeoJohnsonBounded
}

// T applies the forward transform. It returns an error for log/Box-Cox
// applied to a non-positive value: per spec.md §7 this is a hard
// configuration/data error, never silently coerced.
func T(y float64, s Spec) (float64, error) {
	switch s.Kind {
	case Identity:
		return y, nil
	case Log:
		if y <= 0 {
			return 0, fmt.Errorf("transform: log requires y > 0, got %v", y)
		}
		return math.Log(y), nil
	case BoxCox, BoxCoxBounded:
		if y <= 0 {
			return 0, fmt.Errorf("transform: Box-Cox requires y > 0, got %v", y)
		}
		if s.Lambda == 0 {
			return math.Log(y), nil
		}
		return (math.Pow(y, s.Lambda) - 1) / s.Lambda, nil
	case YeoJohnson, YeoJohnsonBounded:
		return yeoJohnson(y, s.Lambda), nil
	default:
		return 0, fmt.Errorf("transform: unknown kind %v", s.Kind)
	}
}

func yeoJohnson(y, lambda float64) float64 {
	if y >= 0 {
		if lambda == 0 {
			return math.Log(y + 1)
		}
		return (math.Pow(y+1, lambda) - 1) / lambda
	}
	p := 2 - lambda
	if p == 0 {
		return -math.Log(-y + 1)
	}
	return -(math.Pow(-y+1, p) - 1) / p
}

func yeoJohnsonInv(x, lambda float64) float64 {
	if x >= 0 {
		if lambda == 0 {
			return math.Exp(x) - 1
		}
		base := lambda*x + 1
		if base <= 0 {
			return math.Inf(1)
		}
		return math.Pow(base, 1/lambda) - 1
	}
	p := 2 - lambda
	if p == 0 {
		return 1 - math.Exp(-x)
	}
	base := 1 - p*x
	if base <= 0 {
		return math.Inf(-1)
	}
	return 1 - math.Pow(base, 1/p)
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Tinv applies the inverse transform. For the Bounded kinds the result is
// clipped to [Lo, Hi], which is what makes toLambda/toPow well-defined
// bijections onto a bounded interval (spec.md §4.1).
func Tinv(x float64, s Spec) float64 {
	var y float64
	switch s.Kind {
	case Identity:
		y = x
	case Log:
		y = math.Exp(x)
	case BoxCox, BoxCoxBounded:
		if s.Lambda == 0 {
			y = math.Exp(x)
		} else {
			base := s.Lambda*x + 1
			if base <= 0 {
				y = math.Inf(1)
			} else {
				y = math.Pow(base, 1/s.Lambda)
			}
		}
	case YeoJohnson, YeoJohnsonBounded:
		y = yeoJohnsonInv(x, s.Lambda)
	}
	if isBounded(s.Kind) {
		return clip(y, s.Lo, s.Hi)
	}
	return y
}

// ToLambda maps an unconstrained real x onto [-R, R] via the bounded
// Yeo-Johnson inverse with Lambda=1 (spec.md §4.1); inputs outside that
// interval are clipped to its ends.
func ToLambda(x, r float64) float64 {
	return Tinv(x, Spec{Lambda: 1, Kind: YeoJohnsonBounded, Lo: -r, Hi: r})
}

// ToLambdaEst is the companion forward map: it pins the desired lambda into
// (-0.99R, 0.99R) to guarantee invertibility and returns the corresponding
// unconstrained optimizer coordinate. ToLambda(ToLambdaEst(lambda, R), R)
// recovers the pinned lambda (spec.md §8 round-trip law).
func ToLambdaEst(lambda, r float64) float64 {
	pinned := clip(lambda, -0.99*r, 0.99*r)
	v, err := T(pinned, Spec{Lambda: 1, Kind: YeoJohnsonBounded, Lo: -r, Hi: r})
	if err != nil {
		// YeoJohnsonBounded is defined on the whole real line; T never
		// errors for this kind.
		panic(err)
	}
	return v
}

// ToPow and ToPowEst are the analogous bijections for the residual power
// exponent c, using powRange in place of lambdaRange.
func ToPow(x, r float64) float64      { return ToLambda(x, r) }
func ToPowEst(pow, r float64) float64 { return ToLambdaEst(pow, r) }
