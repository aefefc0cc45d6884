package transform

import (
	"math"
	"testing"
)

func roundTrip(t *testing.T, s Spec, y float64) {
	x, err := T(y, s)
	if err != nil {
		t.Fatalf("T(%v): %v", y, err)
	}
	got := Tinv(x, s)
	if math.Abs(got-y) > 1e-9 {
		t.Errorf("Tinv(T(%v)) = %v, want %v", y, got, y)
	}
}

func TestRoundTripIdentity(t *testing.T) {
	roundTrip(t, Spec{Kind: Identity}, 3.5)
}

func TestRoundTripLog(t *testing.T) {
	roundTrip(t, Spec{Kind: Log}, 2.0)
}

func TestRoundTripBoxCox(t *testing.T) {
	for _, lambda := range []float64{0, 0.5, 1, 2, -0.5} {
		roundTrip(t, Spec{Kind: BoxCox, Lambda: lambda}, 4.2)
	}
}

func TestRoundTripYeoJohnson(t *testing.T) {
	for _, lambda := range []float64{0, 0.5, 1, 2, -0.5} {
		roundTrip(t, Spec{Kind: YeoJohnson, Lambda: lambda}, 4.2)
		roundTrip(t, Spec{Kind: YeoJohnson, Lambda: lambda}, -1.3)
	}
}

func TestLogRejectsNonPositive(t *testing.T) {
	if _, err := T(0, Spec{Kind: Log}); err == nil {
		t.Error("expected error for y<=0 under Log transform")
	}
	if _, err := T(-1, Spec{Kind: BoxCox, Lambda: 0.5}); err == nil {
		t.Error("expected error for y<=0 under Box-Cox transform")
	}
}

func TestBoundedInverseClips(t *testing.T) {
	s := Spec{Kind: YeoJohnsonBounded, Lambda: 1, Lo: -1, Hi: 1}
	got := Tinv(100, s)
	if got != 1 {
		t.Errorf("Tinv should clip to Hi=1, got %v", got)
	}
	got = Tinv(-100, s)
	if got != -1 {
		t.Errorf("Tinv should clip to Lo=-1, got %v", got)
	}
}

func TestToLambdaRoundTrip(t *testing.T) {
	const r = 5.0
	for _, lambda := range []float64{-4.9, -2, 0, 0.5, 1, 2, 4.9} {
		x := ToLambdaEst(lambda, r)
		got := ToLambda(x, r)
		if math.Abs(got-lambda) > 1e-6 {
			t.Errorf("ToLambda(ToLambdaEst(%v)) = %v, want %v", lambda, got, lambda)
		}
	}
}

func TestToLambdaRangeBounded(t *testing.T) {
	const r = 3.0
	for _, x := range []float64{-1e6, -100, 0, 100, 1e6} {
		v := ToLambda(x, r)
		if v < -r || v > r {
			t.Errorf("ToLambda(%v) = %v, outside [-%v, %v]", x, v, r, r)
		}
	}
}
