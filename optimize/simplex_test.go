package optimize

import (
	"math"
	"testing"
)

func TestNelderMeadQuadratic(t *testing.T) {
	f := func(x []float64) float64 {
		return (x[0]-3)*(x[0]-3) + (x[1]+1)*(x[1]+1)
	}
	res := NelderMead(f, []float64{0, 0}, DefaultNelderMeadSettings())
	if !res.Converged {
		t.Fatal("expected convergence")
	}
	if math.Abs(res.X[0]-3) > 1e-3 || math.Abs(res.X[1]+1) > 1e-3 {
		t.Errorf("NelderMead minimum = %v, want (3,-1)", res.X)
	}
}

func TestBounded1DQuadratic(t *testing.T) {
	f := func(x float64) float64 { return (x - 2) * (x - 2) }
	res := Bounded1D(f, -10, 10, 1e-8, 200)
	if math.Abs(res.X[0]-2) > 1e-4 {
		t.Errorf("Bounded1D minimum = %v, want 2", res.X[0])
	}
}

func TestBounded1DRespectsBounds(t *testing.T) {
	f := func(x float64) float64 { return -x } // minimized by driving x up
	res := Bounded1D(f, 0, 5, 1e-8, 200)
	if res.X[0] > 5+1e-6 || res.X[0] < -1e-6 {
		t.Errorf("Bounded1D result %v escaped [0,5]", res.X[0])
	}
	if math.Abs(res.X[0]-5) > 1e-3 {
		t.Errorf("Bounded1D minimum = %v, want near 5", res.X[0])
	}
}
