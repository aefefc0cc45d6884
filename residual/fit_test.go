package residual

import (
	"math"
	"testing"

	"github.com/nlmefit/saem/transform"
)

func additiveEndpoint(y, f []float64) Endpoint {
	return Endpoint{
		Y:         y,
		F:         f,
		Transform: transform.Spec{Kind: transform.Identity},
		Model:     Add,
		Combined:  CombinedSum,
	}
}

func TestAdditiveObjectiveClosedFormMinimum(t *testing.T) {
	y := []float64{1.0, 2.0, 3.0, 4.5, 0.5}
	f := []float64{1.2, 1.8, 3.3, 4.0, 0.9}
	e := additiveEndpoint(y, f)

	var ss float64
	for i := range y {
		d := y[i] - f[i]
		ss += d * d
	}
	aStar := math.Sqrt(ss / float64(len(y)))

	got, ok := Fit(e, Params{A: 1}, DefaultSettings())
	if !ok {
		t.Fatal("Fit failed to converge")
	}
	if math.Abs(got.A-aStar) > 1e-3 {
		t.Errorf("optimized a = %v, want %v (closed form)", got.A, aStar)
	}
}

func TestFreezeRemovesSearchDimension(t *testing.T) {
	e := additiveEndpoint([]float64{1, 2, 3}, []float64{1.1, 2.2, 2.7})
	e.Model = AddProp
	e.Freeze = Freeze{
		Fixed:  map[Scalar]bool{A: true},
		Values: map[Scalar]float64{A: 0.5},
	}
	free := e.FreeScalars()
	if len(free) != 1 || free[0] != B {
		t.Fatalf("FreeScalars = %v, want [B]", free)
	}
	got, ok := Fit(e, Params{A: 0.5, B: 1}, DefaultSettings())
	if !ok {
		t.Fatal("Fit failed")
	}
	if got.A != 0.5 {
		t.Errorf("frozen A changed to %v", got.A)
	}
}

func TestNoOpStatisticConstant(t *testing.T) {
	if NoOpStatistic != 1.0 {
		t.Errorf("NoOpStatistic = %v, want 1.0", NoOpStatistic)
	}
}

func TestActiveScalarsCoverAllTenModels(t *testing.T) {
	models := []Kind{Add, Prop, Pow, AddProp, AddPow, AddLam, PropLam, PowLam, AddPropLam, AddPowLam}
	for _, m := range models {
		if len(m.ActiveScalars()) == 0 {
			t.Errorf("model %v has no active scalars", m)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := Endpoint{Model: AddPowLam, LambdaRange: 5, PowRange: 5}
	p := Params{A: 0.3, B: 1.2, C: 0.8, Lambda: 0.4}
	x := e.Encode(p)
	got := e.Decode(x)
	if math.Abs(got.A-p.A) > 1e-6 || math.Abs(got.B-p.B) > 1e-6 ||
		math.Abs(got.C-p.C) > 1e-4 || math.Abs(got.Lambda-p.Lambda) > 1e-4 {
		t.Errorf("Decode(Encode(%v)) = %v", p, got)
	}
}
