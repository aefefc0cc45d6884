package predict

import (
	"math"
	"testing"

	"github.com/nlmefit/saem/numeric"
)

// flakySolver fails its first failCount calls, then succeeds, recording the
// tolerances it was called with.
type flakySolver struct {
	failCount int
	calls     []Tolerances
	f         []float64
}

func (s *flakySolver) Solve(phi, evt *numeric.Matrix, tol Tolerances) (f, cens, limit []float64, badSolve bool) {
	s.calls = append(s.calls, tol)
	if len(s.calls) <= s.failCount {
		return nil, nil, nil, true
	}
	return s.f, make([]float64, len(s.f)), make([]float64, len(s.f)), false
}

func TestAdapterRetriesAndRelaxesTolerances(t *testing.T) {
	solver := &flakySolver{failCount: 2, f: []float64{1, 2, 3}}
	a := NewAdapter(solver, 10.0, 5)

	phi := numeric.NewMatrix(1, 1)
	evt := numeric.NewMatrix(1, 1)
	base := Tolerances{Atol: 1e-6, Rtol: 1e-6}

	res := a.Predict(phi, evt, base)

	if len(solver.calls) != 3 {
		t.Fatalf("expected 3 solver calls (2 failures + 1 success), got %d", len(solver.calls))
	}
	if solver.calls[0] != base {
		t.Errorf("first call tolerance = %v, want %v", solver.calls[0], base)
	}
	want1 := base.scale(10.0)
	if solver.calls[1] != want1 {
		t.Errorf("second call tolerance = %v, want %v", solver.calls[1], want1)
	}
	want2 := base.scale(10.0).scale(10.0)
	if solver.calls[2] != want2 {
		t.Errorf("third call tolerance = %v, want %v", solver.calls[2], want2)
	}
	for i, v := range res.F {
		if v != solver.f[i] {
			t.Errorf("F[%d] = %v, want %v", i, v, solver.f[i])
		}
	}
}

func TestAdapterGivesUpAfterMaxRecalc(t *testing.T) {
	solver := &flakySolver{failCount: 100, f: []float64{1}}
	a := NewAdapter(solver, 2.0, 3)

	phi := numeric.NewMatrix(1, 1)
	evt := numeric.NewMatrix(1, 1)
	a.Predict(phi, evt, Tolerances{Atol: 1, Rtol: 1})

	if len(solver.calls) != 4 {
		t.Fatalf("expected 1 initial + 3 retries = 4 calls, got %d", len(solver.calls))
	}
}

func TestAdapterToleranceNotInflatedAcrossCalls(t *testing.T) {
	solver := &flakySolver{failCount: 2, f: []float64{1}}
	a := NewAdapter(solver, 5.0, 5)
	phi := numeric.NewMatrix(1, 1)
	evt := numeric.NewMatrix(1, 1)
	base := Tolerances{Atol: 1e-4, Rtol: 1e-4}

	a.Predict(phi, evt, base)
	solver.calls = nil
	solver.failCount = 0
	a.Predict(phi, evt, base)

	if solver.calls[0] != base {
		t.Errorf("tolerances leaked across calls: second call started at %v, want %v", solver.calls[0], base)
	}
}

func TestAdapterReplacesNaNPredictionOnce(t *testing.T) {
	solver := &flakySolver{failCount: 0, f: []float64{1, math.NaN(), 3}}
	a := NewAdapter(solver, 2.0, 1)
	phi := numeric.NewMatrix(1, 1)
	evt := numeric.NewMatrix(1, 1)

	res := a.Predict(phi, evt, Tolerances{Atol: 1, Rtol: 1})
	if res.F[1] != naNReplacement {
		t.Errorf("NaN prediction not replaced: got %v, want %v", res.F[1], naNReplacement)
	}
	if !a.warned {
		t.Error("expected warned flag to be set after a NaN replacement")
	}
}
