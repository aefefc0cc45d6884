package numeric

import (
	"math"
	"testing"
)

func TestCholeskyRoundTrip(t *testing.T) {
	m := NewMatrixFromSlice(2, 2, []float64{4, 2, 2, 3})
	L, err := m.Cholesky()
	if err != nil {
		t.Fatalf("Cholesky: %v", err)
	}
	got := L.Mul(L.T())
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(got.At(i, j)-m.At(i, j)) > 1e-9 {
				t.Errorf("L*L^T[%d,%d] = %v, want %v", i, j, got.At(i, j), m.At(i, j))
			}
		}
	}
}

func TestSymInverse(t *testing.T) {
	m := NewMatrixFromSlice(2, 2, []float64{4, 2, 2, 3})
	inv, err := m.SymInverse()
	if err != nil {
		t.Fatalf("SymInverse: %v", err)
	}
	id := m.Mul(inv)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(id.At(i, j)-want) > 1e-9 {
				t.Errorf("m*inv[%d,%d] = %v, want %v", i, j, id.At(i, j), want)
			}
		}
	}
}

func TestSymInverseRejectsNonPositiveDefinite(t *testing.T) {
	m := NewMatrixFromSlice(2, 2, []float64{1, 2, 2, 1})
	if _, err := m.SymInverse(); err == nil {
		t.Fatal("expected error for non-positive-definite matrix")
	}
}

func TestMaskApply(t *testing.T) {
	m := NewMatrixFromSlice(2, 2, []float64{1, 2, 3, 4})
	mask := NewMatrixFromSlice(2, 2, []float64{1, 0, 0, 1})
	out := MaskApply(m, mask)
	if out.At(0, 1) != 0 || out.At(1, 0) != 0 {
		t.Error("masked entries should be zero")
	}
	if out.At(0, 0) != 1 || out.At(1, 1) != 4 {
		t.Error("unmasked entries should be preserved")
	}
}

func TestStdNormalCDFMatchesErf(t *testing.T) {
	for _, x := range []float64{-2, -1, 0, 1, 2} {
		want := 0.5 * (1 + math.Erf(x/math.Sqrt2))
		got := StdNormalCDF(x)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("StdNormalCDF(%v) = %v, want %v", x, got, want)
		}
	}
}

func TestStdNormalLogCDFDeepTail(t *testing.T) {
	got := StdNormalLogCDF(-40)
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Fatalf("StdNormalLogCDF(-40) = %v, want finite", got)
	}
	if got > -700 {
		t.Errorf("StdNormalLogCDF(-40) = %v, want a very negative log-probability", got)
	}
}
