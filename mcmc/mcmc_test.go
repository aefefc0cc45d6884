package mcmc

import (
	"os"
	"testing"

	"github.com/nlmefit/saem/numeric"
)

// quadraticTarget is a data-likelihood stand-in: -log-lik is a quadratic
// bowl centered on Mean, letting the kernels be tested without wiring a
// real predictor.
type quadraticTarget struct {
	mean  []float64
	calls int
}

func (t *quadraticTarget) NegLogLikRow(row int, phi []float64) (float64, []float64) {
	t.calls++
	var s float64
	for j, v := range phi {
		d := v - t.mean[j]
		s += d * d
	}
	return 0.5 * s, []float64{phi[0]}
}

func onesMatrix(r, c int) *numeric.Matrix {
	m := numeric.NewMatrix(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, 1)
		}
	}
	return m
}

func diagGamma(n int, v float64) (*numeric.Matrix, []float64, *numeric.Matrix) {
	g := numeric.NewMatrix(n, n)
	inv := numeric.NewMatrix(n, n)
	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		g.Set(i, i, v)
		inv.Set(i, i, 1/v)
		diag[i] = v
	}
	return g, diag, inv
}

func newTestSampler(target Target, nphi, rows int, mean []float64) (*Sampler, *numeric.Matrix) {
	g, diag, inv := diagGamma(nphi, 0.5)
	meanM := numeric.NewMatrix(rows, nphi)
	for i := 0; i < rows; i++ {
		meanM.SetRow(i, mean)
	}
	prior := Prior{Mean: meanM, Gamma: g, GammaDiag: diag, InvGamma: inv}
	mask := onesMatrix(rows, nphi)
	s := NewSampler(target, prior, mask, 1.0)

	phiM := numeric.NewMatrix(rows, nphi)
	for i := 0; i < rows; i++ {
		phiM.SetRow(i, mean)
	}
	return s, phiM
}

func TestRandomWalkMovesTowardTargetMean(t *testing.T) {
	numeric.Seed(42)
	target := &quadraticTarget{mean: []float64{5, -3}}
	s, phiM := newTestSampler(target, 2, 20, []float64{0, 0})

	for sweep := 0; sweep < 500; sweep++ {
		s.RunRandomWalk(phiM, 1)
	}

	means := numeric.ColMeans(phiM)
	if diff := means[0] - target.mean[0]; diff > 1.5 || diff < -4 {
		t.Errorf("column 0 mean = %v, expected to have moved toward %v from 0", means[0], target.mean[0])
	}
}

func TestMaskPinsCoordinateAcrossAllKernels(t *testing.T) {
	numeric.Seed(7)
	target := &quadraticTarget{mean: []float64{10, 10}}
	s, phiM := newTestSampler(target, 2, 10, []float64{0, 0})
	for i := 0; i < phiM.Rows(); i++ {
		s.Mask.Set(i, 0, 0)
	}

	s.RunIteration(phiM, 1, [3]int{3, 3, 3})

	for i := 0; i < phiM.Rows(); i++ {
		if phiM.At(i, 0) != 0 {
			t.Errorf("masked coordinate changed at row %d: %v", i, phiM.At(i, 0))
		}
	}
}

func TestRunIterationBurnInScheduleAt0IsTwentyTimesLarger(t *testing.T) {
	nu := [3]int{1, 1, 1}
	count := func(k int) int {
		target := &quadraticTarget{mean: []float64{0}}
		s, phiM := newTestSampler(target, 1, 1, []float64{0})
		s.RunIteration(phiM, k, nu)
		return target.calls
	}
	at0 := count(0)
	at1 := count(1)
	if at1 == 0 || at0/at1 < 15 {
		t.Errorf("burn-in ratio = %d/%d, want roughly 20x more calls at k=0", at0, at1)
	}
}

func TestAcceptanceRateIsWithinUnitInterval(t *testing.T) {
	numeric.Seed(3)
	target := &quadraticTarget{mean: []float64{1}}
	s, phiM := newTestSampler(target, 1, 5, []float64{0})
	s.RunIteration(phiM, 1, [3]int{5, 5, 5})
	rate := s.AcceptanceRate()
	if rate < 0 || rate > 1 {
		t.Errorf("AcceptanceRate = %v, want in [0,1]", rate)
	}
}

func TestChainDumpAppendsOneLinePerRow(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/phiM.txt"
	dump, err := OpenChainDump(path)
	if err != nil {
		t.Fatal(err)
	}
	phiM := numeric.NewMatrixFromSlice(2, 3, []float64{1, 2, 3, 4, 5, 6})
	if err := dump.Append(phiM); err != nil {
		t.Fatal(err)
	}
	if err := dump.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("dump file has %d lines, want 2", lines)
	}
}
