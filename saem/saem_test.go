package saem

import (
	"context"
	"math"
	"testing"

	"github.com/nlmefit/saem/censor"
	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/predict"
	"github.com/nlmefit/saem/residual"
	"github.com/nlmefit/saem/transform"
)

// identitySolver predicts exp(phi[0]) for every observation, ignoring the
// event matrix beyond its row count -- enough to drive a tiny synthetic fit
// without an external ODE engine.
type identitySolver struct{}

func (identitySolver) Solve(phi, evt *numeric.Matrix, tol predict.Tolerances) (f, cens, limit []float64, badSolve bool) {
	rows := evt.Rows()
	f = make([]float64, rows)
	cens = make([]float64, rows)
	limit = make([]float64, rows)
	for i := range f {
		f[i] = math.Exp(phi.At(0, 0))
		limit[i] = math.Inf(-1)
	}
	return f, cens, limit, false
}

func tinyConfig(niter int) Config {
	n := 3
	ones := numeric.NewMatrix(n, 1)
	for i := 0; i < n; i++ {
		ones.Set(i, 0, 1)
	}
	mask := numeric.NewMatrix(n, 1)
	for i := 0; i < n; i++ {
		mask.Set(i, 0, 1)
	}
	evt := numeric.NewMatrix(n, 1)
	for i := 0; i < n; i++ {
		evt.Set(i, 0, 1)
	}

	pas := make([]float64, niter)
	pash := make([]float64, niter)
	for k := range pas {
		pas[k] = 1 / float64(k+1)
		pash[k] = 1 / float64(k+1)
	}

	return Config{
		Iter: IterationSchedule{
			Niter:      niter,
			Nmc:        2,
			Nu:         [3]int{1, 1, 1},
			NbSA:       10,
			NbCorrel:   0,
			NbFixOmega: 100,
			NbFixResid: 100,
			NiterPhi0:  100,
			CoefSA:     0.95,
			CoefPhi0:   0.95,
			Rmcmc:      0.5,
			Pas:        pas,
			Pash:       pash,
			Minv:       []float64{1e-6},
		},
		Block1: Block{Idx: []int{0}, Cov: ones},
		Block0: Block{},
		Data: Data{
			Y:               []float64{1.0, 1.05, 0.95},
			EndpointOf:      []int{0, 0, 0},
			SubjectObsStart: []int{0, 1, 2, 3},
			Cens:            []censor.Flag{censor.None, censor.None, censor.None},
			Limit:           []float64{0, 0, 0},
			HasLimit:        []bool{false, false, false},
			Evt:             evt,
			EvtSubjectStart: []int{0, 1, 2, 3},
		},
		Endpoints: []Endpoint{{
			Model:       residual.Add,
			Transform:   transform.Spec{Kind: transform.Identity},
			Combined:    residual.CombinedSum,
			LambdaRange: 3,
			PowRange:    3,
			Init:        residual.Params{A: 1},
		}},
		Optimizer: OptimizerConfig{
			ItMax:           50,
			Tol:             1e-6,
			Type:            residual.TypeAlternate,
			LambdaRange:     3,
			PowRange:        3,
			MaxOdeRecalc:    2,
			OdeRecalcFactor: 2,
			AtolInit:        1e-6,
			RtolInit:        1e-6,
		},
		Mask: mask,
		Reporting: Reporting{
			ParHistThetaKeep: []int{0},
			ParHistOmegaKeep: []int{0},
			Distribution:     Gaussian,
		},
		Solver: identitySolver{},
	}
}

func TestFitRunsToCompletionWithSaneResult(t *testing.T) {
	cfg := tinyConfig(5)
	result, err := Fit(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if result.Partial {
		t.Fatalf("expected a complete fit, got Partial=true")
	}
	if len(result.ParHist) != 5 {
		t.Fatalf("expected 5 history rows, got %d", len(result.ParHist))
	}
	if result.MPostPhi.Rows() != 3 || result.MPostPhi.Cols() != 1 {
		t.Fatalf("unexpected MPostPhi shape: %dx%d", result.MPostPhi.Rows(), result.MPostPhi.Cols())
	}
	if result.Eta.Rows() != 3 || result.Eta.Cols() != 1 {
		t.Fatalf("unexpected Eta shape: %dx%d", result.Eta.Rows(), result.Eta.Cols())
	}
	if len(result.Sig2) != 1 || math.IsNaN(result.Sig2[0]) || math.IsInf(result.Sig2[0], 0) {
		t.Fatalf("unexpected Sig2: %v", result.Sig2)
	}
	for _, row := range result.ParHist {
		for _, v := range row.Theta {
			if math.IsNaN(v) {
				t.Fatalf("NaN in recorded theta history at iteration %d", row.Iteration)
			}
		}
	}
}

func TestFitHonorsConfigValidation(t *testing.T) {
	cfg := tinyConfig(5)
	cfg.Solver = nil
	if _, err := Fit(context.Background(), cfg); err == nil {
		t.Fatal("expected a validation error for a nil Solver")
	}
}

func TestFitStopsOnContextCancellation(t *testing.T) {
	cfg := tinyConfig(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := Fit(ctx, cfg)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if !result.Partial {
		t.Fatalf("expected Partial=true for a pre-cancelled context")
	}
	if len(result.ParHist) != 0 {
		t.Fatalf("expected no history rows to have been recorded, got %d", len(result.ParHist))
	}
}
