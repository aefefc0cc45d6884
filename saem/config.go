// Package saem implements the SAEM driver of spec.md §4.6: the iteration
// loop that runs the MCMC kernels, accumulates stochastic-approximation
// statistics, updates the regression coefficients and random-effect
// covariance, fits the residual-error models, and tracks Fisher-information
// accumulators. Fit is the package's single public entry point.
package saem

import (
	"fmt"

	"github.com/nlmefit/saem/censor"
	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/predict"
	"github.com/nlmefit/saem/residual"
	"github.com/nlmefit/saem/transform"
)

// IterationSchedule carries spec.md §6's "Iteration schedule" field group.
type IterationSchedule struct {
	Niter       int
	Nmc         int // M, number of MCMC chain replicates per subject
	Nu          [3]int
	NbSA        int
	NbCorrel    int
	NbFixOmega  int
	NbFixResid  int
	NiterPhi0   int
	CoefSA      float64
	CoefPhi0    float64
	Rmcmc       float64
	Pas         []float64 // length Niter, stochastic-approximation step sizes
	Pash        []float64 // length Niter, Fisher-accumulator step sizes
	Minv        []float64 // length nphi, diagonal covariance floor
}

// Block describes one of the two phi blocks of spec.md §4.6: the
// regressed-mean block (1) and the fixed-mean block (0). Each block's mean
// is Cov*Plambda, and both blocks' Plambda are updated by the same
// least-squares M-step on their own Cov. Building
// Cov from raw covariate/index arrays (`jcov*`, `ind_cov*`, `pc1`,
// `Mcovariables`) is the high-level intake step spec.md §1 places out of
// scope; Fit accepts the design matrix directly.
type Block struct {
	// Idx lists, in order, which columns of phi (0-based) this block owns.
	Idx []int
	// Cov is the N x nlambda covariate design matrix for this block's
	// regression coefficients (COV1/COV0). A nil Cov (nlambda=0) means the
	// block's mean is not regressed on covariates at all.
	Cov *numeric.Matrix
	// FixedIx/FixedValues pin specific regression coefficients at their
	// initial value for the life of the fit (fixedIx1/fixedIx0).
	FixedIx     []bool
	FixedValues []float64
	// CovStruct masks which entries of this block's covariance matrix are
	// estimated at all (covstruct1); nil means the full block is free. Only
	// Block1's CovStruct is applied; Block0's covariance is always diagonal.
	CovStruct *numeric.Matrix
}

func (b Block) nphi() int { return len(b.Idx) }

func (b Block) nlambda() int {
	if b.Cov == nil {
		return 0
	}
	return b.Cov.Cols()
}

// FreezeConfig carries spec.md §6's random-effect freezing group.
type FreezeConfig struct {
	Gamma2Phi1Fixed       bool
	Gamma2Phi1FixedIx     *numeric.Matrix // boolean mask over block-1 covariance entries
	Gamma2Phi1FixedValues *numeric.Matrix
}

// Endpoint bundles one observed endpoint's residual-model configuration
// (spec.md §6's Residual group, per-endpoint).
type Endpoint struct {
	Model       residual.Kind
	Transform   transform.Spec
	PropT       bool
	AdjustF     bool
	Combined    residual.Combined
	Freeze      residual.Freeze
	LambdaRange float64
	PowRange    float64
	Init        residual.Params
}

// Data carries spec.md §6's Data group: the observation vector and the
// per-observation bookkeeping needed to slice it by subject and endpoint.
type Data struct {
	// Y holds the K observations across all subjects and endpoints.
	Y []float64
	// EndpointOf[i] is the 0-based endpoint index observation i belongs to.
	EndpointOf []int
	// SubjectObsStart has length N+1: subject s's observations are
	// Y[SubjectObsStart[s]:SubjectObsStart[s+1]], contiguous and in the
	// order the predictor will return them for that subject.
	SubjectObsStart []int
	// Cens/Limit give the per-observation censoring flag and raw-scale
	// Tobit bound (spec.md §4.4); HasLimit is false where no limit applies.
	Cens     []censor.Flag
	Limit    []float64
	HasLimit []bool

	// Evt is the full event matrix (opaque to the driver); EvtSubjectStart
	// slices it into per-subject sub-matrices the same way SubjectObsStart
	// slices Y.
	Evt             *numeric.Matrix
	EvtSubjectStart []int
}

func (d Data) nSubjects() int { return len(d.SubjectObsStart) - 1 }

func (d Data) obsRange(subject int) (int, int) {
	return d.SubjectObsStart[subject], d.SubjectObsStart[subject+1]
}

func (d Data) evtRange(subject int) (int, int) {
	return d.EvtSubjectStart[subject], d.EvtSubjectStart[subject+1]
}

// OptimizerConfig carries spec.md §6's optimizer-tuning group, shared by
// the residual-model fit and the predictor adapter's retry policy.
type OptimizerConfig struct {
	ItMax           int
	Tol             float64
	Type            residual.MethodType
	LambdaRange     float64
	PowRange        float64
	MaxOdeRecalc    int
	OdeRecalcFactor float64
	AtolInit        float64
	RtolInit        float64
}

// Distribution selects the data-likelihood family the driver's common
// evaluator dispatches on (spec.md §6's `distribution` field). Gaussian
// runs the transform/sigma/censoring machinery of §4.2-§4.4; Poisson and
// Bernoulli bypass all of it and work directly on the raw prediction
// (saem.cpp:799-828, :1910-1920).
type Distribution int

const (
	Gaussian  Distribution = 1
	Poisson   Distribution = 2
	Bernoulli Distribution = 3
)

func (d Distribution) valid() bool {
	return d == Gaussian || d == Poisson || d == Bernoulli
}

// Reporting carries spec.md §6's reporting group.
type Reporting struct {
	Print            int
	ParHistThetaKeep []int
	ParHistOmegaKeep []int
	Distribution     Distribution
	Debug            bool
	PhiMFile         string
}

// Config is the single record Fit accepts, grouped the way spec.md §6 names
// the fields.
type Config struct {
	Iter      IterationSchedule
	Block1    Block // regressed-mean block
	Block0    Block // fixed-mean block
	Freeze    FreezeConfig
	Data      Data
	Endpoints []Endpoint
	Optimizer OptimizerConfig
	// Mask is the N x nphi `ue` matrix (spec.md §6's Masking group).
	Mask     *numeric.Matrix
	Reporting Reporting
	Solver    predict.Solver
}

func (c Config) nphi() int { return c.Block1.nphi() + c.Block0.nphi() }

// Validate fails fast on the configuration-error category of spec.md §7:
// missing solver, wrong shapes, inconsistent endpoint count.
func (c Config) Validate() error {
	if c.Solver == nil {
		return fmt.Errorf("saem: config.Solver is required")
	}
	if c.Iter.Niter <= 0 {
		return fmt.Errorf("saem: Iter.Niter must be positive")
	}
	if len(c.Iter.Pas) != c.Iter.Niter || len(c.Iter.Pash) != c.Iter.Niter {
		return fmt.Errorf("saem: Pas/Pash must have length Niter")
	}
	n := c.Data.nSubjects()
	if n <= 0 {
		return fmt.Errorf("saem: Data has no subjects")
	}
	nphi := c.nphi()
	if nphi == 0 {
		return fmt.Errorf("saem: no phi columns configured across both blocks")
	}
	if c.Mask == nil || c.Mask.Rows() != n || c.Mask.Cols() != nphi {
		return fmt.Errorf("saem: Mask must be N x nphi (%d x %d)", n, nphi)
	}
	if c.Block1.Cov != nil && c.Block1.Cov.Rows() != n {
		return fmt.Errorf("saem: Block1.Cov must have N rows")
	}
	if c.Block0.Cov != nil && c.Block0.Cov.Rows() != n {
		return fmt.Errorf("saem: Block0.Cov must have N rows")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("saem: at least one Endpoint is required")
	}
	for _, v := range c.Data.EndpointOf {
		if v < 0 || v >= len(c.Endpoints) {
			return fmt.Errorf("saem: EndpointOf references endpoint %d out of range [0,%d)", v, len(c.Endpoints))
		}
	}
	return nil
}
