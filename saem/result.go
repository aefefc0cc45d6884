package saem

import (
	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/residual"
)

// ParHistoryRow is one recorded row of par_hist (spec.md §4.6 step 9):
// the kept slices of Plambda, the block-1 covariance diagonal, and the
// residual parameters, at one iteration.
type ParHistoryRow struct {
	Iteration int
	Theta     []float64 // selected Plambda entries, per Reporting.ParHistThetaKeep
	Omega     []float64 // selected diag(Gamma1) entries, per Reporting.ParHistOmegaKeep
	Residual  []residual.Params
}

// ResInfo is the residual-parameter summary bundle of spec.md §6.
type ResInfo struct {
	Sigma2 []float64
	Ares   []float64
	Bres   []float64
	Cres   []float64
	Lres   []float64
	ResMod []residual.Kind
}

// Result is the output record of spec.md §6.
type Result struct {
	ResMat   *numeric.Matrix // nendpnt x 4: a,b,c,lambda
	TransMat *numeric.Matrix // nendpnt x 4: lambda, yj, lo, hi

	MPriorPhi *numeric.Matrix // N x nphi
	MPostPhi  *numeric.Matrix // N x nphi, posterior mean across chains
	CPostPhi  *numeric.Matrix // nphi x nphi, posterior covariance across chains

	Gamma2Phi1 *numeric.Matrix // block-1 covariance
	Plambda1   *numeric.Matrix
	Plambda0   *numeric.Matrix

	Ha *numeric.Matrix
	Hb *numeric.Matrix
	L  *numeric.Matrix

	Sig2 []float64
	// Eta is mpost_phi[:,i1] - mprior_phi1, masked by ue (spec.md §8).
	Eta *numeric.Matrix

	ParHist []ParHistoryRow
	ResInfo ResInfo

	// Partial is true when the fit returned early on context cancellation
	// (spec.md §5's "caller may observe a partial par_hist"), and on the
	// otherwise empty Result returned for an unknown Distribution.
	Partial bool
}
