package saem

import (
	"context"
	"math"

	"github.com/op/go-logging"

	"github.com/nlmefit/saem/censor"
	"github.com/nlmefit/saem/mcmc"
	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/optimize"
	"github.com/nlmefit/saem/predict"
	"github.com/nlmefit/saem/residual"
	"github.com/nlmefit/saem/transform"
)

var log = logging.MustGetLogger("saem")

// driver holds the mutable state of one fit, owned exclusively by the
// estimator for the duration of the call (spec.md §5's resource policy).
type driver struct {
	cfg Config

	n, m, nphi1, nphi0 int

	phiM *numeric.Matrix // (n*m) x nphi1+nphi0, columns ordered [block1 | block0]

	gamma1, gamma0         *numeric.Matrix
	plambda1, plambda0     *numeric.Matrix // nlambda x nphi coefficient matrices
	mpriorPhi1, mpriorPhi0 *numeric.Matrix // N x nphiBlock
	statphi11, statphi01   *numeric.Matrix
	statphi12, statphi02   *numeric.Matrix
	dGamma0Diag            []float64

	resParams []residual.Params
	sigma2    []float64
	statrese  []float64
	// endpntObs[b] is the number of observations belonging to endpoint b,
	// used to normalize statrese into a per-endpoint sigma2 update.
	endpntObs []int

	adapter *predict.Adapter
	tol     predict.Tolerances

	dump    *mcmc.ChainDump
	sampler *mcmc.Sampler

	L, Ha, Hb *numeric.Matrix
	nbParam   int

	parHist []ParHistoryRow
}

func newDriver(cfg Config) (*driver, error) {
	d := &driver{
		cfg:    cfg,
		n:      cfg.Data.nSubjects(),
		m:      cfg.Iter.Nmc,
		nphi1:  cfg.Block1.nphi(),
		nphi0:  cfg.Block0.nphi(),
	}
	nphi := d.nphi1 + d.nphi0

	d.gamma1 = cfg.Block1.initialGamma()
	d.gamma0 = cfg.Block0.initialGamma()
	d.plambda1 = numeric.NewMatrix(cfg.Block1.nlambda(), d.nphi1)
	d.plambda0 = numeric.NewMatrix(cfg.Block0.nlambda(), d.nphi0)
	d.mpriorPhi1 = meanDesign(cfg.Block1, d.plambda1, d.n)
	d.mpriorPhi0 = meanDesign(cfg.Block0, d.plambda0, d.n)

	d.phiM = numeric.NewMatrix(d.n*d.m, nphi)
	for row := 0; row < d.phiM.Rows(); row++ {
		subj := row % d.n
		full := d.initialPhiRow(subj)
		d.phiM.SetRow(row, full)
	}
	d.statphi11 = numeric.NewMatrix(d.n, d.nphi1)
	d.statphi01 = numeric.NewMatrix(d.n, d.nphi0)
	d.statphi12 = numeric.NewMatrix(d.nphi1, d.nphi1)
	d.statphi02 = numeric.NewMatrix(d.nphi0, d.nphi0)
	d.dGamma0Diag = d.gamma0.Diag()

	nendpnt := len(cfg.Endpoints)
	d.resParams = make([]residual.Params, nendpnt)
	d.sigma2 = make([]float64, nendpnt)
	d.statrese = make([]float64, nendpnt)
	d.endpntObs = make([]int, nendpnt)
	for b, ep := range cfg.Endpoints {
		d.resParams[b] = ep.Init
		d.sigma2[b] = 10
	}
	for _, b := range cfg.Data.EndpointOf {
		d.endpntObs[b]++
	}

	d.adapter = predict.NewAdapter(cfg.Solver, cfg.Optimizer.OdeRecalcFactor, cfg.Optimizer.MaxOdeRecalc)
	d.tol = predict.Tolerances{Atol: cfg.Optimizer.AtolInit, Rtol: cfg.Optimizer.RtolInit}

	if cfg.Reporting.PhiMFile != "" {
		dump, err := mcmc.OpenChainDump(cfg.Reporting.PhiMFile)
		if err != nil {
			return nil, err
		}
		d.dump = dump
	}

	d.nbParam = d.plambda1.Rows()*d.nphi1 + d.plambda0.Rows()*d.nphi0 + d.nphi1 + nendpnt
	d.L = numeric.NewMatrix(d.nbParam, 1)
	d.Ha = numeric.NewMatrix(d.nbParam, d.nbParam)
	d.Hb = numeric.NewMatrix(d.nbParam, d.nbParam)

	return d, nil
}

func (b Block) initialGamma() *numeric.Matrix {
	n := b.nphi()
	g := numeric.NewMatrix(n, n)
	for i := 0; i < n; i++ {
		g.Set(i, i, 1)
	}
	return g
}

// meanDesign returns Cov*Plambda (N x nphiBlock), or an N x 0 matrix when
// the block has no phi columns.
func meanDesign(b Block, plambda *numeric.Matrix, n int) *numeric.Matrix {
	if b.nphi() == 0 {
		return numeric.NewMatrix(n, 0)
	}
	if b.Cov == nil {
		return numeric.NewMatrix(n, b.nphi())
	}
	return b.Cov.Mul(plambda)
}

func (d *driver) initialPhiRow(subj int) []float64 {
	out := make([]float64, d.nphi1+d.nphi0)
	for j := 0; j < d.nphi1; j++ {
		out[j] = d.mpriorPhi1.At(subj, j)
	}
	for j := 0; j < d.nphi0; j++ {
		out[d.nphi1+j] = d.mpriorPhi0.At(subj, j)
	}
	return out
}

// jointPrior assembles the N*M x nphi per-row prior mean and the joint
// covariance mcmc.Sampler needs, from the two blocks' current state. The
// matching `ue` mask is built by jointMask.
func (d *driver) jointPrior() mcmc.Prior {
	nphi := d.nphi1 + d.nphi0
	rows := d.n * d.m
	mean := numeric.NewMatrix(rows, nphi)
	for row := 0; row < rows; row++ {
		subj := row % d.n
		for j := 0; j < d.nphi1; j++ {
			mean.Set(row, j, d.mpriorPhi1.At(subj, j))
		}
		for j := 0; j < d.nphi0; j++ {
			mean.Set(row, d.nphi1+j, d.mpriorPhi0.At(subj, j))
		}
	}
	gamma := numeric.NewMatrix(nphi, nphi)
	for i := 0; i < d.nphi1; i++ {
		for j := 0; j < d.nphi1; j++ {
			gamma.Set(i, j, d.gamma1.At(i, j))
		}
	}
	for i := 0; i < d.nphi0; i++ {
		for j := 0; j < d.nphi0; j++ {
			gamma.Set(d.nphi1+i, d.nphi1+j, d.gamma0.At(i, j))
		}
	}
	inv, err := gamma.SymInverse()
	if err != nil {
		log.Warningf("saem: joint covariance not positive-definite, falling back to identity: %v", err)
		inv = numeric.Identity(nphi)
	}
	return mcmc.Prior{Mean: mean, Gamma: gamma, GammaDiag: gamma.Diag(), InvGamma: inv}
}

func (d *driver) jointMask() *numeric.Matrix {
	rows := d.n * d.m
	nphi := d.nphi1 + d.nphi0
	mask := numeric.NewMatrix(rows, nphi)
	for row := 0; row < rows; row++ {
		subj := row % d.n
		for j := 0; j < nphi; j++ {
			mask.Set(row, j, d.cfg.Mask.At(subj, j))
		}
	}
	return mask
}

// target implements mcmc.Target by wrapping the predictor and the
// censored-likelihood correction, per spec.md §4.5's "common data-
// likelihood evaluator".
type target struct {
	d *driver
}

func (t *target) NegLogLikRow(row int, phi []float64) (float64, []float64) {
	d := t.d
	subj := row % d.n
	phiRow := numeric.NewMatrixFromSlice(1, len(phi), phi)
	lo, hi := d.cfg.Data.evtRange(subj)
	evtSub := d.cfg.Data.Evt.SubRows(lo, hi)
	res := d.adapter.Predict(phiRow, evtSub, d.tol)

	oLo, oHi := d.cfg.Data.obsRange(subj)
	var nll float64
	for i := oLo; i < oHi; i++ {
		fi := i - oLo
		f := res.F[fi]
		y := d.cfg.Data.Y[i]
		ep := d.cfg.Endpoints[d.cfg.Data.EndpointOf[i]]
		switch d.cfg.Reporting.Distribution {
		case Poisson:
			nll += -y*math.Log(f) + f
		case Bernoulli:
			nll += -y*math.Log(f) - (1-y)*math.Log(1-f)
		default:
			yhat, err := transform.T(y, ep.Transform)
			if err != nil {
				log.Error("NaN in transformed data; check transform/data pair")
				return math.NaN(), res.F
			}
			fhat, err := transform.T(f, ep.Transform)
			if err != nil {
				return math.NaN(), res.F
			}
			sigma := residualSigma(ep, fhat, f, d.resParams[d.cfg.Data.EndpointOf[i]])
			var limitHat float64
			haveLimit := d.cfg.Data.HasLimit[i]
			if haveLimit {
				limitHat, _ = transform.T(d.cfg.Data.Limit[i], ep.Transform)
			}
			nll += censor.NegLogLik(yhat, fhat, sigma, d.cfg.Data.Cens[i], limitHat, haveLimit, true)
		}
	}
	return nll, res.F
}

// residualSigma evaluates an endpoint's current residual-model standard
// deviation at one transformed prediction, reusing the same sigma formula
// the residual optimizer fits (spec.md §4.2).
func residualSigma(ep Endpoint, fhat, f float64, p residual.Params) float64 {
	e := residual.Endpoint{
		Model:     ep.Model,
		Combined:  ep.Combined,
		PropT:     ep.PropT,
		AdjustF:   ep.AdjustF,
		Transform: ep.Transform,
	}
	return e.SigmaAt(p, fhat, f)
}

// Fit runs the SAEM iteration loop of spec.md §4.6 to completion, or until
// ctx is cancelled, returning whatever result is available (spec.md §5/§7).
func Fit(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Reporting.Distribution.valid() {
		log.Errorf("saem: unknown distribution (id=%d)", cfg.Reporting.Distribution)
		return &Result{Partial: true}, nil
	}
	d, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	defer d.dump.Close()

	partial := false
	for k := 0; k < cfg.Iter.Niter; k++ {
		if err := ctx.Err(); err != nil {
			log.Warningf("saem: fit interrupted at iteration %d: %v", k, err)
			partial = true
			break
		}
		d.step(k)
		if cfg.Reporting.Print > 0 && k%cfg.Reporting.Print == 0 {
			log.Infof("iteration %d", k)
		}
	}
	return d.result(partial), nil
}

func (d *driver) step(k int) {
	prior := d.jointPrior()
	mask := d.jointMask()
	tgt := &target{d: d}
	sampler := mcmc.NewSampler(tgt, prior, mask, d.cfg.Iter.Rmcmc)
	sampler.Dump = d.dump

	sampler.RunIteration(d.phiM, k, d.cfg.Iter.Nu)
	d.sampler = sampler

	d.accumulateStatistics(k)
	d.updateMeans(k)
	d.updateCovariance(k)
	d.updateResidualModels(k)
	d.accumulateFisher(k)
	d.recordHistory(k)
}

func (d *driver) accumulateStatistics(k int) {
	pas := d.cfg.Iter.Pas[k]
	statphi11 := numeric.NewMatrix(d.n, d.nphi1)
	statphi01 := numeric.NewMatrix(d.n, d.nphi0)
	statphi12 := numeric.NewMatrix(d.nphi1, d.nphi1)
	statphi02 := numeric.NewMatrix(d.nphi0, d.nphi0)
	statr := make([]float64, len(d.cfg.Endpoints))

	for c := 0; c < d.m; c++ {
		chain := d.phiM.SubRows(c*d.n, (c+1)*d.n)
		for i := 0; i < d.n; i++ {
			row := chain.Row(i)
			for j := 0; j < d.nphi1; j++ {
				statphi11.Set(i, j, statphi11.At(i, j)+row[j])
			}
			for j := 0; j < d.nphi0; j++ {
				statphi01.Set(i, j, statphi01.At(i, j)+row[d.nphi1+j])
			}
		}
		phi1k := colSubset(chain, 0, d.nphi1)
		phi0k := colSubset(chain, d.nphi1, d.nphi1+d.nphi0)
		statphi12 = statphi12.Add(phi1k.T().Mul(phi1k))
		statphi02 = statphi02.Add(phi0k.T().Mul(phi0k))

		resk := d.chainResidualSS(c)
		for b, v := range resk {
			statr[b] += v
		}
	}
	for j := 0; j < d.nphi1; j++ {
		for i := 0; i < d.n; i++ {
			d.statphi11.Set(i, j, d.statphi11.At(i, j)+pas*(statphi11.At(i, j)/float64(d.m)-d.statphi11.At(i, j)))
		}
	}
	for j := 0; j < d.nphi0; j++ {
		for i := 0; i < d.n; i++ {
			d.statphi01.Set(i, j, d.statphi01.At(i, j)+pas*(statphi01.At(i, j)/float64(d.m)-d.statphi01.At(i, j)))
		}
	}
	d.statphi12 = stepMatrix(d.statphi12, statphi12, pas, float64(d.m))
	d.statphi02 = stepMatrix(d.statphi02, statphi02, pas, float64(d.m))
	for b := range d.statrese {
		d.statrese[b] += pas * (statr[b]/float64(d.m) - d.statrese[b])
	}
}

// rowPrediction retrieves the cached prediction for a phiM row, populated by
// the most recent accepted MCMC proposal for that row, so statistics
// computed here do not re-solve (spec.md §4.5). When no acceptance has ever
// touched the row (e.g. it was rejected in every kernel this iteration, or
// this is iteration 0 and its prior-kernel draw itself was rejected), it
// falls back to one fresh solve at the row's current phi.
func (d *driver) rowPrediction(row int) []float64 {
	if d.sampler != nil {
		if f := d.sampler.FSave[row]; f != nil {
			return f
		}
	}
	tgt := &target{d: d}
	_, f := tgt.NegLogLikRow(row, d.phiM.Row(row))
	return f
}

// chainResidualSS returns, for one chain c, the per-endpoint sum of squared
// transformed residuals (saem.cpp's resk inside the per-chain k loop). Only
// the additive/proportional model family (Kind.IsAddOrProp) has a closed-
// form accumulator; every other model contributes NoOpStatistic (spec.md
// §9). This accumulator always runs on the transform/residual scale
// regardless of distribution, matching saem.cpp's statr computation, which
// is not itself gated on distribution.
func (d *driver) chainResidualSS(c int) []float64 {
	out := make([]float64, len(d.cfg.Endpoints))
	for row := c * d.n; row < (c+1)*d.n; row++ {
		f := d.rowPrediction(row)
		if f == nil {
			continue
		}
		oLo, oHi := d.cfg.Data.obsRange(row % d.n)
		for i := oLo; i < oHi; i++ {
			b := d.cfg.Data.EndpointOf[i]
			ep := d.cfg.Endpoints[b]
			if !ep.Model.IsAddOrProp() {
				out[b] += residual.NoOpStatistic
				continue
			}
			fi := i - oLo
			yhat, _ := transform.T(d.cfg.Data.Y[i], ep.Transform)
			fhat, _ := transform.T(f[fi], ep.Transform)
			resid := yhat - fhat
			if ep.Model == residual.Prop {
				fa := fhat
				if ep.PropT {
					if fhat < 1e-200 {
						fa = 1e-200
					}
				} else if f[fi] == 0 {
					fa = 1
				}
				resid /= fa
			}
			out[b] += resid * resid
		}
	}
	return out
}

func colSubset(m *numeric.Matrix, lo, hi int) *numeric.Matrix {
	r := m.Rows()
	out := numeric.NewMatrix(r, hi-lo)
	for i := 0; i < r; i++ {
		for j := lo; j < hi; j++ {
			out.Set(i, j-lo, m.At(i, j))
		}
	}
	return out
}

func stepMatrix(cur, batch *numeric.Matrix, pas, m float64) *numeric.Matrix {
	r, c := cur.Dims()
	out := numeric.NewMatrix(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, cur.At(i, j)+pas*(batch.At(i, j)/m-cur.At(i, j)))
		}
	}
	return out
}

// updateMeans implements spec.md §4.6 step 5. Because a block's covariate
// design is shared across all of that block's phi columns, the GLS estimate
// of Plambda_b coincides exactly with ordinary least squares of the
// accumulated sufficient statistic onto the design (see DESIGN.md).
func (d *driver) updateMeans(k int) {
	d.plambda1 = glsUpdate(d.cfg.Block1, d.statphi11, d.plambda1)
	d.plambda0 = glsUpdate(d.cfg.Block0, d.statphi01, d.plambda0)
	d.mpriorPhi1 = meanDesign(d.cfg.Block1, d.plambda1, d.n)
	d.mpriorPhi0 = meanDesign(d.cfg.Block0, d.plambda0, d.n)
}

func glsUpdate(b Block, stat *numeric.Matrix, prev *numeric.Matrix) *numeric.Matrix {
	if b.nphi() == 0 || b.nlambda() == 0 {
		return prev
	}
	xtx := b.Cov.T().Mul(b.Cov)
	inv, err := xtx.SymInverse()
	if err != nil {
		log.Warning("saem: covariate design is singular, keeping previous Plambda")
		return prev
	}
	est := inv.Mul(b.Cov.T()).Mul(stat)
	for j := 0; j < est.Cols(); j++ {
		for i := 0; i < est.Rows(); i++ {
			if b.FixedIx != nil && len(b.FixedIx) > i && b.FixedIx[i] {
				est.Set(i, j, b.FixedValues[i])
			}
		}
	}
	return est
}

// updateCovariance implements spec.md §4.6 step 6.
func (d *driver) updateCovariance(k int) {
	g1 := covarianceMStep(d.statphi12, d.statphi11, d.mpriorPhi1, d.n)
	if k <= d.cfg.Iter.NbSA {
		d.gamma1 = maxDiag(d.gamma1.Scale(d.cfg.Iter.CoefSA), g1)
	} else {
		d.gamma1 = g1
	}
	if d.cfg.Block1.CovStruct != nil {
		d.gamma1 = d.gamma1.MulElem(d.cfg.Block1.CovStruct)
	}
	d.floorDiagonal(d.gamma1, d.cfg.Iter.Minv[:d.nphi1])
	if d.cfg.Freeze.Gamma2Phi1Fixed && k > d.cfg.Iter.NbFixOmega {
		overlayFixed(d.gamma1, d.cfg.Freeze.Gamma2Phi1FixedIx, d.cfg.Freeze.Gamma2Phi1FixedValues)
	}
	if k <= d.cfg.Iter.NbCorrel {
		d.gamma1 = diagonalOnly(d.gamma1)
	}

	if d.nphi0 == 0 {
		return
	}
	if k <= d.cfg.Iter.NiterPhi0 {
		g0 := covarianceMStep(d.statphi02, d.statphi01, d.mpriorPhi0, d.n)
		d.floorDiagonal(g0, d.cfg.Iter.Minv[d.nphi1:])
		d.dGamma0Diag = g0.Diag()
	} else {
		for i := range d.dGamma0Diag {
			d.dGamma0Diag[i] *= d.cfg.Iter.CoefPhi0
		}
	}
	d.gamma0 = numeric.NewMatrix(d.nphi0, d.nphi0)
	d.gamma0.SetDiag(d.dGamma0Diag)
}

func covarianceMStep(stat2, stat1, mprior *numeric.Matrix, n int) *numeric.Matrix {
	if mprior.Cols() == 0 {
		return numeric.NewMatrix(0, 0)
	}
	t1 := mprior.T().Mul(mprior)
	t2 := stat1.T().Mul(mprior)
	g := stat2.Add(t1).Sub(t2).Sub(t2.T())
	return g.Scale(1 / float64(n))
}

func maxDiag(a, b *numeric.Matrix) *numeric.Matrix {
	n := a.Rows()
	out := a.Copy()
	for i := 0; i < n; i++ {
		if b.At(i, i) > out.At(i, i) {
			out.Set(i, i, b.At(i, i))
		}
	}
	return out
}

func (d *driver) floorDiagonal(g *numeric.Matrix, minv []float64) {
	for i := 0; i < g.Rows(); i++ {
		if g.At(i, i) < minv[i] {
			g.Set(i, i, minv[i])
		}
	}
}

func overlayFixed(g, mask, values *numeric.Matrix) {
	for i := 0; i < g.Rows(); i++ {
		for j := 0; j < g.Cols(); j++ {
			if mask.At(i, j) != 0 {
				g.Set(i, j, values.At(i, j))
			}
		}
	}
}

func diagonalOnly(g *numeric.Matrix) *numeric.Matrix {
	n := g.Rows()
	out := numeric.NewMatrix(n, n)
	out.SetDiag(g.Diag())
	return out
}

// updateResidualModels implements spec.md §4.6 step 7.
func (d *driver) updateResidualModels(k int) {
	for b, ep := range d.cfg.Endpoints {
		ys, fs := d.endpointSlices(b)
		e := residual.Endpoint{
			Y: ys, F: fs,
			Transform:   ep.Transform,
			PropT:       ep.PropT,
			AdjustF:     ep.AdjustF,
			Model:       ep.Model,
			Combined:    ep.Combined,
			Freeze:      d.residualFreeze(b, k),
			LambdaRange: ep.LambdaRange,
			PowRange:    ep.PowRange,
		}
		nm := optimize.DefaultNelderMeadSettings()
		nm.Tolerance = d.cfg.Optimizer.Tol
		nm.MaxIterScale = d.cfg.Optimizer.ItMax
		settings := residual.Settings{
			Type:       d.cfg.Optimizer.Type,
			ItMax:      d.cfg.Optimizer.ItMax,
			Tol:        d.cfg.Optimizer.Tol,
			NelderMead: nm,
		}
		optimum, ok := residual.Fit(e, d.resParams[b], settings)
		if !ok {
			continue
		}
		burnedIn := k > d.cfg.Iter.NbFixResid
		d.resParams[b] = residual.Step(d.resParams[b], optimum, d.cfg.Iter.Pas[k], burnedIn)
	}
}

func (d *driver) residualFreeze(b, k int) residual.Freeze {
	ep := d.cfg.Endpoints[b]
	if k <= d.cfg.Iter.NbFixResid {
		return residual.Freeze{}
	}
	return ep.Freeze
}

// endpointSlices gathers the (ys, fs) pair for endpoint b across every
// subject and chain, mirroring saem.cpp's sorted-by-endpoint fsM/ysM cache.
func (d *driver) endpointSlices(b int) (ys, fs []float64) {
	for row := 0; row < d.phiM.Rows(); row++ {
		subj := row % d.n
		oLo, oHi := d.cfg.Data.obsRange(subj)
		f := d.rowPrediction(row)
		for i := oLo; i < oHi; i++ {
			if d.cfg.Data.EndpointOf[i] != b {
				continue
			}
			ys = append(ys, d.cfg.Data.Y[i])
			fs = append(fs, f[i-oLo])
		}
	}
	return ys, fs
}

// accumulateFisher implements spec.md §4.6 step 8. Following saem.cpp, the
// score vector d1logk is built separately for every chain from that chain's
// own deviation from the prior mean (dphi1k/dphi0k) and its own residual
// sum of squares, not from the SA-accumulated statphi11/statrese; D1/D11
// are the sum and outer-product-of-scores across the m chains.
func (d *driver) accumulateFisher(k int) {
	pash := d.cfg.Iter.Pash[k]
	nLambda1 := d.plambda1.Rows() * d.nphi1
	nLambda0 := d.plambda0.Rows() * d.nphi0
	nGamma1 := d.nphi1
	nEndpnt := len(d.cfg.Endpoints)

	D1 := numeric.NewMatrix(d.nbParam, 1)
	D11 := numeric.NewMatrix(d.nbParam, d.nbParam)
	D2 := numeric.NewMatrix(d.nbParam, d.nbParam)

	gamma1Diag := d.gamma1.Diag()

	var gamma1Inv *numeric.Matrix
	if d.nphi1 > 0 && d.cfg.Block1.nlambda() > 0 {
		var err error
		gamma1Inv, err = d.gamma1.SymInverse()
		if err != nil {
			log.Warningf("saem: Gamma2_phi1 not invertible in Fisher accumulation, falling back to identity: %v", err)
			gamma1Inv = numeric.Identity(d.nphi1)
		}
	}
	var gamma0Inv *numeric.Matrix
	if d.nphi0 > 0 && d.cfg.Block0.nlambda() > 0 {
		var err error
		gamma0Inv, err = d.gamma0.SymInverse()
		if err != nil {
			gamma0Inv = numeric.Identity(d.nphi0)
		}
	}

	for c := 0; c < d.m; c++ {
		chain := d.phiM.SubRows(c*d.n, (c+1)*d.n)
		phi1k := colSubset(chain, 0, d.nphi1)
		phi0k := colSubset(chain, d.nphi1, d.nphi1+d.nphi0)
		dphi1k := phi1k.Sub(d.mpriorPhi1)
		dphi0k := phi0k.Sub(d.mpriorPhi0)
		resk := d.chainResidualSS(c)

		score := make([]float64, d.nbParam)
		off := 0
		if gamma1Inv != nil {
			score1 := gamma1Inv.Mul(dphi1k.T().Mul(d.cfg.Block1.Cov)).T()
			for j := 0; j < score1.Cols(); j++ {
				for i := 0; i < score1.Rows(); i++ {
					score[off] = score1.At(i, j)
					off++
				}
			}
		} else {
			off += nLambda1
		}
		if gamma0Inv != nil {
			score0 := gamma0Inv.Mul(dphi0k.T().Mul(d.cfg.Block0.Cov)).T()
			for j := 0; j < score0.Cols(); j++ {
				for i := 0; i < score0.Rows(); i++ {
					score[off] = score0.At(i, j)
					off++
				}
			}
		} else {
			off += nLambda0
		}
		for j := 0; j < nGamma1; j++ {
			sdg := 0.0
			for i := 0; i < d.n; i++ {
				sdg += dphi1k.At(i, j) * dphi1k.At(i, j)
			}
			sdg /= math.Max(gamma1Diag[j], 1e-12)
			score[off] = 0.5*sdg - 0.5*float64(d.n)
			off++
		}
		for b := 0; b < nEndpnt; b++ {
			score[off] = 0.5*resk[b]/math.Max(d.sigma2[b], 1e-12) - 0.5*float64(d.n)
			off++
		}
		for i := 0; i < d.nbParam; i++ {
			D1.Set(i, 0, D1.At(i, 0)+score[i])
			for j := 0; j < d.nbParam; j++ {
				D11.Set(i, j, D11.At(i, j)+score[i]*score[j])
			}
		}
	}

	for b := range d.sigma2 {
		d.sigma2[b] = d.statrese[b] / math.Max(1, float64(d.endpntObs[b]))
	}

	// D2, the observed-information surrogate term saem.cpp accumulates
	// alongside the outer-product-of-scores D1/D11, is not computed here;
	// it stays the zero matrix, leaving Ha/Hb built from scores alone (see
	// DESIGN.md).
	DDa := D1.Scale(1 / float64(d.m)).Mul(D1.Scale(1 / float64(d.m)).T()).Sub(D11.Scale(1 / float64(d.m))).Sub(D2.Scale(1 / float64(d.m)))
	DDb := D11.Scale(-1 / float64(d.m)).Sub(D2.Scale(1 / float64(d.m)))

	d.L = stepMatrix(d.L, D1.Scale(1/float64(d.m)), pash, 1)
	d.Ha = stepMatrix(d.Ha, DDa, pash, 1)
	d.Hb = stepMatrix(d.Hb, DDb, pash, 1)
}

func (d *driver) recordHistory(k int) {
	row := ParHistoryRow{Iteration: k}
	if cols := d.plambda1.Cols(); cols > 0 {
		for _, idx := range d.cfg.Reporting.ParHistThetaKeep {
			if idx < d.plambda1.Rows()*cols {
				row.Theta = append(row.Theta, d.plambda1.At(idx/cols, idx%cols))
			}
		}
	}
	for _, idx := range d.cfg.Reporting.ParHistOmegaKeep {
		diag := d.gamma1.Diag()
		if idx < len(diag) {
			row.Omega = append(row.Omega, diag[idx])
		}
	}
	row.Residual = append(row.Residual, d.resParams...)
	d.parHist = append(d.parHist, row)
}

func (d *driver) result(partial bool) *Result {
	nendpnt := len(d.cfg.Endpoints)
	resMat := numeric.NewMatrix(nendpnt, 4)
	transMat := numeric.NewMatrix(nendpnt, 4)
	resInfo := ResInfo{
		Sigma2: append([]float64{}, d.sigma2...),
		ResMod: make([]residual.Kind, nendpnt),
	}
	for b, ep := range d.cfg.Endpoints {
		p := d.resParams[b]
		resMat.Set(b, 0, p.A)
		resMat.Set(b, 1, p.B)
		resMat.Set(b, 2, p.C)
		resMat.Set(b, 3, p.Lambda)
		transMat.Set(b, 0, ep.Transform.Lambda)
		transMat.Set(b, 1, float64(ep.Transform.Kind))
		transMat.Set(b, 2, ep.Transform.Lo)
		transMat.Set(b, 3, ep.Transform.Hi)
		resInfo.Ares = append(resInfo.Ares, p.A)
		resInfo.Bres = append(resInfo.Bres, p.B)
		resInfo.Cres = append(resInfo.Cres, p.C)
		resInfo.Lres = append(resInfo.Lres, p.Lambda)
		resInfo.ResMod[b] = ep.Model
	}

	mpost, cpost := d.posteriorMoments()
	eta := d.eta()

	return &Result{
		ResMat:     resMat,
		TransMat:   transMat,
		MPriorPhi:  d.jointMprior(),
		MPostPhi:   mpost,
		CPostPhi:   cpost,
		Gamma2Phi1: d.gamma1,
		Plambda1:   d.plambda1,
		Plambda0:   d.plambda0,
		L:          d.L,
		Ha:         d.Ha,
		Hb:         d.Hb,
		Sig2:       append([]float64{}, d.sigma2...),
		Eta:        eta,
		ParHist:    d.parHist,
		ResInfo:    resInfo,
		Partial:    partial,
	}
}

func (d *driver) jointMprior() *numeric.Matrix {
	out := numeric.NewMatrix(d.n, d.nphi1+d.nphi0)
	for i := 0; i < d.n; i++ {
		for j := 0; j < d.nphi1; j++ {
			out.Set(i, j, d.mpriorPhi1.At(i, j))
		}
		for j := 0; j < d.nphi0; j++ {
			out.Set(i, d.nphi1+j, d.mpriorPhi0.At(i, j))
		}
	}
	return out
}

func (d *driver) posteriorMoments() (mean, cov *numeric.Matrix) {
	nphi := d.nphi1 + d.nphi0
	mean = numeric.NewMatrix(d.n, nphi)
	for c := 0; c < d.m; c++ {
		for i := 0; i < d.n; i++ {
			row := d.phiM.Row(c*d.n + i)
			for j := 0; j < nphi; j++ {
				mean.Set(i, j, mean.At(i, j)+row[j]/float64(d.m))
			}
		}
	}
	cov = numeric.NewMatrix(nphi, nphi)
	for c := 0; c < d.m; c++ {
		for i := 0; i < d.n; i++ {
			row := d.phiM.Row(c*d.n + i)
			for a := 0; a < nphi; a++ {
				for b := 0; b < nphi; b++ {
					dv := (row[a] - mean.At(i, a)) * (row[b] - mean.At(i, b))
					cov.Set(a, b, cov.At(a, b)+dv/float64(d.n*d.m))
				}
			}
		}
	}
	return mean, cov
}

func (d *driver) eta() *numeric.Matrix {
	mpost, _ := d.posteriorMoments()
	out := numeric.NewMatrix(d.n, d.nphi1)
	for i := 0; i < d.n; i++ {
		for j := 0; j < d.nphi1; j++ {
			v := (mpost.At(i, j) - d.mpriorPhi1.At(i, j)) * d.cfg.Mask.At(i, j)
			out.Set(i, j, v)
		}
	}
	return out
}
