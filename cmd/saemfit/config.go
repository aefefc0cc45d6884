package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/nlmefit/saem/censor"
	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/predict"
	"github.com/nlmefit/saem/residual"
	"github.com/nlmefit/saem/saem"
	"github.com/nlmefit/saem/transform"
)

// fileConfig is the TOML-friendly mirror of saem.Config. Assembling the real
// saem.Config from raw covariate/event arrays is the data-intake step
// spec.md §1 places out of scope for the estimator itself; fileConfig is
// cmd/saemfit's own on-disk format for supplying that intake in one file,
// not part of the saem package's contract.
type fileConfig struct {
	Iter struct {
		Niter      int       `toml:"niter"`
		Nmc        int       `toml:"nmc"`
		Nu         [3]int    `toml:"nu"`
		NbSA       int       `toml:"nb_sa"`
		NbCorrel   int       `toml:"nb_correl"`
		NbFixOmega int       `toml:"nb_fix_omega"`
		NbFixResid int       `toml:"nb_fix_resid"`
		NiterPhi0  int       `toml:"niter_phi0"`
		CoefSA     float64   `toml:"coef_sa"`
		CoefPhi0   float64   `toml:"coef_phi0"`
		Rmcmc      float64   `toml:"rmcmc"`
		Pas        []float64 `toml:"pas"`
		Pash       []float64 `toml:"pash"`
		Minv       []float64 `toml:"minv"`
	} `toml:"iter"`

	Block1 fileBlock `toml:"block1"`
	Block0 fileBlock `toml:"block0"`

	Freeze struct {
		Gamma2Phi1Fixed bool `toml:"gamma2_phi1_fixed"`
	} `toml:"freeze"`

	Data struct {
		Y               []float64   `toml:"y"`
		EndpointOf      []int       `toml:"endpoint_of"`
		SubjectObsStart []int       `toml:"subject_obs_start"`
		Cens            []int       `toml:"cens"`
		Limit           []float64   `toml:"limit"`
		HasLimit        []bool      `toml:"has_limit"`
		Evt             [][]float64 `toml:"evt"`
		EvtSubjectStart []int       `toml:"evt_subject_start"`
	} `toml:"data"`

	Endpoints []fileEndpoint `toml:"endpoint"`

	Optimizer struct {
		ItMax           int     `toml:"it_max"`
		Tol             float64 `toml:"tol"`
		Type            int     `toml:"type"`
		LambdaRange     float64 `toml:"lambda_range"`
		PowRange        float64 `toml:"pow_range"`
		MaxOdeRecalc    int     `toml:"max_ode_recalc"`
		OdeRecalcFactor float64 `toml:"ode_recalc_factor"`
		AtolInit        float64 `toml:"atol_init"`
		RtolInit        float64 `toml:"rtol_init"`
	} `toml:"optimizer"`

	Mask [][]float64 `toml:"mask"`

	Reporting struct {
		Print            int    `toml:"print"`
		ParHistThetaKeep []int  `toml:"par_hist_theta_keep"`
		ParHistOmegaKeep []int  `toml:"par_hist_omega_keep"`
		Distribution     int    `toml:"distribution"`
		Debug            bool   `toml:"debug"`
		PhiMFile         string `toml:"phim_file"`
	} `toml:"reporting"`
}

type fileBlock struct {
	Idx         []int       `toml:"idx"`
	Cov         [][]float64 `toml:"cov"`
	FixedIx     []bool      `toml:"fixed_ix"`
	FixedValues []float64   `toml:"fixed_values"`
}

type fileEndpoint struct {
	Model       int     `toml:"model"`
	TransformK  int     `toml:"transform_kind"`
	Lambda      float64 `toml:"lambda"`
	Lo          float64 `toml:"lo"`
	Hi          float64 `toml:"hi"`
	PropT       bool    `toml:"prop_t"`
	AdjustF     bool    `toml:"adjust_f"`
	Combined    int     `toml:"combined"`
	LambdaRange float64 `toml:"lambda_range"`
	PowRange    float64 `toml:"pow_range"`
	InitA       float64 `toml:"init_a"`
	InitB       float64 `toml:"init_b"`
	InitC       float64 `toml:"init_c"`
	InitLambda  float64 `toml:"init_lambda"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &fc, nil
}

func matrixOf(rows [][]float64) *numeric.Matrix {
	if len(rows) == 0 {
		return nil
	}
	m := numeric.NewMatrix(len(rows), len(rows[0]))
	for i, r := range rows {
		for j, v := range r {
			m.Set(i, j, v)
		}
	}
	return m
}

func (b fileBlock) build() saem.Block {
	return saem.Block{
		Idx:         b.Idx,
		Cov:         matrixOf(b.Cov),
		FixedIx:     b.FixedIx,
		FixedValues: b.FixedValues,
	}
}

func (e fileEndpoint) build() saem.Endpoint {
	return saem.Endpoint{
		Model: residual.Kind(e.Model),
		Transform: transform.Spec{
			Lambda: e.Lambda,
			Kind:   transform.Kind(e.TransformK),
			Lo:     e.Lo,
			Hi:     e.Hi,
		},
		PropT:       e.PropT,
		AdjustF:     e.AdjustF,
		Combined:    residual.Combined(e.Combined),
		LambdaRange: e.LambdaRange,
		PowRange:    e.PowRange,
		Init: residual.Params{
			A: e.InitA, B: e.InitB, C: e.InitC, Lambda: e.InitLambda,
		},
	}
}

// buildConfig assembles a saem.Config from the file contents plus the solver
// the caller injects (spec.md §2: the ODE solver is supplied externally,
// never part of the estimator's own configuration surface).
func (fc *fileConfig) buildConfig(solver predict.Solver) saem.Config {
	cfg := saem.Config{
		Iter: saem.IterationSchedule{
			Niter:      fc.Iter.Niter,
			Nmc:        fc.Iter.Nmc,
			Nu:         fc.Iter.Nu,
			NbSA:       fc.Iter.NbSA,
			NbCorrel:   fc.Iter.NbCorrel,
			NbFixOmega: fc.Iter.NbFixOmega,
			NbFixResid: fc.Iter.NbFixResid,
			NiterPhi0:  fc.Iter.NiterPhi0,
			CoefSA:     fc.Iter.CoefSA,
			CoefPhi0:   fc.Iter.CoefPhi0,
			Rmcmc:      fc.Iter.Rmcmc,
			Pas:        fc.Iter.Pas,
			Pash:       fc.Iter.Pash,
			Minv:       fc.Iter.Minv,
		},
		Block1: fc.Block1.build(),
		Block0: fc.Block0.build(),
		Freeze: saem.FreezeConfig{
			Gamma2Phi1Fixed: fc.Freeze.Gamma2Phi1Fixed,
		},
		Data: saem.Data{
			Y:               fc.Data.Y,
			EndpointOf:      fc.Data.EndpointOf,
			SubjectObsStart: fc.Data.SubjectObsStart,
			Cens:            censFlags(fc.Data.Cens),
			Limit:           fc.Data.Limit,
			HasLimit:        fc.Data.HasLimit,
			Evt:             matrixOf(fc.Data.Evt),
			EvtSubjectStart: fc.Data.EvtSubjectStart,
		},
		Optimizer: saem.OptimizerConfig{
			ItMax:           fc.Optimizer.ItMax,
			Tol:             fc.Optimizer.Tol,
			Type:            residual.MethodType(fc.Optimizer.Type),
			LambdaRange:     fc.Optimizer.LambdaRange,
			PowRange:        fc.Optimizer.PowRange,
			MaxOdeRecalc:    fc.Optimizer.MaxOdeRecalc,
			OdeRecalcFactor: fc.Optimizer.OdeRecalcFactor,
			AtolInit:        fc.Optimizer.AtolInit,
			RtolInit:        fc.Optimizer.RtolInit,
		},
		Mask: matrixOf(fc.Mask),
		Reporting: saem.Reporting{
			Print:            fc.Reporting.Print,
			ParHistThetaKeep: fc.Reporting.ParHistThetaKeep,
			ParHistOmegaKeep: fc.Reporting.ParHistOmegaKeep,
			Distribution:     saem.Distribution(fc.Reporting.Distribution),
			Debug:            fc.Reporting.Debug,
			PhiMFile:         fc.Reporting.PhiMFile,
		},
		Solver: solver,
	}
	cfg.Endpoints = make([]saem.Endpoint, len(fc.Endpoints))
	for i, e := range fc.Endpoints {
		cfg.Endpoints[i] = e.build()
	}
	return cfg
}

func censFlags(raw []int) []censor.Flag {
	out := make([]censor.Flag, len(raw))
	for i, v := range raw {
		out[i] = censor.Flag(v)
	}
	return out
}
