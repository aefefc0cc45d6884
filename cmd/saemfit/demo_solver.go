package main

import (
	"math"

	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/predict"
)

// oneCompartmentSolver is a reference predict.Solver for smoke-testing
// cmd/saemfit without an external ODE engine: a one-compartment, first-order
// absorption model with an analytic closed-form solution. Fitting a real
// study still requires wiring in the study's own compiled model (spec.md §2
// treats the solver as an opaque external dependency); this exists only so
// the CLI has something runnable out of the box.
//
// phi columns, per row: [0]=ln(ka), [1]=ln(V), [2]=ln(CL). evt columns, per
// row: [0]=time, [1]=dose (0 for an observation row, >0 for a dosing row
// whose own concentration is not reported).
type oneCompartmentSolver struct{}

func (oneCompartmentSolver) Solve(phi, evt *numeric.Matrix, tol predict.Tolerances) (f, cens, limit []float64, badSolve bool) {
	if phi.Rows() == 0 {
		return nil, nil, nil, false
	}
	ka := math.Exp(phi.At(0, 0))
	v := math.Exp(phi.At(0, 1))
	cl := math.Exp(phi.At(0, 2))
	ke := cl / v

	rows := evt.Rows()
	f = make([]float64, 0, rows)
	cens = make([]float64, 0, rows)
	limit = make([]float64, 0, rows)

	type dose struct {
		time, amount float64
	}
	var doses []dose
	for i := 0; i < rows; i++ {
		if evt.At(i, 1) > 0 {
			doses = append(doses, dose{time: evt.At(i, 0), amount: evt.At(i, 1)})
		}
	}

	bad := math.Abs(ka-ke) < 1e-9
	for i := 0; i < rows; i++ {
		if evt.At(i, 1) > 0 {
			continue
		}
		t := evt.At(i, 0)
		var conc float64
		for _, dd := range doses {
			if dd.time > t {
				continue
			}
			dt := t - dd.time
			if bad {
				conc += dd.amount * ka / v * dt * math.Exp(-ka*dt)
			} else {
				conc += dd.amount * ka / (v * (ka - ke)) * (math.Exp(-ke*dt) - math.Exp(-ka*dt))
			}
		}
		f = append(f, conc)
		cens = append(cens, 0)
		limit = append(limit, math.Inf(-1))
	}
	return f, cens, limit, false
}
