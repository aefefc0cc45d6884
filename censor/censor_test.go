package censor

import (
	"math"
	"testing"

	"github.com/nlmefit/saem/numeric"
)

func TestNegLogLikUncensoredMatchesGaussian(t *testing.T) {
	yhat, fhat, sigma := 1.5, 1.2, 0.3
	got := NegLogLik(yhat, fhat, sigma, None, 0, false, false)
	r := (yhat - fhat) / sigma
	want := 0.5*r*r + math.Log(sigma)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("NegLogLik(uncensored) = %v, want %v", got, want)
	}
}

func TestNegLogLikRightCensoredMatchesLogCDF(t *testing.T) {
	fhat, sigma, limit := 2.0, 0.5, 3.0
	got := NegLogLik(0, fhat, sigma, Right, limit, true, false)
	want := -numeric.StdNormalLogCDF((limit-fhat)/sigma) - math.Log(sigma)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("NegLogLik(right) = %v, want %v", got, want)
	}
}

func TestNegLogLikLeftCensoredMatchesLogCDF(t *testing.T) {
	fhat, sigma, limit := 2.0, 0.5, 1.0
	got := NegLogLik(0, fhat, sigma, Left, limit, true, false)
	want := -numeric.StdNormalLogCDF((fhat-limit)/sigma) - math.Log(sigma)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("NegLogLik(left) = %v, want %v", got, want)
	}
}

func TestNegLogLikIntervalIsSymmetricInBounds(t *testing.T) {
	fhat, sigma := 1.0, 0.4
	a := NegLogLik(2.0, fhat, sigma, Right, 0.5, true, true)
	b := NegLogLik(0.5, fhat, sigma, Left, 2.0, true, true)
	if math.Abs(a-b) > 1e-12 {
		t.Errorf("interval correction not symmetric in bound order: %v vs %v", a, b)
	}
}

func TestNegLogLikRightCensoredIncreasesAsFhatMovesAboveLimit(t *testing.T) {
	sigma, limit := 0.5, 1.0
	near := NegLogLik(0, 1.0, sigma, Right, limit, true, false)
	far := NegLogLik(0, 5.0, sigma, Right, limit, true, false)
	if far <= near {
		t.Errorf("expected cost to rise as fhat moves past the right-censoring limit: near=%v far=%v", near, far)
	}
}

func TestNegLogLikUnknownFlagPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown Flag")
		}
	}()
	NegLogLik(0, 0, 1, Flag(42), 0, true, false)
}
