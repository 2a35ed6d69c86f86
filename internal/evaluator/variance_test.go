package evaluator

import (
	"math"
	"testing"
)

func TestVarianceTooFewScores(t *testing.T) {
	var d VarianceDetector

	for _, scores := range [][]float64{nil, {0.1}, {0.1, 0.95}} {
		variance, entropy, forced := d.Check(scores, 0.08, 0.7)
		if forced {
			t.Errorf("scores %v: fewer than 3 scores must never force a route", scores)
		}
		if variance != 0 || entropy != 0 {
			t.Errorf("scores %v: expected zero stats, got var=%v ent=%v", scores, variance, entropy)
		}
	}
}

func TestVarianceUniformScoresNotForced(t *testing.T) {
	var d VarianceDetector

	variance, _, forced := d.Check([]float64{0.8, 0.81, 0.79, 0.8, 0.82}, 0.08, 0.7)
	if forced {
		t.Errorf("uniform scores forced a route (variance=%v)", variance)
	}
}

func TestVarianceBimodalScoresForced(t *testing.T) {
	var d VarianceDetector

	// Half excellent, half terrible: classic hidden-bad-pages shape.
	scores := []float64{0.95, 0.95, 0.95, 0.1, 0.1, 0.1}
	variance, _, forced := d.Check(scores, 0.08, 0.7)
	if !forced {
		t.Errorf("bimodal scores must force a route (variance=%v)", variance)
	}
	if variance <= 0.08 {
		t.Errorf("expected variance above threshold, got %v", variance)
	}
}

func TestVarianceComputation(t *testing.T) {
	var d VarianceDetector

	// Population variance of {0.2, 0.5, 0.8} is 0.06.
	variance, _, _ := d.Check([]float64{0.2, 0.5, 0.8}, 0.08, 0.99)
	if math.Abs(variance-0.06) > 1e-9 {
		t.Errorf("variance = %v, want 0.06", variance)
	}
}

func TestEntropyTripsIndependently(t *testing.T) {
	var d VarianceDetector

	// Scores spread across many bins: entropy high even at modest variance.
	scores := []float64{0.05, 0.15, 0.25, 0.35, 0.45, 0.55, 0.65, 0.75, 0.85, 0.95}
	_, entropy, forced := d.Check(scores, 10.0, 0.7)
	if entropy <= 0.7 {
		t.Fatalf("expected normalized entropy above 0.7, got %v", entropy)
	}
	if !forced {
		t.Error("high entropy alone must force a route")
	}
}

func TestEntropyBounds(t *testing.T) {
	if e := normalizedEntropy([]float64{0.5, 0.5, 0.5}); e != 0 {
		t.Errorf("identical scores should have zero entropy, got %v", e)
	}
	scores := []float64{0.05, 0.15, 0.25, 0.35, 0.45, 0.55, 0.65, 0.75, 0.85, 0.95}
	if e := normalizedEntropy(scores); math.Abs(e-1.0) > 1e-9 {
		t.Errorf("one score per bin should have entropy 1.0, got %v", e)
	}
}
