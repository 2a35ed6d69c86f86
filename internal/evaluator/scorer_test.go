package evaluator

import (
	"context"
	"math"
	"testing"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/llm"
)

func perfectScore(pageNo int) llm.PageScore {
	return llm.PageScore{
		PageNo:  pageNo,
		Overall: 1.0,
		Dimensions: map[string]float64{
			domain.DimTextClarity:     1.0,
			domain.DimImageQuality:    1.0,
			domain.DimLayoutStructure: 1.0,
			domain.DimTableRegularity: 1.0,
			domain.DimSKUDensity:      1.0,
		},
	}
}

func TestAggregateAverages(t *testing.T) {
	var s Scorer

	scores := []llm.PageScore{
		{PageNo: 1, Dimensions: map[string]float64{domain.DimTextClarity: 0.8, domain.DimSKUDensity: 0.4}},
		{PageNo: 2, Dimensions: map[string]float64{domain.DimTextClarity: 0.6, domain.DimSKUDensity: 0.6}},
	}
	dims := s.Aggregate(scores)
	if got := dims[domain.DimTextClarity]; math.Abs(got-0.7) > 1e-9 {
		t.Errorf("text_clarity = %v, want 0.7", got)
	}
	if got := dims[domain.DimSKUDensity]; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("sku_density = %v, want 0.5", got)
	}
	if got := dims[domain.DimImageQuality]; got != 0 {
		t.Errorf("missing dimension should aggregate to 0, got %v", got)
	}
}

func TestAggregateEmpty(t *testing.T) {
	var s Scorer
	dims := s.Aggregate(nil)
	if len(dims) != len(dimensionNames) {
		t.Fatalf("expected all %d dimensions, got %d", len(dimensionNames), len(dims))
	}
	for dim, v := range dims {
		if v != 0 {
			t.Errorf("dimension %s = %v, want 0", dim, v)
		}
	}
}

func TestComputeCDoc(t *testing.T) {
	var s Scorer
	ctx := context.Background()

	tests := []struct {
		name    string
		dims    domain.FloatMap
		penalty float64
		want    float64
	}{
		{
			name:    "perfect scores give 1.0",
			dims:    s.Aggregate([]llm.PageScore{perfectScore(1), perfectScore(2)}),
			penalty: 0,
			want:    1.0,
		},
		{
			name: "weighted sum",
			dims: domain.FloatMap{
				domain.DimTextClarity:     0.8,
				domain.DimImageQuality:    0.6,
				domain.DimLayoutStructure: 0.8,
				domain.DimTableRegularity: 0.4,
				domain.DimSKUDensity:      0.4,
			},
			penalty: 0,
			// 0.25*0.8 + 0.20*0.6 + 0.25*0.8 + 0.15*0.4 + 0.15*0.4
			want: 0.64,
		},
		{
			name:    "penalty subtracts",
			dims:    s.Aggregate([]llm.PageScore{perfectScore(1)}),
			penalty: 0.15,
			want:    0.85,
		},
		{
			name:    "clamped at zero",
			dims:    domain.FloatMap{},
			penalty: 0.45,
			want:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ComputeCDoc(ctx, tt.dims, domain.DefaultWeights(), tt.penalty)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeCDoc() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeCDocRoundsToFourDecimals(t *testing.T) {
	var s Scorer
	dims := domain.FloatMap{
		domain.DimTextClarity:     0.123456,
		domain.DimImageQuality:    0.123456,
		domain.DimLayoutStructure: 0.123456,
		domain.DimTableRegularity: 0.123456,
		domain.DimSKUDensity:      0.123456,
	}
	got := s.ComputeCDoc(context.Background(), dims, domain.DefaultWeights(), 0)
	if got != math.Round(got*10000)/10000 {
		t.Errorf("ComputeCDoc() = %v, not rounded to 4 decimals", got)
	}
}
