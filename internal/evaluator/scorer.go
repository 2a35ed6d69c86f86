package evaluator

import (
	"context"
	"math"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/llm"
	"github.com/haoran/skuflow/internal/logger"
)

// dimensionNames lists the five scoring dimensions in weight-map order.
var dimensionNames = []string{
	domain.DimTextClarity,
	domain.DimImageQuality,
	domain.DimLayoutStructure,
	domain.DimTableRegularity,
	domain.DimSKUDensity,
}

// Scorer aggregates per-page LLM scores into document-level confidence.
type Scorer struct{}

// Aggregate averages page scores per dimension. Dimensions missing from
// every page come back as zero, not as an error.
func (Scorer) Aggregate(pageScores []llm.PageScore) domain.FloatMap {
	out := make(domain.FloatMap, len(dimensionNames))
	for _, dim := range dimensionNames {
		out[dim] = 0
	}
	if len(pageScores) == 0 {
		return out
	}
	counts := make(map[string]int, len(dimensionNames))
	for _, ps := range pageScores {
		for _, dim := range dimensionNames {
			if v, ok := ps.Dimensions[dim]; ok {
				out[dim] += v
				counts[dim]++
			}
		}
	}
	for _, dim := range dimensionNames {
		if counts[dim] > 0 {
			out[dim] = round4(out[dim] / float64(counts[dim]))
		}
	}
	return out
}

// ComputeCDoc computes document confidence:
//
//	C_doc = clamp(Σ(Wi × Di) − prescanPenalty, 0, 1)
//
// Parameters:
//   - ctx: context carrying the request-scoped logger.
//   - dims: aggregated dimension scores.
//   - weights: dimension weight map; nil uses the defaults.
//   - prescanPenalty: penalty accumulated during upload prescan.
// Returns:
//   - float64: C_doc rounded to four decimals.
func (Scorer) ComputeCDoc(ctx context.Context, dims domain.FloatMap, weights domain.FloatMap, prescanPenalty float64) float64 {
	if weights == nil {
		weights = domain.DefaultWeights()
	}

	var weightSum float64
	for _, dim := range dimensionNames {
		weightSum += weights[dim]
	}
	if math.Abs(weightSum-1.0) > 0.01 {
		logger.CtxWarn(ctx, "dimension weight sum is %.4f, expected 1.0", weightSum)
	}

	var cDoc float64
	for _, dim := range dimensionNames {
		cDoc += weights[dim] * dims[dim]
	}
	cDoc -= prescanPenalty
	cDoc = math.Max(0, math.Min(1, cDoc))

	logger.CtxInfo(ctx, "document confidence computed: c_doc=%.4f penalty=%.3f", cDoc, prescanPenalty)
	return round4(cDoc)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
