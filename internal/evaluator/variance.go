package evaluator

import "math"

// entropyBins is the discretization granularity for score entropy.
const entropyBins = 10

// VarianceDetector flags documents whose sampled pages score very
// unevenly. A few terrible pages hidden behind a good average must not
// reach the fully automatic path; high variance or high normalized
// entropy forces at least a hybrid route.
type VarianceDetector struct{}

// Check measures score consistency across sampled pages.
// Fewer than three scores never force a route: the statistics are
// meaningless at that size.
// Parameters:
//   - scores: per-page overall scores.
//   - varianceThreshold: population-variance trip point.
//   - entropyThreshold: normalized-entropy trip point in [0,1].
// Returns:
//   - variance: population variance of the scores.
//   - entropy: Shannon entropy over ten bins, normalized by log2(10).
//   - forced: whether either threshold tripped.
func (VarianceDetector) Check(scores []float64, varianceThreshold, entropyThreshold float64) (variance, entropy float64, forced bool) {
	if len(scores) < 3 {
		return 0, 0, false
	}

	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))

	entropy = normalizedEntropy(scores)
	forced = variance > varianceThreshold || entropy > entropyThreshold
	return variance, entropy, forced
}

func normalizedEntropy(scores []float64) float64 {
	bins := make([]int, entropyBins)
	for _, s := range scores {
		idx := int(s * entropyBins)
		if idx > entropyBins-1 {
			idx = entropyBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx]++
	}

	n := float64(len(scores))
	var entropy float64
	for _, count := range bins {
		if count > 0 {
			p := float64(count) / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy / math.Log2(entropyBins)
}
