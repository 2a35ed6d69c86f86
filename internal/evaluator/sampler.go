package evaluator

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haoran/skuflow/internal/domain"
)

// FullSampleThreshold is the page count at or below which every
// non-blank page is evaluated instead of a sample.
const FullSampleThreshold = 40

// tocKeywords mark likely table-of-contents pages, which score well but
// say nothing about extraction feasibility.
var tocKeywords = []string{"目录", "contents", "table of contents", "index", "catalogue"}

// Sampler selects the pages used for document quality evaluation.
//
// Strategy: full coverage up to FullSampleThreshold pages; above that,
// complexity-stratified sampling (3:2:1 weights for high/medium/low
// complexity) with the first and last two pages always included.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a sampler with a time-seeded random source.
func NewSampler() *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// newSeededSampler is used by tests to make selection deterministic.
func newSeededSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// SelectPages picks the evaluation sample for a document.
// Parameters:
//   - total: total page count.
//   - blankPages: blank page numbers to exclude (1-indexed).
//   - features: per-page prescan features; nil falls back to even strides.
//   - threshold: full-sample cutoff; <=0 uses FullSampleThreshold.
// Returns:
//   - []int: sorted page numbers to evaluate (1-indexed).
func (s *Sampler) SelectPages(total int, blankPages []int, features map[int]domain.PageFeature, threshold int) []int {
	if threshold <= 0 {
		threshold = FullSampleThreshold
	}
	blank := make(map[int]bool, len(blankPages))
	for _, p := range blankPages {
		blank[p] = true
	}

	effective := make([]int, 0, total)
	for p := 1; p <= total; p++ {
		if !blank[p] && !isTOCPage(p, features) {
			effective = append(effective, p)
		}
	}
	if len(effective) == 0 {
		return nil
	}
	if len(effective) <= threshold {
		return effective
	}
	if features != nil {
		return s.featureWeightedSample(effective, features, threshold)
	}
	return stratifiedSample(effective, threshold)
}

// featureWeightedSample stratifies the middle pages by complexity.
// High-complexity pages (many images or poor OCR) are the ones most
// likely to drag extraction quality down, so they get triple weight.
func (s *Sampler) featureWeightedSample(effective []int, features map[int]domain.PageFeature, sampleSize int) []int {
	mustSelect := make(map[int]bool, 4)
	for _, p := range effective[:2] {
		mustSelect[p] = true
	}
	for _, p := range effective[len(effective)-2:] {
		mustSelect[p] = true
	}

	var high, med, low []int
	for _, p := range effective {
		if mustSelect[p] {
			continue
		}
		feat, ok := features[p]
		img, ocr := 0, 1.0
		if ok {
			img, ocr = feat.ImageCount, feat.OCRRate
		}
		switch {
		case img > 5 || ocr < 0.5:
			high = append(high, p)
		case img > 2 || ocr < 0.8:
			med = append(med, p)
		default:
			low = append(low, p)
		}
	}

	remaining := sampleSize - len(mustSelect)
	if remaining <= 0 {
		return sortedKeys(mustSelect)[:sampleSize]
	}
	totalWeight := len(high)*3 + len(med)*2 + len(low)
	if totalWeight == 0 {
		return sortedKeys(mustSelect)
	}

	selected := make(map[int]bool, sampleSize)
	for p := range mustSelect {
		selected[p] = true
	}
	s.mu.Lock()
	s.pick(selected, high, 3, remaining, totalWeight)
	s.pick(selected, med, 2, remaining, totalWeight)
	s.pick(selected, low, 1, remaining, totalWeight)
	s.mu.Unlock()

	// Per-bucket rounding can overshoot the budget; evict overflow from
	// the optional picks only, never the mandatory head/tail pages.
	result := sortedKeys(selected)
	for i := len(result) - 1; i >= 0 && len(result) > sampleSize; i-- {
		if mustSelect[result[i]] {
			continue
		}
		result = append(result[:i], result[i+1:]...)
	}
	return result
}

// pick draws a weighted share of pool into selected without replacement.
func (s *Sampler) pick(selected map[int]bool, pool []int, weight, remaining, totalWeight int) {
	if len(pool) == 0 {
		return
	}
	n := int(math.Round(float64(remaining*len(pool)*weight) / float64(totalWeight)))
	if n < 1 {
		n = 1
	}
	if n > len(pool) {
		n = len(pool)
	}
	for _, idx := range s.rng.Perm(len(pool))[:n] {
		selected[pool[idx]] = true
	}
}

// stratifiedSample is the no-features fallback: head/tail plus even strides.
func stratifiedSample(effective []int, sampleSize int) []int {
	head := effective[:2]
	tail := effective[len(effective)-2:]
	middlePool := effective[2 : len(effective)-2]

	selected := make(map[int]bool, sampleSize)
	for _, p := range head {
		selected[p] = true
	}
	for _, p := range tail {
		selected[p] = true
	}
	remaining := sampleSize - len(selected)
	if remaining > 0 && len(middlePool) > 0 {
		step := len(middlePool) / remaining
		if step < 1 {
			step = 1
		}
		for i := 0; i < len(middlePool) && remaining > 0; i += step {
			if !selected[middlePool[i]] {
				selected[middlePool[i]] = true
				remaining--
			}
		}
	}
	return sortedKeys(selected)
}

func isTOCPage(pageNo int, features map[int]domain.PageFeature) bool {
	feat, ok := features[pageNo]
	if !ok || feat.ImageCount != 0 {
		return false
	}
	hint := strings.ToLower(feat.TextHint)
	for _, kw := range tocKeywords {
		if strings.Contains(hint, kw) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
