package pipeline

import (
	"math"
	"sort"

	"github.com/haoran/skuflow/internal/domain"
)

// Layout-specific distance thresholds in page points. Beyond the
// threshold a pairing still gets a floor confidence rather than zero,
// so reviewers see the binder's least-bad guess.
var bindingThresholds = map[domain.LayoutType]float64{
	domain.LayoutGrid:          100,
	domain.LayoutTable:         150,
	domain.LayoutList:          200,
	domain.LayoutFreeform:      150,
	domain.LayoutSingleProduct: 300,
}

const (
	// ambiguityGap: when the top two candidates score this close, the
	// binder refuses to choose and hands the ranked list to a human.
	ambiguityGap = 0.2

	bindingFloor = 0.01

	// blindConfidence applies when the image carries no geometry and
	// the pairing rests on page co-location alone.
	blindConfidence = 0.25

	maxAmbiguousCandidates = 3
)

// BindImages pairs every SKU with its most plausible deliverable image.
// Pairings are scored by center distance against the layout threshold;
// a near-tie is reported as ambiguous with the top candidates and no
// chosen image.
func BindImages(skus []SKUCandidate, images []ImageData, layout domain.LayoutType) []BindingOutcome {
	threshold, ok := bindingThresholds[layout]
	if !ok {
		threshold = bindingThresholds[domain.LayoutFreeform]
	}

	var deliverable []*ImageData
	for i := range images {
		if images[i].Deliverable {
			deliverable = append(deliverable, &images[i])
		}
	}

	outcomes := make([]BindingOutcome, 0, len(skus))
	for i := range skus {
		outcomes = append(outcomes, bindOne(&skus[i], deliverable, layout, threshold))
	}
	return outcomes
}

func bindOne(sku *SKUCandidate, images []*ImageData, layout domain.LayoutType, threshold float64) BindingOutcome {
	out := BindingOutcome{SKUID: sku.ID}
	if len(images) == 0 {
		return out
	}

	candidates := make([]BindingCandidate, 0, len(images))
	for _, img := range images {
		candidates = append(candidates, scorePair(sku, img, layout, threshold))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) >= 2 && candidates[0].Confidence-candidates[1].Confidence < ambiguityGap {
		out.IsAmbiguous = true
		n := len(candidates)
		if n > maxAmbiguousCandidates {
			n = maxAmbiguousCandidates
		}
		out.Candidates = candidates[:n]
		return out
	}

	best := candidates[0]
	out.ImageID = best.ImageID
	out.Confidence = best.Confidence
	out.Method = best.Method
	return out
}

func scorePair(sku *SKUCandidate, img *ImageData, layout domain.LayoutType, threshold float64) BindingCandidate {
	method := domain.BindSpatialProximity
	if layout == domain.LayoutGrid {
		method = domain.BindGridAlignment
	}

	if img.BBox.IsZero() {
		// No placement for the image: same-page inheritance only.
		return BindingCandidate{
			ImageID:    img.ImageID,
			Confidence: blindConfidence,
			Method:     domain.BindPageInheritance,
		}
	}

	dx := sku.BBox.CenterX() - img.BBox.CenterX()
	dy := sku.BBox.CenterY() - img.BBox.CenterY()
	dist := math.Hypot(dx, dy)
	conf := math.Max(bindingFloor, 1-dist/threshold)
	return BindingCandidate{
		ImageID:    img.ImageID,
		Confidence: round3(conf),
		Method:     method,
	}
}
