package gateway

import (
	"context"
	"math"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/pipeline"
)

// Prescan thresholds and penalties. A page with fewer than
// blankMinChars of text and no images counts as blank; the penalties
// feed the evaluator's document confidence.
const (
	blankMinChars = 10

	highBlankRate        = 0.5
	highBlankRatePenalty = 0.15

	lowOCRRate        = 0.3
	lowOCRRatePenalty = 0.20

	lowImageRatio        = 0.1
	lowImageRatioPenalty = 0.10
)

// Prescanner runs the cheap structural scan at upload time. Its output
// lives on the job so requeued jobs are not rescanned.
type Prescanner struct {
	parser *pipeline.Parser
}

// NewPrescanner creates a prescanner over the shared parser.
func NewPrescanner(parser *pipeline.Parser) *Prescanner {
	return &Prescanner{parser: parser}
}

// Scan collects per-page signals and aggregates them into the prescan
// result.
func (s *Prescanner) Scan(ctx context.Context, path string) (*domain.PrescanResult, error) {
	stats, err := s.parser.ScanPages(ctx, path)
	if err != nil {
		return nil, err
	}

	result := &domain.PrescanResult{
		PageFeatures: make(map[int]domain.PageFeature, len(stats)),
	}
	blank, withText, withImages := 0, 0, 0
	for _, stat := range stats {
		hasText := stat.TextChars >= blankMinChars
		if hasText {
			withText++
		}
		if stat.ImageCount > 0 {
			withImages++
		}
		if !hasText && stat.ImageCount == 0 {
			blank++
		}
		result.PageFeatures[stat.PageNo] = domain.PageFeature{
			ImageCount: stat.ImageCount,
			OCRRate:    boolRate(hasText),
			TextHint:   stat.TextHint,
		}
	}

	total := math.Max(1, float64(len(stats)))
	result.BlankRate = round4(float64(blank) / total)
	result.OCRRate = round4(float64(withText) / total)
	result.ImageRatio = round4(float64(withImages) / total)
	result.AllBlank = blank == len(stats) && len(stats) > 0
	result.TotalPenalty = penaltyFor(result)

	logger.CtxInfo(ctx, "prescan: pages=%d blank_rate=%.2f ocr_rate=%.2f image_ratio=%.2f penalty=%.2f",
		len(stats), result.BlankRate, result.OCRRate, result.ImageRatio, result.TotalPenalty)
	return result, nil
}

// penaltyFor applies the structural penalty rules. Each rule fires at
// most once; the penalties stack.
func penaltyFor(r *domain.PrescanResult) float64 {
	penalty := 0.0
	if r.BlankRate > highBlankRate {
		penalty += highBlankRatePenalty
	}
	if r.OCRRate < lowOCRRate {
		penalty += lowOCRRatePenalty
	}
	if r.ImageRatio < lowImageRatio {
		penalty += lowImageRatioPenalty
	}
	return round4(penalty)
}

func boolRate(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
