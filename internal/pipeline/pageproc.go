package pipeline

import (
	"context"
	"fmt"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
)

const (
	// maxLLMCallsPerPage caps vision calls for one page attempt across
	// classification and every extraction tier.
	maxLLMCallsPerPage = 6

	// skipConfidenceFloor lets confidently non-product pages bypass
	// extraction entirely.
	skipConfidenceFloor = 0.85

	// reviewConfidenceFloor routes low-confidence pages to review.
	reviewConfidenceFloor = 0.6
)

// PageProcessor runs the full per-page phase chain: parse, image
// triage, cross-page merge, feature extraction, classification,
// extraction, ID assignment, image binding, validation.
type PageProcessor struct {
	parser     *Parser
	classifier *Classifier
	extractor  *Extractor
	merger     *CrossPageMerger
	validity   domain.ValidityMode
}

// NewPageProcessor wires the phase chain.
func NewPageProcessor(parser *Parser, classifier *Classifier, extractor *Extractor, merger *CrossPageMerger, validity domain.ValidityMode) *PageProcessor {
	return &PageProcessor{
		parser:     parser,
		classifier: classifier,
		extractor:  extractor,
		merger:     merger,
		validity:   validity,
	}
}

// Process runs one page attempt. It never panics outward; the
// orchestrator isolates panics per page above this call.
// Parameters:
//   - ctx: request context carrying job and page identifiers.
//   - job: owning job.
//   - pageNo: 1-indexed page number.
//   - seenHashes: job-scoped image dedup state.
// Returns:
//   - *ProcessedPage: attempt outcome; Status is BLANK, SKIPPED,
//     AI_COMPLETED or AI_FAILED.
func (p *PageProcessor) Process(ctx context.Context, job *domain.PDFJob, pageNo int, seenHashes *HashSet) *ProcessedPage {
	ctx = logger.SetPageNo(ctx, pageNo)
	out := &ProcessedPage{Status: domain.PageAIFailed}

	// Phase 1: parse.
	parsed, err := p.parser.ExtractPage(ctx, job.StorageKey, pageNo)
	if err != nil {
		out.Err = fmt.Sprintf("parse: %v", err)
		logger.CtxError(ctx, "page parse failed: %v", err)
		return out
	}
	logger.CtxDebug(ctx, "parsed page: backend=%s blocks=%d tables=%d images=%d",
		parsed.Backend, len(parsed.TextBlocks), len(parsed.Tables), len(parsed.Images))

	// Phase 2: image triage.
	TriageImages(parsed, seenHashes)

	// Phase 3: cross-page table continuation.
	if p.merger != nil {
		if p.merger.MergeContinuation(job.ID, parsed) {
			logger.CtxInfo(ctx, "merged table continuation from page %d", pageNo-1)
		}
		p.merger.RecordTail(job.ID, pageNo, parsed)
	}

	// Phase 4: structural features.
	features := ExtractFeatures(parsed)

	if isBlankPage(parsed) {
		out.Status = domain.PageBlank
		out.PageType = domain.PageTypeD
		return out
	}

	pageImage := largestImage(parsed)
	budget := maxLLMCallsPerPage

	// Phase 5: classification.
	classify, calls := p.classifier.Classify(ctx, parsed, features, pageImage)
	budget -= calls
	out.LLMCalls += calls
	out.PageType = classify.PageType
	out.Layout = classify.Layout
	out.ClassifierConf = classify.Confidence
	out.ClassifiedByRule = classify.ByRule

	if classify.PageType == domain.PageTypeD && classify.Confidence >= skipConfidenceFloor {
		out.Status = domain.PageSkipped
		return out
	}

	// Phase 6: extraction.
	skus, tier, calls := p.extractor.Extract(ctx, parsed, classify, pageImage, budget)
	out.LLMCalls += calls
	out.ExtractTier = tier
	out.FellBack = tier == "empty" && calls > 0
	for i := range skus {
		if skus[i].Method == "rule" {
			out.FellBack = true
			break
		}
	}

	skus = EnforceValidity(skus, p.validity)

	// Phase 7: stable IDs in reading order.
	AssignSKUIDs(job.FileHash, pageNo, parsed.PageHeight, skus)

	// Phase 8: image binding.
	bindings := BindImages(skus, parsed.Images, classify.Layout)

	// Phase 9: consistency validation.
	validation := ValidatePage(classify.PageType, skus, bindings)

	out.SKUs = skus
	out.Images = parsed.Images
	out.Bindings = bindings
	out.Validation = validation
	out.Status = domain.PageAICompleted
	out.NeedsReview = needsReview(out)

	logger.CtxInfo(ctx, "page processed: type=%s tier=%s skus=%d llm_calls=%d review=%v",
		out.PageType, tier, len(skus), out.LLMCalls, out.NeedsReview)
	return out
}

// needsReview routes pages a human should look at: hard validation
// errors, an unsure classifier, or a product page that yielded nothing.
func needsReview(out *ProcessedPage) bool {
	if out.Validation.HasErrors {
		return true
	}
	if out.ClassifierConf < reviewConfidenceFloor {
		return true
	}
	if len(out.SKUs) == 0 && out.PageType != domain.PageTypeD {
		return true
	}
	return false
}

func largestImage(page *ParsedPage) []byte {
	var best []byte
	var bestSize int
	for _, img := range page.Images {
		if size := img.Width * img.Height; size > bestSize {
			best, bestSize = img.Data, size
		}
	}
	return best
}
