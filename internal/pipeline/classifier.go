package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/llm"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/prompts"
)

// ruleConfidenceFloor short-circuits the LLM when the rule table is
// already confident enough.
const ruleConfidenceFloor = 0.85

const classifyMaxTokens = 300

var tocHints = []string{"目录", "contents", "table of contents", "index", "catalogue"}

// Classifier assigns a page type and layout, rules first, vision LLM
// only when the rules stay uncertain.
type Classifier struct {
	llm llm.Completer
}

// NewClassifier creates a classifier over the given completer.
func NewClassifier(completer llm.Completer) *Classifier {
	return &Classifier{llm: completer}
}

// Classify produces the page verdict.
// Parameters:
//   - ctx: request context.
//   - page: parsed page content.
//   - features: structural fingerprint of the page.
//   - pageImage: best-effort page visual, may be nil.
// Returns:
//   - ClassifyResult: verdict; ByRule=true when no LLM call was made.
//   - int: LLM calls consumed (0 or 1).
func (c *Classifier) Classify(ctx context.Context, page *ParsedPage, features FeatureVector, pageImage []byte) (ClassifyResult, int) {
	rule := classifyByRules(page, features)
	if rule.Confidence >= ruleConfidenceFloor {
		return rule, 0
	}
	if c.llm == nil || pageImage == nil {
		return rule, 0
	}

	resp, err := c.llm.Complete(ctx, &llm.CompletionRequest{
		Operation: "classify_page",
		System:    prompts.ClassifySystemPrompt,
		Prompt:    prompts.ClassifyPagePrompt + "\n页面特征：" + features.PromptContext(),
		Images:    [][]byte{pageImage},
		Format:    "png",
		JSONMode:  true,
		MaxTokens: classifyMaxTokens,
	})
	if err != nil {
		logger.CtxWarn(ctx, "classify LLM call failed, keeping rule verdict: %v", err)
		return rule, 1
	}

	parsed := llm.Parse(resp.Text, "object")
	if !parsed.Success {
		logger.CtxWarn(ctx, "classify response unparseable, keeping rule verdict")
		return rule, 1
	}
	var out struct {
		PageType   string  `json:"page_type"`
		Layout     string  `json:"layout"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(parsed.Data, &out); err != nil {
		return rule, 1
	}

	result := ClassifyResult{
		PageType:   domain.PageType(strings.ToUpper(strings.TrimSpace(out.PageType))),
		Layout:     domain.LayoutType(strings.ToLower(strings.TrimSpace(out.Layout))),
		Confidence: clamp01(out.Confidence),
	}
	if !validPageType(result.PageType) {
		return rule, 1
	}
	if !validLayout(result.Layout) {
		result.Layout = rule.Layout
	}
	return result, 1
}

// classifyByRules is the deterministic fast path. Ordered by strength:
// table dominance, blank, TOC, image grids, commercial text.
func classifyByRules(page *ParsedPage, f FeatureVector) ClassifyResult {
	if isBlankPage(page) {
		return ClassifyResult{PageType: domain.PageTypeD, Layout: domain.LayoutFreeform, Confidence: 0.95, ByRule: true}
	}
	if f.TableCount > 0 && f.TableAreaRatio > 0.3 {
		return ClassifyResult{PageType: domain.PageTypeA, Layout: domain.LayoutTable, Confidence: 0.88, ByRule: true}
	}
	if isTOCText(page.RawText) && f.ImageCount == 0 {
		return ClassifyResult{PageType: domain.PageTypeD, Layout: domain.LayoutList, Confidence: 0.90, ByRule: true}
	}
	if f.ImageCount >= 3 && f.TextBlockCount < 5 {
		return ClassifyResult{PageType: domain.PageTypeC, Layout: domain.LayoutGrid, Confidence: 0.80, ByRule: true}
	}
	if f.HasPricePattern || f.HasModelPattern {
		return ClassifyResult{PageType: domain.PageTypeB, Layout: domain.LayoutFreeform, Confidence: 0.70, ByRule: true}
	}
	return ClassifyResult{PageType: domain.PageTypeB, Layout: domain.LayoutFreeform, Confidence: 0.40, ByRule: true}
}

// isBlankPage marks pages with effectively no content.
func isBlankPage(page *ParsedPage) bool {
	return len(strings.TrimSpace(page.RawText)) < 10 && len(page.Images) == 0
}

func isTOCText(text string) bool {
	head := strings.ToLower(text)
	if len(head) > 300 {
		head = head[:300]
	}
	for _, hint := range tocHints {
		if strings.Contains(head, hint) {
			return true
		}
	}
	return false
}

func validPageType(t domain.PageType) bool {
	switch t {
	case domain.PageTypeA, domain.PageTypeB, domain.PageTypeC, domain.PageTypeD:
		return true
	}
	return false
}

func validLayout(l domain.LayoutType) bool {
	switch l {
	case domain.LayoutGrid, domain.LayoutTable, domain.LayoutList, domain.LayoutFreeform, domain.LayoutSingleProduct:
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
