package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/llm"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/prompts"
)

const (
	// twoStageInvalidCeiling rejects a two-stage result when too many
	// extracted records came back without a product name.
	twoStageInvalidCeiling = 0.3

	// boundaryGap splits text blocks into product regions: a vertical
	// gap wider than this starts a new region.
	boundaryGap = 30.0

	tableRuleConfidence = 0.85
	ruleConfidence      = 0.60

	extractMaxTokens = 2000
)

// Extractor pulls SKU candidates from a classified page through a
// tier chain: rule-based table parsing, two-stage LLM extraction,
// single-stage LLM extraction, empty.
type Extractor struct {
	llm llm.Completer
}

// NewExtractor creates an extractor over the given completer.
func NewExtractor(completer llm.Completer) *Extractor {
	return &Extractor{llm: completer}
}

// Extract runs the tier chain.
// Parameters:
//   - ctx: request context.
//   - page: parsed page.
//   - classify: page verdict from the classifier.
//   - pageImage: best-effort page visual, may be nil.
//   - remainingCalls: LLM calls still available for this page.
// Returns:
//   - []SKUCandidate: extracted candidates, possibly empty.
//   - string: tier that produced the result.
//   - int: LLM calls consumed.
func (e *Extractor) Extract(ctx context.Context, page *ParsedPage, classify ClassifyResult, pageImage []byte, remainingCalls int) ([]SKUCandidate, string, int) {
	// Tier 1: deterministic table parsing for table-dominant pages.
	if classify.PageType == domain.PageTypeA && len(page.Tables) > 0 {
		if skus := extractFromTables(page); len(skus) > 0 {
			return skus, "table_rule", 0
		}
	}

	canLLM := e.llm != nil && pageImage != nil

	// Tier 2: two-stage extraction needs budget for both stages.
	if canLLM && remainingCalls >= 2 {
		skus, calls, err := e.twoStage(ctx, page, pageImage)
		if err == nil && acceptTwoStage(skus) {
			return skus, "two_stage", calls
		}
		remainingCalls -= calls
		if err != nil {
			logger.CtxWarn(ctx, "two-stage extraction failed: page=%d: %v", page.PageNo, err)
		} else {
			logger.CtxInfo(ctx, "two-stage result rejected (invalid ratio too high): page=%d", page.PageNo)
		}
		if remainingCalls >= 1 {
			if skus, err := e.singleStage(ctx, page, pageImage); err == nil && len(skus) > 0 {
				return skus, "single_stage", calls + 1
			}
			calls++
		}
		// LLM path exhausted, fall back to text rules.
		if skus := extractByRules(page); len(skus) > 0 {
			return skus, "single_stage_rule", calls
		}
		return nil, "empty", calls
	}

	if canLLM && remainingCalls >= 1 {
		if skus, err := e.singleStage(ctx, page, pageImage); err == nil && len(skus) > 0 {
			return skus, "single_stage", 1
		}
		if skus := extractByRules(page); len(skus) > 0 {
			return skus, "single_stage_rule", 1
		}
		return nil, "empty", 1
	}

	if skus := extractByRules(page); len(skus) > 0 {
		return skus, "two_stage_rule", 0
	}
	return nil, "empty", 0
}

// rawSKU is the wire shape both LLM extraction prompts produce.
type rawSKU struct {
	Index       int                    `json:"index"`
	ProductName string                 `json:"product_name"`
	ModelNumber string                 `json:"model_number"`
	Price       string                 `json:"price"`
	Unit        string                 `json:"unit"`
	Confidence  float64                `json:"confidence"`
	X           float64                `json:"x"`
	Y           float64                `json:"y"`
	Attributes  map[string]interface{} `json:"attributes"`
}

func (e *Extractor) twoStage(ctx context.Context, page *ParsedPage, pageImage []byte) ([]SKUCandidate, int, error) {
	calls := 0

	resp, err := e.llm.Complete(ctx, &llm.CompletionRequest{
		Operation: "extract_boundaries",
		System:    prompts.ExtractSystemPrompt,
		Prompt:    prompts.ExtractBoundariesPrompt,
		Images:    [][]byte{pageImage},
		Format:    "png",
		JSONMode:  true,
		MaxTokens: extractMaxTokens,
	})
	calls++
	if err != nil {
		return nil, calls, err
	}
	parsed := llm.Parse(resp.Text, "array")
	if !parsed.Success {
		return nil, calls, fmt.Errorf("boundary response unparseable")
	}
	var boundaries []struct {
		Index int     `json:"index"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Hint  string  `json:"hint"`
	}
	if err := json.Unmarshal(parsed.Data, &boundaries); err != nil {
		return nil, calls, err
	}
	if len(boundaries) == 0 {
		return nil, calls, nil
	}

	var hints strings.Builder
	for _, b := range boundaries {
		fmt.Fprintf(&hints, "- 区块 %d @ (%.2f, %.2f): %s\n", b.Index, b.X, b.Y, b.Hint)
	}
	resp, err = e.llm.Complete(ctx, &llm.CompletionRequest{
		Operation: "extract_attributes",
		System:    prompts.ExtractSystemPrompt,
		Prompt:    prompts.ExtractAttributesPrompt + "\n已识别区块：\n" + hints.String(),
		Images:    [][]byte{pageImage},
		Format:    "png",
		JSONMode:  true,
		MaxTokens: extractMaxTokens,
	})
	calls++
	if err != nil {
		return nil, calls, err
	}
	skus, err := parseSKUArray(resp.Text, page, "two_stage")
	return skus, calls, err
}

func (e *Extractor) singleStage(ctx context.Context, page *ParsedPage, pageImage []byte) ([]SKUCandidate, error) {
	resp, err := e.llm.Complete(ctx, &llm.CompletionRequest{
		Operation: "extract_single",
		System:    prompts.ExtractSystemPrompt,
		Prompt:    prompts.ExtractSinglePrompt,
		Images:    [][]byte{pageImage},
		Format:    "png",
		JSONMode:  true,
		MaxTokens: extractMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parseSKUArray(resp.Text, page, "single_stage")
}

func parseSKUArray(text string, page *ParsedPage, method string) ([]SKUCandidate, error) {
	parsed := llm.Parse(text, "array")
	if !parsed.Success {
		return nil, fmt.Errorf("extraction response unparseable")
	}
	var raws []rawSKU
	if err := json.Unmarshal(parsed.Data, &raws); err != nil {
		return nil, err
	}

	skus := make([]SKUCandidate, 0, len(raws))
	for _, r := range raws {
		attrs := r.Attributes
		if attrs == nil {
			attrs = make(map[string]interface{})
		}
		attrs["product_name"] = strings.TrimSpace(r.ProductName)
		if r.ModelNumber != "" {
			attrs["model_number"] = strings.TrimSpace(r.ModelNumber)
		}
		if r.Price != "" {
			attrs["price"] = strings.TrimSpace(r.Price)
		}
		if r.Unit != "" {
			attrs["unit"] = strings.TrimSpace(r.Unit)
		}
		sku := SKUCandidate{
			Attributes: attrs,
			BBox:       CenterBox(clamp01(r.X), clamp01(r.Y), page.PageWidth, page.PageHeight),
			Confidence: clamp01(r.Confidence),
			Method:     method,
		}
		sku.Validity = validityOf(&sku)
		skus = append(skus, sku)
	}
	return skus, nil
}

// acceptTwoStage gates on the invalid ratio: a mostly-invalid result
// means the boundary pass hallucinated and a retry tier should run.
func acceptTwoStage(skus []SKUCandidate) bool {
	if len(skus) == 0 {
		return false
	}
	invalid := 0
	for i := range skus {
		if skus[i].Validity == domain.ValidityInvalid {
			invalid++
		}
	}
	return float64(invalid)/float64(len(skus)) <= twoStageInvalidCeiling
}

// validityOf applies the single strict rule: a record without a product
// name is invalid.
func validityOf(s *SKUCandidate) domain.SKUValidity {
	if s.Attr("product_name") == "" {
		return domain.ValidityInvalid
	}
	return domain.ValidityValid
}

// ----------------------------------------------------------------------------
// Rule-based extraction
// ----------------------------------------------------------------------------

// headerAliases maps table header cells to canonical attribute names.
var headerAliases = map[string]string{
	"型号": "model_number", "model": "model_number", "sku": "model_number",
	"货号": "model_number", "art. no": "model_number",
	"名称": "product_name", "品名": "product_name", "产品名称": "product_name",
	"name": "product_name", "product": "product_name", "description": "product_name",
	"价格": "price", "单价": "price", "price": "price",
	"单位": "unit", "unit": "unit",
	"规格": "spec", "spec": "spec", "尺寸": "spec",
}

// extractFromTables turns detected tables into SKU rows using header
// keyword mapping.
func extractFromTables(page *ParsedPage) []SKUCandidate {
	var skus []SKUCandidate
	for _, table := range page.Tables {
		if len(table.Rows) < 2 {
			continue
		}
		cols := mapHeader(table.HeaderRow)
		if _, ok := cols["product_name"]; !ok {
			if _, ok := cols["model_number"]; !ok {
				continue
			}
		}
		rowH := table.BBox.Height() / float64(len(table.Rows))
		for ri, row := range table.Rows[1:] {
			attrs := make(map[string]interface{})
			for name, ci := range cols {
				if ci < len(row) && strings.TrimSpace(row[ci]) != "" {
					attrs[name] = strings.TrimSpace(row[ci])
				}
			}
			if len(attrs) == 0 {
				continue
			}
			if _, ok := attrs["product_name"]; !ok {
				// Model-only tables still yield records named by model.
				attrs["product_name"] = attrs["model_number"]
			}
			y := table.BBox[1] + rowH*float64(ri+1)
			sku := SKUCandidate{
				Attributes: attrs,
				BBox:       BBox{table.BBox[0], y, table.BBox[2], y + rowH},
				Confidence: tableRuleConfidence,
				Method:     "table_rule",
			}
			sku.Validity = validityOf(&sku)
			skus = append(skus, sku)
		}
	}
	return skus
}

func mapHeader(header []string) map[string]int {
	cols := make(map[string]int)
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		for alias, name := range headerAliases {
			if strings.Contains(key, alias) {
				if _, taken := cols[name]; !taken {
					cols[name] = i
				}
				break
			}
		}
	}
	return cols
}

// extractByRules groups text blocks into product regions at wide
// vertical gaps and mines each region with the commercial patterns.
// It is the no-LLM fallback and deliberately conservative: regions
// without a model or price signal yield nothing.
func extractByRules(page *ParsedPage) []SKUCandidate {
	if len(page.TextBlocks) == 0 {
		return nil
	}

	var regions [][]TextBlock
	var cur []TextBlock
	var prevBottom float64
	for _, b := range page.TextBlocks {
		if len(cur) > 0 && b.BBox[1]-prevBottom > boundaryGap {
			regions = append(regions, cur)
			cur = nil
		}
		cur = append(cur, b)
		if b.BBox[3] > prevBottom {
			prevBottom = b.BBox[3]
		}
	}
	if len(cur) > 0 {
		regions = append(regions, cur)
	}

	var skus []SKUCandidate
	for _, region := range regions {
		var text strings.Builder
		bbox := region[0].BBox
		for _, b := range region {
			text.WriteString(b.Content)
			text.WriteByte('\n')
			bbox[0] = min64(bbox[0], b.BBox[0])
			bbox[1] = min64(bbox[1], b.BBox[1])
			bbox[2] = max64(bbox[2], b.BBox[2])
			bbox[3] = max64(bbox[3], b.BBox[3])
		}
		models := FindModels(text.String())
		prices := FindPrices(text.String())
		if len(models) == 0 && len(prices) == 0 {
			continue
		}
		attrs := map[string]interface{}{
			"product_name": firstLine(text.String()),
		}
		if len(models) > 0 {
			attrs["model_number"] = strings.TrimSpace(models[0])
		}
		if len(prices) > 0 {
			attrs["price"] = strings.TrimSpace(prices[0])
		}
		sku := SKUCandidate{
			Attributes: attrs,
			BBox:       bbox,
			Confidence: ruleConfidence,
			Method:     "rule",
		}
		sku.Validity = validityOf(&sku)
		skus = append(skus, sku)
	}
	return skus
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
