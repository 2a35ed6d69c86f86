package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/haoran/skuflow/internal/logger"
)

// ParseResult is the outcome of response parsing, tagged with the
// fallback level that succeeded (1=direct, 2=code block, 3=regex, 4=raw).
type ParseResult struct {
	Success    bool
	Data       json.RawMessage
	RawText    string
	ParseLevel int
	Err        string
}

var (
	codeBlockJSONRe = regexp.MustCompile("(?s)```json\\s*\n?(.*?)\n?\\s*```")
	codeBlockRe     = regexp.MustCompile("(?s)```\\s*\n?(.*?)\n?\\s*```")
	jsonArrayRe     = regexp.MustCompile(`(?s)\[.*\]`)
	jsonObjectRe    = regexp.MustCompile(`(?s)\{.*\}`)
)

// Parse extracts structured JSON from an LLM response using a four-level
// fallback: direct parse, markdown code block, regex extraction, raw text.
// Parameters:
//   - text: raw LLM response.
//   - expectedType: "array", "object", or "auto".
// Returns:
//   - ParseResult: parse outcome; Success=false at level 4 leaves RawText
//     for the caller to handle.
func Parse(text, expectedType string) ParseResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ParseResult{RawText: text, Err: "empty_response"}
	}

	// Level 1: direct JSON parse
	if raw, ok := tryJSON(trimmed); ok {
		return ParseResult{Success: true, Data: raw, RawText: text, ParseLevel: 1}
	}

	// Level 2: markdown code block
	for _, re := range []*regexp.Regexp{codeBlockJSONRe, codeBlockRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if raw, ok := tryJSON(strings.TrimSpace(m[1])); ok {
				return ParseResult{Success: true, Data: raw, RawText: text, ParseLevel: 2}
			}
		}
	}

	// Level 3: regex extraction of the outermost array/object
	if expectedType == "array" || expectedType == "auto" {
		if m := jsonArrayRe.FindString(text); m != "" {
			if raw, ok := tryJSON(m); ok {
				return ParseResult{Success: true, Data: raw, RawText: text, ParseLevel: 3}
			}
		}
	}
	if expectedType == "object" || expectedType == "auto" {
		if m := jsonObjectRe.FindString(text); m != "" {
			if raw, ok := tryJSON(m); ok {
				return ParseResult{Success: true, Data: raw, RawText: text, ParseLevel: 3}
			}
		}
	}

	// Level 4: raw text fallback
	return ParseResult{RawText: text, ParseLevel: 4, Err: "all_parse_methods_failed"}
}

func tryJSON(s string) (json.RawMessage, bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return json.RawMessage(s), true
	}
	return nil, false
}

// PageScore is one page's per-dimension quality scores from the LLM.
type PageScore struct {
	PageNo     int                `json:"page_no"`
	Overall    float64            `json:"overall"`
	Dimensions map[string]float64 `json:"dimensions"`
}

type rawScore struct {
	Overall         *float64 `json:"overall"`
	TextClarity     *float64 `json:"text_clarity"`
	ImageQuality    *float64 `json:"image_quality"`
	LayoutStructure *float64 `json:"layout_structure"`
	TableRegularity *float64 `json:"table_regularity"`
	SKUDensity      *float64 `json:"sku_density"`
}

// ParseEvalScores parses an evaluate-document response into page scores.
// Pages that cannot be parsed get a neutral 0.5 on every dimension.
// Parameters:
//   - ctx: context carrying the request-scoped logger.
//   - text: raw LLM response.
//   - samplePages: page numbers the scores correspond to, in order.
// Returns:
//   - []PageScore: one score per parsed entry.
func ParseEvalScores(ctx context.Context, text string, samplePages []int) []PageScore {
	res := Parse(text, "array")
	var rows []rawScore
	if res.Success {
		if err := json.Unmarshal(res.Data, &rows); err != nil {
			// A single-page response may be an object.
			var one rawScore
			if err := json.Unmarshal(res.Data, &one); err == nil {
				rows = []rawScore{one}
			}
		}
	} else {
		obj := Parse(text, "object")
		if obj.Success {
			var one rawScore
			if err := json.Unmarshal(obj.Data, &one); err == nil {
				rows = []rawScore{one}
			}
		}
	}
	if len(rows) == 0 {
		logger.CtxError(ctx, "eval score parse failed, preview=%q", preview(text))
		return nil
	}

	scores := make([]PageScore, 0, len(rows))
	for i, row := range rows {
		pageNo := i + 1
		if i < len(samplePages) {
			pageNo = samplePages[i]
		}
		dims := map[string]float64{
			"text_clarity":     orNeutral(row.TextClarity),
			"image_quality":    orNeutral(row.ImageQuality),
			"layout_structure": orNeutral(row.LayoutStructure),
			"table_regularity": orNeutral(row.TableRegularity),
			"sku_density":      orNeutral(row.SKUDensity),
		}
		scores = append(scores, PageScore{
			PageNo:     pageNo,
			Overall:    orNeutral(row.Overall),
			Dimensions: dims,
		})
	}
	return scores
}

func orNeutral(v *float64) float64 {
	if v == nil {
		return 0.5
	}
	return *v
}

func preview(text string) string {
	if len(text) > 200 {
		return text[:200]
	}
	return text
}
