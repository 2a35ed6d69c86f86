package pipeline

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestExtractFromTables(t *testing.T) {
	page := &ParsedPage{
		PageWidth: 595, PageHeight: 842,
		Tables: []TableData{{
			Rows: [][]string{
				{"型号", "产品名称", "单价", "单位"},
				{"XK-100", "办公椅", "¥299", "把"},
				{"XK-200", "会议桌", "¥1299", "张"},
			},
			BBox:        BBox{50, 100, 545, 400},
			HeaderRow:   []string{"型号", "产品名称", "单价", "单位"},
			ColumnCount: 4,
		}},
	}

	skus := extractFromTables(page)
	if len(skus) != 2 {
		t.Fatalf("extracted %d SKUs, want 2", len(skus))
	}
	first := skus[0]
	if first.Attr("product_name") != "办公椅" {
		t.Errorf("product_name = %q, want 办公椅", first.Attr("product_name"))
	}
	if first.Attr("model_number") != "XK-100" {
		t.Errorf("model_number = %q, want XK-100", first.Attr("model_number"))
	}
	if first.Attr("price") != "¥299" {
		t.Errorf("price = %q, want ¥299", first.Attr("price"))
	}
	if first.Confidence != tableRuleConfidence {
		t.Errorf("confidence = %v, want %v", first.Confidence, tableRuleConfidence)
	}
	if first.Validity != domain.ValidityValid {
		t.Error("named record must be valid")
	}
	// Rows lower in the table carry lower boxes.
	if skus[1].BBox.CenterY() <= first.BBox.CenterY() {
		t.Error("second row must sit below the first")
	}
}

func TestExtractFromTablesModelOnlyHeader(t *testing.T) {
	page := &ParsedPage{
		Tables: []TableData{{
			Rows: [][]string{
				{"型号", "单价"},
				{"XK-100", "¥299"},
			},
			BBox:        BBox{0, 0, 500, 100},
			HeaderRow:   []string{"型号", "单价"},
			ColumnCount: 2,
		}},
	}
	skus := extractFromTables(page)
	if len(skus) != 1 {
		t.Fatalf("extracted %d SKUs, want 1", len(skus))
	}
	if skus[0].Attr("product_name") != "XK-100" {
		t.Error("model-only tables name records by model number")
	}
}

func TestExtractFromTablesUnmappableHeader(t *testing.T) {
	page := &ParsedPage{
		Tables: []TableData{{
			Rows:      [][]string{{"甲", "乙"}, {"1", "2"}},
			HeaderRow: []string{"甲", "乙"},
		}},
	}
	if skus := extractFromTables(page); len(skus) != 0 {
		t.Errorf("unmappable header yielded %d SKUs, want 0", len(skus))
	}
}

func TestExtractByRulesBoundaryGrouping(t *testing.T) {
	page := &ParsedPage{
		PageWidth: 595, PageHeight: 842,
		TextBlocks: []TextBlock{
			{Content: "豪华办公椅", BBox: BBox{50, 100, 300, 115}},
			{Content: "型号 XK-100 价格 ¥299", BBox: BBox{50, 120, 300, 135}},
			// 300pt gap starts a new product region.
			{Content: "会议桌", BBox: BBox{50, 450, 300, 465}},
			{Content: "Model T-500 $1299.00", BBox: BBox{50, 470, 300, 485}},
		},
	}

	skus := extractByRules(page)
	if len(skus) != 2 {
		t.Fatalf("extracted %d SKUs, want 2 regions", len(skus))
	}
	if skus[0].Attr("product_name") != "豪华办公椅" {
		t.Errorf("first region name = %q", skus[0].Attr("product_name"))
	}
	if skus[1].Attr("model_number") != "T-500" {
		t.Errorf("second region model = %q, want T-500", skus[1].Attr("model_number"))
	}
}

func TestExtractByRulesSkipsSignalFreeRegions(t *testing.T) {
	page := &ParsedPage{
		TextBlocks: []TextBlock{
			{Content: "品牌故事：我们始终坚持品质至上", BBox: BBox{50, 100, 500, 120}},
		},
	}
	if skus := extractByRules(page); len(skus) != 0 {
		t.Errorf("region without commercial signals yielded %d SKUs", len(skus))
	}
}

func TestAcceptTwoStage(t *testing.T) {
	valid := namedSKU("a", "椅子", "", 0.9)
	invalid := SKUCandidate{Attributes: map[string]interface{}{}, Validity: domain.ValidityInvalid}

	if acceptTwoStage(nil) {
		t.Error("empty result must be rejected")
	}
	if !acceptTwoStage([]SKUCandidate{valid, valid, valid, invalid}) {
		t.Error("25% invalid is within the ceiling")
	}
	if acceptTwoStage([]SKUCandidate{valid, invalid, invalid}) {
		t.Error("67% invalid must be rejected")
	}
}

func TestParseSKUArray(t *testing.T) {
	page := &ParsedPage{PageWidth: 600, PageHeight: 800}
	text := `[{"product_name":"办公椅","model_number":"XK-100","price":"¥299","confidence":0.85,"x":0.5,"y":0.25}]`

	skus, err := parseSKUArray(text, page, "single_stage")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(skus) != 1 {
		t.Fatalf("parsed %d SKUs, want 1", len(skus))
	}
	s := skus[0]
	if s.Validity != domain.ValidityValid {
		t.Error("named record must be valid")
	}
	if s.BBox.CenterX() != 300 || s.BBox.CenterY() != 200 {
		t.Errorf("center = (%v, %v), want (300, 200)", s.BBox.CenterX(), s.BBox.CenterY())
	}
	if s.Method != "single_stage" {
		t.Errorf("method = %s", s.Method)
	}
}

func TestParseSKUArrayCodeFence(t *testing.T) {
	page := &ParsedPage{PageWidth: 600, PageHeight: 800}
	text := "```json\n[{\"product_name\":\"桌子\",\"confidence\":0.7,\"x\":0.1,\"y\":0.1}]\n```"

	skus, err := parseSKUArray(text, page, "single_stage")
	if err != nil || len(skus) != 1 {
		t.Fatalf("fenced JSON should parse, got %d skus, err=%v", len(skus), err)
	}
}
