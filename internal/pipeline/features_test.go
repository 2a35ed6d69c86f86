package pipeline

import "testing"

func TestPricePattern(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"¥ 1299", true},
		{"$49.99", true},
		{"€15", true},
		{"1,299.00 元", true},
		{"128.50 USD", true},
		{"型号 XK-200", false},
		{"普通说明文字", false},
	}
	for _, tt := range tests {
		if got := priceRe.MatchString(tt.text); got != tt.want {
			t.Errorf("priceRe(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestModelPattern(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"XK-200", true},
		{"AB 1234", true},
		{"型号: 见附录", true},
		{"Model No. T500", true},
		{"SKU: abc-1", true},
		{"Art. No 7788", true},
		{"没有编号的描述", false},
	}
	for _, tt := range tests {
		if got := modelRe.MatchString(tt.text); got != tt.want {
			t.Errorf("modelRe(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractFeatures(t *testing.T) {
	page := &ParsedPage{
		RawText:    "豪华办公椅 XK-2000 ¥1299",
		PageWidth:  595,
		PageHeight: 842,
		TextBlocks: []TextBlock{
			{Content: "豪华办公椅", FontSize: 14},
			{Content: "XK-2000 ¥1299", FontSize: 10},
		},
		Tables: []TableData{{BBox: BBox{0, 0, 595, 421}}},
		Images: make([]ImageData, 2),
	}

	f := ExtractFeatures(page)
	if !f.HasPricePattern || !f.HasModelPattern {
		t.Error("price and model signals must both fire")
	}
	if f.TextBlockCount != 2 || f.ImageCount != 2 || f.TableCount != 1 {
		t.Errorf("counts = (%d, %d, %d), want (2, 2, 1)", f.TextBlockCount, f.ImageCount, f.TableCount)
	}
	if f.AvgFontSize != 12 {
		t.Errorf("avg font = %v, want 12", f.AvgFontSize)
	}
	// Half the page is table.
	if f.TableAreaRatio < 0.49 || f.TableAreaRatio > 0.51 {
		t.Errorf("table area ratio = %v, want ~0.5", f.TableAreaRatio)
	}
}

func TestExtractFeaturesEmptyPage(t *testing.T) {
	f := ExtractFeatures(&ParsedPage{PageWidth: 595, PageHeight: 842})
	if f.TextDensity != 0 || f.TableAreaRatio != 0 || f.AvgFontSize != 0 {
		t.Errorf("empty page features must be zero, got %+v", f)
	}
}
