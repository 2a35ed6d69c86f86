package pipeline

import (
	"context"
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		name     string
		page     *ParsedPage
		features FeatureVector
		wantType domain.PageType
		wantConf float64
	}{
		{
			name:     "table dominant page",
			page:     &ParsedPage{RawText: "型号 规格 价格 单位 说明文字若干"},
			features: FeatureVector{TableCount: 2, TableAreaRatio: 0.5},
			wantType: domain.PageTypeA,
			wantConf: 0.88,
		},
		{
			name:     "blank page",
			page:     &ParsedPage{RawText: "  \n "},
			wantType: domain.PageTypeD,
			wantConf: 0.95,
		},
		{
			name:     "table of contents",
			page:     &ParsedPage{RawText: "目录\n第一章 产品介绍 ......... 3"},
			features: FeatureVector{TextBlockCount: 10},
			wantType: domain.PageTypeD,
			wantConf: 0.90,
		},
		{
			name:     "image grid",
			page:     &ParsedPage{RawText: "系列产品展示", Images: make([]ImageData, 4)},
			features: FeatureVector{ImageCount: 4, TextBlockCount: 2},
			wantType: domain.PageTypeC,
			wantConf: 0.80,
		},
		{
			name:     "mixed page with prices",
			page:     &ParsedPage{RawText: "豪华办公椅 XK-2000 ¥ 1299"},
			features: FeatureVector{HasPricePattern: true, TextBlockCount: 8},
			wantType: domain.PageTypeB,
			wantConf: 0.70,
		},
		{
			name:     "uncertain page stays low confidence",
			page:     &ParsedPage{RawText: "一段没有任何商业信号的说明文字，讲述品牌的历史与愿景。"},
			features: FeatureVector{TextBlockCount: 6},
			wantType: domain.PageTypeB,
			wantConf: 0.40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyByRules(tt.page, tt.features)
			if got.PageType != tt.wantType {
				t.Errorf("page type = %s, want %s", got.PageType, tt.wantType)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if !got.ByRule {
				t.Error("rule classification must be marked ByRule")
			}
		})
	}
}

func TestClassifyTOCWithImagesIsNotTOC(t *testing.T) {
	page := &ParsedPage{RawText: "目录页上却有产品图片", Images: make([]ImageData, 1)}
	features := FeatureVector{ImageCount: 1, TextBlockCount: 3}
	got := classifyByRules(page, features)
	if got.PageType == domain.PageTypeD && got.Confidence >= 0.9 {
		t.Error("a page with images must not be skipped as a table of contents")
	}
}

func TestClassifyShortCircuitSkipsLLM(t *testing.T) {
	c := NewClassifier(nil)
	page := &ParsedPage{RawText: "型号表格"}
	features := FeatureVector{TableCount: 1, TableAreaRatio: 0.6}

	got, calls := c.Classify(context.Background(), page, features, nil)
	if calls != 0 {
		t.Errorf("confident rule verdict made %d LLM calls", calls)
	}
	if got.PageType != domain.PageTypeA {
		t.Errorf("page type = %s, want A", got.PageType)
	}
}
