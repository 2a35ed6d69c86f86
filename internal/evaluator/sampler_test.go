package evaluator

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestSelectPagesFullCoverage(t *testing.T) {
	s := newSeededSampler(1)

	pages := s.SelectPages(10, []int{3, 7}, nil, 40)
	if len(pages) != 8 {
		t.Fatalf("expected 8 pages, got %d: %v", len(pages), pages)
	}
	for _, p := range pages {
		if p == 3 || p == 7 {
			t.Errorf("blank page %d should be excluded", p)
		}
	}
}

func TestSelectPagesEmptyDocument(t *testing.T) {
	s := newSeededSampler(1)

	if pages := s.SelectPages(0, nil, nil, 40); pages != nil {
		t.Errorf("expected nil for empty document, got %v", pages)
	}
	if pages := s.SelectPages(3, []int{1, 2, 3}, nil, 40); pages != nil {
		t.Errorf("expected nil for all-blank document, got %v", pages)
	}
}

func TestSelectPagesLargeDocument(t *testing.T) {
	s := newSeededSampler(42)

	features := make(map[int]domain.PageFeature, 100)
	for p := 1; p <= 100; p++ {
		switch {
		case p%10 == 0:
			features[p] = domain.PageFeature{ImageCount: 8, OCRRate: 0.3}
		case p%3 == 0:
			features[p] = domain.PageFeature{ImageCount: 3, OCRRate: 0.7}
		default:
			features[p] = domain.PageFeature{ImageCount: 1, OCRRate: 0.95}
		}
	}

	pages := s.SelectPages(100, nil, features, 40)
	if len(pages) == 0 || len(pages) > 40 {
		t.Fatalf("expected 1..40 pages, got %d", len(pages))
	}

	selected := make(map[int]bool, len(pages))
	for _, p := range pages {
		selected[p] = true
	}
	for _, must := range []int{1, 2, 99, 100} {
		if !selected[must] {
			t.Errorf("head/tail page %d must always be sampled, got %v", must, pages)
		}
	}
	for i := 1; i < len(pages); i++ {
		if pages[i] <= pages[i-1] {
			t.Fatalf("pages not sorted ascending: %v", pages)
		}
	}
}

func TestSelectPagesBudgetKeepsHeadTail(t *testing.T) {
	// A tight budget with many high-complexity pages forces the bucket
	// draws to overshoot; the overflow eviction must spare head/tail.
	s := newSeededSampler(11)

	features := make(map[int]domain.PageFeature, 60)
	for p := 1; p <= 60; p++ {
		features[p] = domain.PageFeature{ImageCount: 8, OCRRate: 0.2}
	}
	pages := s.SelectPages(60, nil, features, 10)
	if len(pages) > 10 {
		t.Fatalf("sample exceeds budget: %d pages %v", len(pages), pages)
	}
	selected := make(map[int]bool, len(pages))
	for _, p := range pages {
		selected[p] = true
	}
	for _, must := range []int{1, 2, 59, 60} {
		if !selected[must] {
			t.Errorf("head/tail page %d must survive overflow eviction, got %v", must, pages)
		}
	}
}

func TestSelectPagesFiltersTOC(t *testing.T) {
	s := newSeededSampler(7)

	features := map[int]domain.PageFeature{
		2: {ImageCount: 0, TextHint: "Table of Contents ......"},
		3: {ImageCount: 0, TextHint: "目录 第一章"},
		4: {ImageCount: 2, TextHint: "contents of box"},
	}
	pages := s.SelectPages(6, nil, features, 40)
	for _, p := range pages {
		if p == 2 || p == 3 {
			t.Errorf("TOC page %d should be filtered, got %v", p, pages)
		}
	}
	found := false
	for _, p := range pages {
		if p == 4 {
			found = true
		}
	}
	if !found {
		t.Errorf("page 4 has images and must not be treated as TOC: %v", pages)
	}
}

func TestSelectPagesNoFeaturesFallback(t *testing.T) {
	s := newSeededSampler(5)

	pages := s.SelectPages(200, nil, nil, 40)
	if len(pages) == 0 || len(pages) > 40 {
		t.Fatalf("expected 1..40 pages, got %d", len(pages))
	}
	selected := make(map[int]bool, len(pages))
	for _, p := range pages {
		selected[p] = true
	}
	for _, must := range []int{1, 2, 199, 200} {
		if !selected[must] {
			t.Errorf("head/tail page %d missing from fallback sample %v", must, pages)
		}
	}
}
