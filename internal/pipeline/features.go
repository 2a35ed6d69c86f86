package pipeline

import (
	"math"
	"regexp"
)

// Commercial signal patterns. Prices match currency-prefixed amounts and
// amount-plus-currency suffixes; models match catalog part numbers and
// labeled identifiers in both Chinese and English catalogs.
var (
	priceRe = regexp.MustCompile(`[\$¥€£]\s*\d+[.,]?\d*|[\d,]+\.\d{2}\s*(?:元|USD|RMB)`)
	modelRe = regexp.MustCompile(`[A-Z]{1,5}[-\s]?\d{2,10}|(?:型号|Model|SKU|Art\.?\s*No)[.:：\s]*\S+`)

	modelBareRe    = regexp.MustCompile(`[A-Z]{1,5}-?\d{2,10}`)
	modelLabeledRe = regexp.MustCompile(`(?:型号|Model|SKU|Art\.?\s*No)[.:：\s]*(\S+)`)
)

// ExtractFeatures computes the structural fingerprint the classifier's
// rule table operates on.
func ExtractFeatures(page *ParsedPage) FeatureVector {
	area := math.Max(1, page.PageWidth*page.PageHeight)

	var tableArea float64
	for _, t := range page.Tables {
		tableArea += t.BBox.Area()
	}

	var fontSum float64
	var fontN int
	for _, b := range page.TextBlocks {
		if b.FontSize > 0 {
			fontSum += b.FontSize
			fontN++
		}
	}
	avgFont := 0.0
	if fontN > 0 {
		avgFont = fontSum / float64(fontN)
	}

	return FeatureVector{
		TextDensity:     float64(len(page.RawText)) / area,
		TableAreaRatio:  math.Min(1, tableArea/area),
		AvgFontSize:     avgFont,
		HasPricePattern: priceRe.MatchString(page.RawText),
		HasModelPattern: modelRe.MatchString(page.RawText),
		TextBlockCount:  len(page.TextBlocks),
		ImageCount:      len(page.Images),
		TableCount:      len(page.Tables),
	}
}

// FindPrices returns every price-like token on the page.
func FindPrices(text string) []string { return priceRe.FindAllString(text, -1) }

// FindModels returns model-number values with any label prefix
// ("型号:", "Model", …) stripped. Bare part-number tokens win over
// labeled captures so "型号 XK-100" yields "XK-100".
func FindModels(text string) []string {
	if m := modelBareRe.FindAllString(text, -1); len(m) > 0 {
		return m
	}
	var models []string
	for _, m := range modelLabeledRe.FindAllStringSubmatch(text, -1) {
		models = append(models, m[1])
	}
	return models
}
