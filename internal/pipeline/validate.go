package pipeline

import (
	"fmt"
	"strings"

	"github.com/haoran/skuflow/internal/domain"
)

// lowConfidenceFloor flags individual records likely to need review.
const lowConfidenceFloor = 0.5

// ValidatePage runs the page-level consistency rules over the
// extraction outcome.
func ValidatePage(pageType domain.PageType, skus []SKUCandidate, bindings []BindingOutcome) ValidationResult {
	var result ValidationResult

	add := func(rule string, sev IssueSeverity, msg string) {
		result.Issues = append(result.Issues, ValidationIssue{Rule: rule, Severity: sev, Message: msg})
		switch sev {
		case SeverityError:
			result.HasErrors = true
		case SeverityWarning:
			result.HasWarnings = true
		}
	}

	if len(skus) == 0 {
		// Decorative pages legitimately carry no products.
		if pageType != domain.PageTypeD {
			add("no_skus_found", SeverityError, "product page yielded no SKU records")
		}
		return result
	}

	// Table-dominant pages legitimately ship without images.
	if pageType != domain.PageTypeA {
		bound := make(map[string]bool, len(bindings))
		for _, b := range bindings {
			if b.ImageID != "" {
				bound[b.SKUID] = true
			}
		}
		for i := range skus {
			if !bound[skus[i].ID] {
				add("sku_without_image", SeverityWarning,
					fmt.Sprintf("SKU %s has no bound image", skus[i].ID))
			}
		}
	}

	seen := make(map[string][]string)
	for i := range skus {
		if m := strings.ToLower(skus[i].Attr("model_number")); m != "" {
			seen[m] = append(seen[m], skus[i].ID)
		}
	}
	for model, ids := range seen {
		if len(ids) > 1 {
			add("duplicate_model", SeverityWarning,
				fmt.Sprintf("model %q appears on %d records", model, len(ids)))
		}
	}

	for i := range skus {
		if skus[i].Confidence < lowConfidenceFloor {
			add("low_confidence", SeverityWarning,
				fmt.Sprintf("SKU %s confidence %.2f below %.2f", skus[i].ID, skus[i].Confidence, lowConfidenceFloor))
		}
	}
	return result
}

// EnforceValidity applies the validity policy. Strict mode drops
// invalid records; lenient mode keeps them marked. The function is
// idempotent: running it on its own output changes nothing.
func EnforceValidity(skus []SKUCandidate, mode domain.ValidityMode) []SKUCandidate {
	for i := range skus {
		skus[i].Validity = validityOf(&skus[i])
	}
	if mode != domain.ValidityStrict {
		return skus
	}
	kept := skus[:0]
	for i := range skus {
		if skus[i].Validity == domain.ValidityValid {
			kept = append(kept, skus[i])
		}
	}
	return kept
}
