package pipeline

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func namedSKU(id, name, model string, conf float64) SKUCandidate {
	s := SKUCandidate{
		ID:         id,
		Attributes: map[string]interface{}{"product_name": name},
		Confidence: conf,
	}
	if model != "" {
		s.Attributes["model_number"] = model
	}
	s.Validity = validityOf(&s)
	return s
}

func TestValidateNoSKUsIsError(t *testing.T) {
	res := ValidatePage(domain.PageTypeB, nil, nil)
	if !res.HasErrors {
		t.Fatal("a product page without SKUs must raise an error")
	}
	if res.Issues[0].Rule != "no_skus_found" {
		t.Errorf("rule = %s, want no_skus_found", res.Issues[0].Rule)
	}
}

func TestValidateDecorativePageWithoutSKUsIsClean(t *testing.T) {
	res := ValidatePage(domain.PageTypeD, nil, nil)
	if res.HasErrors || res.HasWarnings || len(res.Issues) != 0 {
		t.Fatalf("decorative page without SKUs must be clean, got %+v", res)
	}
}

func TestValidateSKUWithoutImageWarns(t *testing.T) {
	skus := []SKUCandidate{namedSKU("s1", "椅子", "XK-100", 0.9)}

	res := ValidatePage(domain.PageTypeB, skus, nil)
	if !hasRule(res, "sku_without_image") {
		t.Error("unbound SKU on a mixed page must warn")
	}

	// Table pages legitimately ship without images.
	res = ValidatePage(domain.PageTypeA, skus, nil)
	if hasRule(res, "sku_without_image") {
		t.Error("table pages must not warn about missing images")
	}
}

func TestValidateDuplicateModelWarns(t *testing.T) {
	skus := []SKUCandidate{
		namedSKU("s1", "椅子", "XK-100", 0.9),
		namedSKU("s2", "凳子", "xk-100", 0.9),
	}
	bindings := []BindingOutcome{
		{SKUID: "s1", ImageID: "i1"},
		{SKUID: "s2", ImageID: "i2"},
	}
	res := ValidatePage(domain.PageTypeB, skus, bindings)
	if !hasRule(res, "duplicate_model") {
		t.Error("case-insensitive duplicate models must warn")
	}
}

func TestValidateLowConfidenceWarns(t *testing.T) {
	skus := []SKUCandidate{namedSKU("s1", "椅子", "XK-100", 0.3)}
	bindings := []BindingOutcome{{SKUID: "s1", ImageID: "i1"}}

	res := ValidatePage(domain.PageTypeB, skus, bindings)
	if !hasRule(res, "low_confidence") {
		t.Error("confidence below 0.5 must warn")
	}
	if res.HasErrors {
		t.Error("warnings alone must not set HasErrors")
	}
}

func TestEnforceValidityStrictDropsInvalid(t *testing.T) {
	skus := []SKUCandidate{
		namedSKU("s1", "椅子", "", 0.9),
		{ID: "s2", Attributes: map[string]interface{}{"price": "¥99"}},
	}
	kept := EnforceValidity(skus, domain.ValidityStrict)
	if len(kept) != 1 || kept[0].ID != "s1" {
		t.Fatalf("strict mode kept %d records, want only s1", len(kept))
	}
}

func TestEnforceValidityLenientKeepsFlagged(t *testing.T) {
	skus := []SKUCandidate{
		namedSKU("s1", "椅子", "", 0.9),
		{ID: "s2", Attributes: map[string]interface{}{"price": "¥99"}},
	}
	kept := EnforceValidity(skus, domain.ValidityLenient)
	if len(kept) != 2 {
		t.Fatalf("lenient mode kept %d records, want 2", len(kept))
	}
	if kept[1].Validity != domain.ValidityInvalid {
		t.Error("nameless record must be flagged invalid")
	}
}

func TestEnforceValidityIdempotent(t *testing.T) {
	skus := []SKUCandidate{
		namedSKU("s1", "椅子", "", 0.9),
		{ID: "s2", Attributes: map[string]interface{}{}},
	}
	once := EnforceValidity(skus, domain.ValidityStrict)
	twice := EnforceValidity(once, domain.ValidityStrict)
	if len(once) != len(twice) {
		t.Errorf("second pass changed the result: %d -> %d", len(once), len(twice))
	}
}

func hasRule(res ValidationResult, rule string) bool {
	for _, issue := range res.Issues {
		if issue.Rule == rule {
			return true
		}
	}
	return false
}
