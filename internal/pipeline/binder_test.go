package pipeline

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func deliverableImage(id string, cx, cy float64) ImageData {
	return ImageData{
		ImageID:     id,
		BBox:        BBox{cx - 50, cy - 50, cx + 50, cy + 50},
		Width:       400,
		Height:      400,
		Deliverable: true,
	}
}

func TestBindNearestImageWins(t *testing.T) {
	skus := []SKUCandidate{{ID: "s1", BBox: BBox{95, 95, 105, 105}}}
	images := []ImageData{
		deliverableImage("near", 100, 130),
		deliverableImage("far", 500, 700),
	}

	outcomes := BindImages(skus, images, domain.LayoutFreeform)
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	out := outcomes[0]
	if out.IsAmbiguous {
		t.Fatal("clearly separated candidates must not be ambiguous")
	}
	if out.ImageID != "near" {
		t.Errorf("bound image = %s, want near", out.ImageID)
	}
	if out.Method != domain.BindSpatialProximity {
		t.Errorf("method = %s, want spatial_proximity", out.Method)
	}
	if out.Confidence <= 0.5 {
		t.Errorf("close pairing should score high, got %v", out.Confidence)
	}
}

func TestBindAmbiguousNearTie(t *testing.T) {
	skus := []SKUCandidate{{ID: "s1", BBox: BBox{95, 95, 105, 105}}}
	images := []ImageData{
		deliverableImage("left", 60, 100),
		deliverableImage("right", 140, 100),
		deliverableImage("below", 100, 145),
		deliverableImage("above", 100, 55),
	}

	out := BindImages(skus, images, domain.LayoutFreeform)[0]
	if !out.IsAmbiguous {
		t.Fatal("equidistant candidates must be ambiguous")
	}
	if out.ImageID != "" {
		t.Error("ambiguous outcome must not choose an image")
	}
	if len(out.Candidates) != maxAmbiguousCandidates {
		t.Errorf("expected top %d candidates, got %d", maxAmbiguousCandidates, len(out.Candidates))
	}
}

func TestBindGridLayoutMethod(t *testing.T) {
	skus := []SKUCandidate{{ID: "s1", BBox: BBox{95, 95, 105, 105}}}
	images := []ImageData{deliverableImage("g1", 100, 120)}

	out := BindImages(skus, images, domain.LayoutGrid)[0]
	if out.Method != domain.BindGridAlignment {
		t.Errorf("grid layout method = %s, want grid_alignment", out.Method)
	}
}

func TestBindNoGeometryFallsBackToPageInheritance(t *testing.T) {
	skus := []SKUCandidate{{ID: "s1", BBox: BBox{95, 95, 105, 105}}}
	images := []ImageData{{ImageID: "raw", Width: 800, Height: 600, Deliverable: true}}

	out := BindImages(skus, images, domain.LayoutSingleProduct)[0]
	if out.Method != domain.BindPageInheritance {
		t.Errorf("method = %s, want page_inheritance", out.Method)
	}
	if out.Confidence != blindConfidence {
		t.Errorf("confidence = %v, want %v", out.Confidence, blindConfidence)
	}
}

func TestBindIgnoresNonDeliverableImages(t *testing.T) {
	skus := []SKUCandidate{{ID: "s1", BBox: BBox{95, 95, 105, 105}}}
	images := []ImageData{{ImageID: "logo", BBox: BBox{90, 90, 110, 110}, Duplicate: true}}

	out := BindImages(skus, images, domain.LayoutFreeform)[0]
	if out.ImageID != "" || len(out.Candidates) != 0 {
		t.Error("non-deliverable images must never be bound")
	}
}

func TestBindConfidenceFloor(t *testing.T) {
	skus := []SKUCandidate{{ID: "s1", BBox: BBox{0, 0, 10, 10}}}
	images := []ImageData{deliverableImage("far", 5000, 5000)}

	out := BindImages(skus, images, domain.LayoutGrid)[0]
	if out.Confidence != bindingFloor {
		t.Errorf("distant pairing confidence = %v, want floor %v", out.Confidence, bindingFloor)
	}
}
