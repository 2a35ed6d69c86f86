package pipeline

import "testing"

func TestAssignSKUIDsReadingOrder(t *testing.T) {
	skus := []SKUCandidate{
		{BBox: BBox{400, 600, 420, 620}}, // bottom right
		{BBox: BBox{100, 100, 120, 120}}, // top left
		{BBox: BBox{400, 100, 420, 120}}, // top right
		{BBox: BBox{100, 600, 120, 620}}, // bottom left
	}
	AssignSKUIDs("abcdef1234567890", 7, 842, skus)

	wantOrder := []string{"abcdef12_007_001", "abcdef12_007_002", "abcdef12_007_003", "abcdef12_007_004"}
	for i, want := range wantOrder {
		if skus[i].ID != want {
			t.Errorf("sku[%d].ID = %s, want %s", i, skus[i].ID, want)
		}
	}
	// Top row reads left before right.
	if skus[0].BBox.CenterX() > skus[1].BBox.CenterX() {
		t.Error("first two SKUs should be the top row, left first")
	}
	if skus[0].BBox.CenterY() > skus[2].BBox.CenterY() {
		t.Error("top row must come before bottom row")
	}
}

func TestAssignSKUIDsJitterStable(t *testing.T) {
	// Sub-1% vertical jitter must not reorder records.
	a := []SKUCandidate{
		{BBox: BBox{100, 100, 120, 120}},
		{BBox: BBox{300, 102, 320, 122}},
	}
	b := []SKUCandidate{
		{BBox: BBox{100, 102, 120, 122}},
		{BBox: BBox{300, 100, 320, 120}},
	}
	AssignSKUIDs("deadbeef", 1, 842, a)
	AssignSKUIDs("deadbeef", 1, 842, b)

	if a[0].BBox.CenterX() != b[0].BBox.CenterX() {
		t.Error("jittered rows sorted differently")
	}
}

func TestAssignSKUIDsShortHash(t *testing.T) {
	skus := []SKUCandidate{{BBox: BBox{0, 0, 10, 10}}}
	AssignSKUIDs("ab12", 1, 842, skus)
	if skus[0].ID != "ab12_001_001" {
		t.Errorf("ID = %s, want ab12_001_001", skus[0].ID)
	}
}

func TestCenterBox(t *testing.T) {
	box := CenterBox(0.5, 0.25, 600, 800)
	if box.CenterX() != 300 || box.CenterY() != 200 {
		t.Errorf("center = (%v, %v), want (300, 200)", box.CenterX(), box.CenterY())
	}
}
