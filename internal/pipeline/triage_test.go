package pipeline

import (
	"bytes"
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func imageOf(id string, w, h int, data []byte) ImageData {
	return ImageData{ImageID: id, Width: w, Height: h, Data: data}
}

func TestTriageShortEdgeGate(t *testing.T) {
	page := &ParsedPage{
		PageWidth: 595, PageHeight: 842,
		Images: []ImageData{
			imageOf("big", 800, 600, []byte("photo-bytes-a")),
			imageOf("icon", 64, 64, []byte("icon-bytes")),
		},
	}
	TriageImages(page, NewHashSet())

	if !page.Images[0].Deliverable {
		t.Error("large product image must be deliverable")
	}
	if page.Images[1].Deliverable {
		t.Error("64px icon must not be deliverable")
	}
}

func TestTriageDuplicateCollapse(t *testing.T) {
	logo := bytes.Repeat([]byte("logo"), 100)
	seen := NewHashSet()

	p1 := &ParsedPage{Images: []ImageData{imageOf("l1", 400, 400, logo)}}
	p2 := &ParsedPage{Images: []ImageData{imageOf("l2", 400, 400, logo)}}
	TriageImages(p1, seen)
	TriageImages(p2, seen)

	if p1.Images[0].Duplicate {
		t.Error("first occurrence is not a duplicate")
	}
	if !p2.Images[0].Duplicate {
		t.Error("identical bytes on a later page must be a duplicate")
	}
	if p2.Images[0].Deliverable {
		t.Error("duplicates must not be deliverable")
	}
	if p1.Images[0].PrefixHash != p2.Images[0].PrefixHash {
		t.Error("identical bytes must hash identically")
	}
}

func TestTriagePrefixHashLength(t *testing.T) {
	page := &ParsedPage{Images: []ImageData{imageOf("a", 400, 400, bytes.Repeat([]byte("x"), 4096))}}
	TriageImages(page, NewHashSet())
	if len(page.Images[0].PrefixHash) != 12 {
		t.Errorf("prefix hash length = %d, want 12", len(page.Images[0].PrefixHash))
	}
}

func TestTriageBannerRole(t *testing.T) {
	page := &ParsedPage{Images: []ImageData{imageOf("banner", 800, 60, []byte("banner-bytes"))}}
	TriageImages(page, NewHashSet())
	if page.Images[0].Role != domain.RoleDecoration {
		t.Errorf("wide low banner role = %s, want DECORATION", page.Images[0].Role)
	}
}

func TestTriageZeroDimensionImage(t *testing.T) {
	page := &ParsedPage{Images: []ImageData{imageOf("broken", 0, 0, []byte("junk"))}}
	TriageImages(page, NewHashSet())
	if page.Images[0].Deliverable {
		t.Error("undecodable image must not be deliverable")
	}
}
