package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"sync"

	"github.com/haoran/skuflow/internal/domain"
)

const (
	// minDeliverableShortEdge is the resolution floor for images that
	// ship with a SKU. Smaller images are icons or decorations.
	minDeliverableShortEdge = 200

	// hashPrefixBytes bounds the dedup hash to the image head, which is
	// cheap and stable across re-extractions of the same stream.
	hashPrefixBytes = 2048
)

// HashSet is a concurrency-safe set of image prefix hashes, shared by
// all pages of one job so repeated logos collapse to one deliverable.
type HashSet struct {
	mu sync.Mutex
	m  map[string]bool
}

// NewHashSet creates an empty set.
func NewHashSet() *HashSet {
	return &HashSet{m: make(map[string]bool)}
}

// Seen records the hash and reports whether it was already present.
func (s *HashSet) Seen(hash string) bool {
	if hash == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[hash] {
		return true
	}
	s.m[hash] = true
	return false
}

// TriageImages fills triage metadata in place: short edge, prefix hash,
// duplicate flag, role heuristic and deliverability. seen carries prefix
// hashes across pages of the same job so repeated logos collapse.
func TriageImages(page *ParsedPage, seen *HashSet) {
	for i := range page.Images {
		img := &page.Images[i]
		img.ShortEdge = shortEdge(img.Width, img.Height)
		img.PrefixHash = prefixHash(img.Data)
		img.Duplicate = seen.Seen(img.PrefixHash)

		img.Role = inferRole(img, page)
		img.Deliverable = img.Role.IsDeliverable() &&
			img.ShortEdge >= minDeliverableShortEdge &&
			!img.Duplicate
	}
}

// inferRole applies cheap shape heuristics. The classifier refines the
// role only when the page turns out to be product-bearing.
func inferRole(img *ImageData, page *ParsedPage) domain.ImageRole {
	if img.Width == 0 || img.Height == 0 {
		return domain.RoleDecoration
	}
	if img.Duplicate {
		// Repeated byte-identical images across pages are branding.
		return domain.RoleLogo
	}
	if img.ShortEdge < minDeliverableShortEdge {
		if aspect(img) > 3 {
			return domain.RoleDecoration // banners, rules, separators
		}
		return domain.RoleLogo
	}
	pageArea := math.Max(1, page.PageWidth*page.PageHeight)
	if !img.BBox.IsZero() && img.BBox.Area()/pageArea > 0.6 {
		return domain.RoleScene
	}
	return domain.RoleProductMain
}

func aspect(img *ImageData) float64 {
	w, h := float64(img.Width), float64(img.Height)
	if w == 0 || h == 0 {
		return 0
	}
	return math.Max(w, h) / math.Min(w, h)
}

func shortEdge(w, h int) int {
	if w < h {
		return w
	}
	return h
}

func prefixHash(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	n := len(data)
	if n > hashPrefixBytes {
		n = hashPrefixBytes
	}
	sum := md5.Sum(data[:n])
	return hex.EncodeToString(sum[:])[:12]
}
