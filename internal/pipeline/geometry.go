package pipeline

import (
	"fmt"
	"math"
	"sort"
)

// AssignSKUIDs gives every candidate a stable identifier derived from
// document hash, page number and reading-order sequence. Reading order
// sorts by vertical then horizontal center, both normalized by page
// height and rounded to two decimals so minor extraction jitter does
// not reorder records between attempts.
func AssignSKUIDs(fileHash string, pageNo int, pageHeight float64, skus []SKUCandidate) {
	if pageHeight <= 0 {
		pageHeight = 1
	}
	hash8 := fileHash
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}

	sort.SliceStable(skus, func(i, j int) bool {
		yi := round2(skus[i].BBox.CenterY() / pageHeight)
		yj := round2(skus[j].BBox.CenterY() / pageHeight)
		if yi != yj {
			return yi < yj
		}
		return round2(skus[i].BBox.CenterX()/pageHeight) < round2(skus[j].BBox.CenterX()/pageHeight)
	})
	for i := range skus {
		skus[i].ID = fmt.Sprintf("%s_%03d_%03d", hash8, pageNo, i+1)
	}
}

// CenterBox builds a small box around a relative (0..1) center point,
// used when extraction reports positions rather than extents.
func CenterBox(relX, relY, pageW, pageH float64) BBox {
	const half = 5.0
	x := relX * pageW
	y := relY * pageH
	return BBox{x - half, y - half, x + half, y + half}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
