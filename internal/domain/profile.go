package domain

import (
	"fmt"
	"math"
	"time"
)

// ThresholdProfile is versioned, append-only routing configuration.
// Updates never mutate a row: a new version is inserted and the previous
// one flipped inactive under an optimistic expected-version check.
//
// Invariants enforced at write time:
//   - ThresholdB < ThresholdPV < ThresholdA (strict ordering)
//   - dimension weights sum to 1.0 +/- 0.01
type ThresholdProfile struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	Name    string `gorm:"type:text;not null;index:idx_profiles_name" json:"name" validate:"required"`
	Version int    `gorm:"not null;index:idx_profiles_name" json:"version" validate:"gte=1"`
	Active  bool   `gorm:"default:true;index:idx_profiles_active" json:"active"`

	// Routing thresholds: C_doc >= A -> AUTO, >= B -> HYBRID, else HUMAN_ALL.
	// PV is the page-level validity threshold used by hybrid review selection.
	ThresholdA  float64 `gorm:"default:0.85" json:"threshold_a" validate:"gte=0,lte=1"`
	ThresholdB  float64 `gorm:"default:0.45" json:"threshold_b" validate:"gte=0,lte=1"`
	ThresholdPV float64 `gorm:"default:0.65" json:"threshold_pv" validate:"gte=0,lte=1"`

	Weights FloatMap `gorm:"type:text" json:"weights"`

	VarianceThreshold float64 `gorm:"default:0.08" json:"variance_threshold" validate:"gte=0"`
	EntropyThreshold  float64 `gorm:"default:0.7" json:"entropy_threshold" validate:"gte=0,lte=1"`

	ValidityMode ValidityMode `gorm:"type:text;default:strict" json:"validity_mode"`

	CreatedBy string    `gorm:"type:text" json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ThresholdProfile.
func (ThresholdProfile) TableName() string {
	return "threshold_profiles"
}

// Scoring dimension names. The weight map is keyed by these.
const (
	DimTextClarity     = "text_clarity"
	DimImageQuality    = "image_quality"
	DimLayoutStructure = "layout_structure"
	DimTableRegularity = "table_regularity"
	DimSKUDensity      = "sku_density"
)

// DefaultWeights returns the default dimension weight map.
func DefaultWeights() FloatMap {
	return FloatMap{
		DimTextClarity:     0.25,
		DimImageQuality:    0.20,
		DimLayoutStructure: 0.25,
		DimTableRegularity: 0.15,
		DimSKUDensity:      0.15,
	}
}

// DefaultProfile returns the built-in version-1 profile.
func DefaultProfile() *ThresholdProfile {
	return &ThresholdProfile{
		Name:              "default",
		Version:           1,
		Active:            true,
		ThresholdA:        0.85,
		ThresholdB:        0.45,
		ThresholdPV:       0.65,
		Weights:           DefaultWeights(),
		VarianceThreshold: 0.08,
		EntropyThreshold:  0.7,
		ValidityMode:      ValidityStrict,
	}
}

// ConfigVersion returns the frozen-config identifier {name}:{version}.
func (p *ThresholdProfile) ConfigVersion() string {
	return fmt.Sprintf("%s:%d", p.Name, p.Version)
}

// Validate checks the profile invariants.
// Parameters: none.
// Returns:
//   - error: non-nil describing the first violated invariant.
func (p *ThresholdProfile) Validate() error {
	if !(p.ThresholdB < p.ThresholdPV && p.ThresholdPV < p.ThresholdA) {
		return fmt.Errorf("threshold ordering violated: require B(%v) < PV(%v) < A(%v)",
			p.ThresholdB, p.ThresholdPV, p.ThresholdA)
	}
	var sum float64
	for _, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("negative dimension weight %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("dimension weights sum to %.4f, expected 1.0 +/- 0.01", sum)
	}
	return nil
}
