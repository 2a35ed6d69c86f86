// Package pipeline turns evaluated catalog jobs into extracted SKU
// records: per-page parsing, classification, extraction, binding and
// validation, orchestrated with incremental persistence.
package pipeline

import (
	"fmt"

	"github.com/haoran/skuflow/internal/domain"
)

// BBox is an axis-aligned box in page coordinates: x0, y0, x1, y1.
type BBox [4]float64

// Width returns the box width.
func (b BBox) Width() float64 { return b[2] - b[0] }

// Height returns the box height.
func (b BBox) Height() float64 { return b[3] - b[1] }

// Area returns the box area.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// CenterX returns the horizontal center.
func (b BBox) CenterX() float64 { return (b[0] + b[2]) / 2 }

// CenterY returns the vertical center.
func (b BBox) CenterY() float64 { return (b[1] + b[3]) / 2 }

// IsZero reports whether the box carries no geometry.
func (b BBox) IsZero() bool { return b == BBox{} }

// TextBlock is one positioned text run from the PDF parser.
type TextBlock struct {
	Content  string
	BBox     BBox
	FontSize float64
	FontName string
	Bold     bool
}

// TableData is one detected table, possibly merged across pages.
type TableData struct {
	Rows           [][]string
	BBox           BBox
	HeaderRow      []string
	ColumnCount    int
	IsContinuation bool
}

// ImageData is one extracted image with triage metadata.
type ImageData struct {
	ImageID    string
	BBox       BBox
	Data       []byte
	Format     string
	Width      int
	Height     int
	ShortEdge  int
	PrefixHash string
	Role       domain.ImageRole
	Duplicate  bool
	Deliverable bool
}

// ParsedPage is the phase-1 output: everything the parser recovered
// from one page.
type ParsedPage struct {
	PageNo       int
	TextBlocks   []TextBlock
	Tables       []TableData
	Images       []ImageData
	RawText      string
	PageWidth    float64
	PageHeight   float64
	TextCoverage float64
	Backend      string
}

// FeatureVector is the structural page fingerprint driving the
// classifier's rule fast path.
type FeatureVector struct {
	TextDensity     float64
	TableAreaRatio  float64
	AvgFontSize     float64
	HasPricePattern bool
	HasModelPattern bool
	TextBlockCount  int
	ImageCount      int
	TableCount      int
}

// PromptContext renders the features for the classifier prompt.
func (f FeatureVector) PromptContext() string {
	s := fmt.Sprintf("text_blocks=%d, images=%d, tables=%d, text_density=%.2f",
		f.TextBlockCount, f.ImageCount, f.TableCount, f.TextDensity)
	if f.HasPricePattern {
		s += ", has_prices"
	}
	if f.HasModelPattern {
		s += ", has_model_numbers"
	}
	return s
}

// ClassifyResult is the page classification verdict.
type ClassifyResult struct {
	PageType   domain.PageType
	Layout     domain.LayoutType
	Confidence float64
	ByRule     bool
}

// SKUCandidate is one extracted product before persistence.
type SKUCandidate struct {
	ID         string
	Attributes map[string]interface{}
	BBox       BBox
	Validity   domain.SKUValidity
	Confidence float64
	Method     string // table_rule | two_stage | single_stage | rule
}

// Attr returns a string attribute, empty when missing or non-string.
func (s *SKUCandidate) Attr(key string) string {
	if v, ok := s.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// BindingCandidate is one scored SKU-image pairing.
type BindingCandidate struct {
	ImageID    string
	Confidence float64
	Method     domain.BindingMethod
}

// BindingOutcome is the binder's verdict for one SKU. An ambiguous
// outcome carries no image, only ranked candidates for human review.
type BindingOutcome struct {
	SKUID       string
	ImageID     string
	Confidence  float64
	Method      domain.BindingMethod
	IsAmbiguous bool
	Candidates  []BindingCandidate
}

// IssueSeverity grades a validation issue.
type IssueSeverity string

const (
	SeverityInfo    IssueSeverity = "info"
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

// ValidationIssue is one finding from the consistency validator.
type ValidationIssue struct {
	Rule     string
	Severity IssueSeverity
	Message  string
}

// ValidationResult is the full consistency verdict for a page.
type ValidationResult struct {
	Issues      []ValidationIssue
	HasErrors   bool
	HasWarnings bool
}

// ProcessedPage is the final output of one page-processing attempt.
type ProcessedPage struct {
	Status         domain.PageStatus
	PageType       domain.PageType
	Layout         domain.LayoutType
	NeedsReview    bool
	SKUs           []SKUCandidate
	Images         []ImageData
	Bindings       []BindingOutcome
	Validation     ValidationResult
	ClassifierConf float64
	ClassifiedByRule bool
	ExtractTier    string
	LLMCalls       int
	FellBack       bool
	Err            string
}

// PageChunk is one contiguous slice of a large job's pages.
type PageChunk struct {
	ChunkID int
	Pages   []int
}
