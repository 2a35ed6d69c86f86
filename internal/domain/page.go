package domain

import "time"

// Page is one page of one job for one processing attempt.
// Reprocessing creates a new row with a higher AttemptNo; history is kept.
type Page struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	JobID      string `gorm:"type:text;not null;index:idx_pages_job;uniqueIndex:idx_pages_attempt" json:"job_id"`
	PageNumber int    `gorm:"not null;uniqueIndex:idx_pages_attempt" json:"page_number"`
	AttemptNo  int    `gorm:"default:1;uniqueIndex:idx_pages_attempt" json:"attempt_no"`

	Status   PageStatus `gorm:"type:text;index:idx_pages_status;default:PENDING" json:"status"`
	PageType PageType   `gorm:"type:text" json:"page_type,omitempty"`
	Layout   LayoutType `gorm:"type:text" json:"layout,omitempty"`

	ClassifierConfidence float64 `gorm:"default:0" json:"classifier_confidence"`
	ClassifiedByRule     bool    `gorm:"default:false" json:"classified_by_rule"`

	TextChars  int     `gorm:"default:0" json:"text_chars"`
	ImageCount int     `gorm:"default:0" json:"image_count"`
	OCRRate    float64 `gorm:"default:0" json:"ocr_rate"`
	TableCount int     `gorm:"default:0" json:"table_count"`

	SKUCount   int    `gorm:"default:0" json:"sku_count"`
	LLMCalls   int    `gorm:"default:0" json:"llm_calls"`
	ExtractTier string `gorm:"type:text" json:"extract_tier,omitempty"`

	Source   CompletionSource `gorm:"type:text" json:"source,omitempty"`
	ErrorLog string           `gorm:"type:text" json:"error_log,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Page.
func (Page) TableName() string {
	return "pages"
}
