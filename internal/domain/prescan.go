package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PageFeature is the lightweight per-page signal collected during prescan,
// used by the evaluation sampler to stratify pages by complexity.
type PageFeature struct {
	ImageCount int     `json:"image_count"`
	OCRRate    float64 `json:"ocr_rate"`
	TextHint   string  `json:"text_hint,omitempty"`
}

// PrescanResult summarizes the cheap structural scan run at upload time.
// Penalties feed straight into the document confidence computation.
type PrescanResult struct {
	BlankRate    float64             `json:"blank_rate"`
	OCRRate      float64             `json:"ocr_rate"`
	ImageRatio   float64             `json:"image_ratio"`
	TotalPenalty float64             `json:"total_penalty"`
	AllBlank     bool                `json:"all_blank"`
	PageFeatures map[int]PageFeature `json:"page_features,omitempty"`
}

// Value implements driver.Valuer, storing the result as JSON.
func (p PrescanResult) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, loading the result from JSON.
func (p *PrescanResult) Scan(value interface{}) error {
	if value == nil {
		*p = PrescanResult{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for PrescanResult: %T", value)
	}
	if len(data) == 0 {
		*p = PrescanResult{}
		return nil
	}
	return json.Unmarshal(data, p)
}
