package domain

import (
	"fmt"
	"time"
)

// ImportRecord tracks one SKU push to the downstream system.
// IdempotencyKey is {sku_id}_v{revision}; re-pushing the same key is a no-op
// downstream, so retries are safe.
type ImportRecord struct {
	ID             string `gorm:"type:text;primaryKey" json:"id"`
	JobID          string `gorm:"type:text;not null;index:idx_imports_job" json:"job_id"`
	PageNumber     int    `gorm:"default:0" json:"page_number"`
	SKUID          string `gorm:"type:text;not null;index:idx_imports_sku" json:"sku_id"`
	Revision       int    `gorm:"default:1" json:"revision"`
	IdempotencyKey string `gorm:"type:text;uniqueIndex:idx_imports_idem" json:"idempotency_key"`

	Confirmation ImportConfirmation `gorm:"type:text;index:idx_imports_confirmation;default:pending" json:"confirmation"`
	Attempts     int                `gorm:"default:0" json:"attempts"`
	LastError    string             `gorm:"type:text" json:"last_error,omitempty"`
	NextRetryAt  *time.Time         `json:"next_retry_at,omitempty"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImportRecord.
func (ImportRecord) TableName() string {
	return "import_records"
}

// IdemKey builds the downstream idempotency key for a SKU revision.
func IdemKey(skuID string, revision int) string {
	return fmt.Sprintf("%s_v%d", skuID, revision)
}
