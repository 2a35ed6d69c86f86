package domain

import "time"

// PDFJob represents one uploaded catalog document and its processing state.
//
// The five page-number sets (blank/ai/human/skipped/failed) are a mutually
// exclusive partition of [1..TotalPages]. UserStatus is always derived from
// Status via ComputeUserStatus and is stored only for query convenience.
type PDFJob struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	FileName   string `gorm:"type:text" json:"file_name"`
	FileHash   string `gorm:"type:text;not null;index:idx_jobs_file_hash" json:"file_hash"`
	FileSize   int64  `json:"file_size"`
	StorageKey string `gorm:"type:text" json:"storage_key"`
	TotalPages int    `gorm:"default:0" json:"total_pages"`

	Status     JobInternalStatus `gorm:"type:text;index:idx_jobs_status;default:UPLOADED" json:"status"`
	UserStatus JobUserStatus     `gorm:"type:text;default:processing" json:"user_status"`

	RouteDecision       RouteDecision `gorm:"type:text" json:"route_decision,omitempty"`
	DegradeReason       string        `gorm:"type:text" json:"degrade_reason,omitempty"`
	FrozenConfigVersion string        `gorm:"type:text" json:"frozen_config_version,omitempty"`

	// Prescan metrics captured at upload time; read again by the evaluator
	// after requeues, so they live on the job rather than in memory.
	Prescan *PrescanResult `gorm:"type:text" json:"prescan,omitempty"`

	// Page-number partition. Refreshed transactionally with page updates.
	BlankPages   IntArray `gorm:"type:text" json:"blank_pages"`
	AIPages      IntArray `gorm:"type:text" json:"ai_pages"`
	HumanPages   IntArray `gorm:"type:text" json:"human_pages"`
	SkippedPages IntArray `gorm:"type:text" json:"skipped_pages"`
	FailedPages  IntArray `gorm:"type:text" json:"failed_pages"`

	// Checkpoint advances only after a page's results are durably persisted.
	CheckpointPage int        `gorm:"default:0" json:"checkpoint_page"`
	CheckpointSKUs int        `gorm:"column:checkpoint_skus;default:0" json:"checkpoint_skus"`
	CheckpointAt   *time.Time `json:"checkpoint_at,omitempty"`

	WorkerID     string     `gorm:"type:text;index:idx_jobs_worker" json:"worker_id,omitempty"`
	RequeueCount int        `gorm:"default:0" json:"requeue_count"`
	OrphanedAt   *time.Time `json:"orphaned_at,omitempty"`

	ErrorLog    string     `gorm:"type:text" json:"error_log,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PDFJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (PDFJob) TableName() string {
	return "pdf_jobs"
}

// SyncUserStatus recomputes the derived user status from the internal status.
func (j *PDFJob) SyncUserStatus() {
	j.UserStatus = ComputeUserStatus(j.Status)
}
