package domain

import "time"

// Evaluation is the durable record of one document quality evaluation.
// CacheKey is {file_hash}:{config_version}; jobs sharing it reuse the result.
type Evaluation struct {
	ID       string `gorm:"type:text;primaryKey" json:"id"`
	JobID    string `gorm:"type:text;index:idx_evals_job" json:"job_id"`
	CacheKey string `gorm:"type:text;uniqueIndex:idx_evals_cache_key" json:"cache_key"`

	FileHash      string `gorm:"type:text" json:"file_hash"`
	ConfigVersion string `gorm:"type:text" json:"config_version"`

	CDoc          float64       `gorm:"default:0" json:"c_doc"`
	Dimensions    FloatMap      `gorm:"type:text" json:"dimensions"`
	Route         RouteDecision `gorm:"type:text" json:"route"`
	VarianceForced bool         `gorm:"default:false" json:"variance_forced"`
	Variance      float64       `gorm:"default:0" json:"variance"`
	Entropy       float64       `gorm:"default:0" json:"entropy"`

	SampledPages  IntArray `gorm:"type:text" json:"sampled_pages"`
	PrescanPenalty float64 `gorm:"default:0" json:"prescan_penalty"`
	DegradeReason string   `gorm:"type:text" json:"degrade_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Evaluation.
func (Evaluation) TableName() string {
	return "evaluations"
}

// Lease is a TTL-bounded database mutual-exclusion lock keyed by name.
// Holders renew ExpiresAt on a fixed interval; an expired row is claimable.
type Lease struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Holder    string    `gorm:"type:text;not null" json:"holder"`
	ExpiresAt time.Time `gorm:"index:idx_leases_expiry" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Lease.
func (Lease) TableName() string {
	return "leases"
}

// WorkerHeartbeat is the liveness registry row for one worker process.
type WorkerHeartbeat struct {
	WorkerID    string       `gorm:"type:text;primaryKey" json:"worker_id"`
	Status      WorkerStatus `gorm:"type:text;default:ALIVE" json:"status"`
	HeartbeatAt time.Time    `gorm:"index:idx_workers_heartbeat" json:"heartbeat_at"`
	StartedAt   time.Time    `json:"started_at"`
}

// TableName returns the database table name for WorkerHeartbeat.
func (WorkerHeartbeat) TableName() string {
	return "worker_heartbeats"
}

// LLMUsage is the durable daily usage counter shared across workers.
// Day is formatted 2006-01-02 (UTC).
type LLMUsage struct {
	Day       string    `gorm:"type:text;primaryKey" json:"day"`
	CostUSD   float64   `gorm:"default:0" json:"cost_usd"`
	Requests  int64     `gorm:"default:0" json:"requests"`
	Tokens    int64     `gorm:"default:0" json:"tokens"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for LLMUsage.
func (LLMUsage) TableName() string {
	return "llm_usage"
}
