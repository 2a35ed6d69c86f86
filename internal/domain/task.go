package domain

import "time"

// MaxReworkCount bounds how many times a task may be reverted to CREATED.
const MaxReworkCount = 5

// HumanTask is one unit of human work, owned by at most one lock holder.
type HumanTask struct {
	ID    string `gorm:"type:text;primaryKey" json:"id"`
	JobID string `gorm:"type:text;not null;index:idx_tasks_job" json:"job_id"`

	TaskType   TaskType     `gorm:"type:text" json:"task_type"`
	PageNumber int          `gorm:"default:0" json:"page_number,omitempty"`
	Status     TaskStatus   `gorm:"type:text;index:idx_tasks_status;default:CREATED" json:"status"`
	Priority   TaskPriority `gorm:"type:text;default:NORMAL" json:"priority"`

	// ClaimRank mirrors Priority.ClaimRank for indexed queue ordering.
	ClaimRank int `gorm:"default:3;index:idx_tasks_claim" json:"claim_rank"`

	// Exclusive lock. LockedBy empty means unlocked.
	LockedBy string     `gorm:"type:text;index:idx_tasks_locked" json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
	// HeartbeatAt is refreshed by the holder; a stale value triggers the sweep.
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	AssignedTo  string  `gorm:"type:text;index:idx_tasks_assignee" json:"assigned_to,omitempty"`
	ReworkCount int     `gorm:"default:0" json:"rework_count"`
	IsHard      bool    `gorm:"default:false" json:"is_hard"`
	AIConfidence float64 `gorm:"default:0" json:"ai_confidence"`

	// Context carries the per-task-type payload (discriminated by TaskType).
	Context JSONMap `gorm:"type:text" json:"context,omitempty"`

	EscalatedLevel int        `gorm:"default:0" json:"escalated_level"`
	AutoAccepted   bool       `gorm:"default:false" json:"auto_accepted"`
	AuditSampled   bool       `gorm:"default:false" json:"audit_sampled"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for HumanTask.
func (HumanTask) TableName() string {
	return "human_tasks"
}

// StateTransition is one append-only audit row for a task status change.
type StateTransition struct {
	ID        string     `gorm:"type:text;primaryKey" json:"id"`
	TaskID    string     `gorm:"type:text;not null;index:idx_transitions_task" json:"task_id"`
	FromState TaskStatus `gorm:"type:text" json:"from_state"`
	ToState   TaskStatus `gorm:"type:text" json:"to_state"`
	Actor     string     `gorm:"type:text" json:"actor,omitempty"`
	Reason    string     `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name for StateTransition.
func (StateTransition) TableName() string {
	return "state_transitions"
}

// Annotator tracks a human worker's accuracy and load for dispatch scoring.
type Annotator struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	Name           string    `gorm:"type:text" json:"name"`
	Accuracy       float64   `gorm:"default:0" json:"accuracy"`
	CompletedTasks int       `gorm:"default:0" json:"completed_tasks"`
	ActiveTasks    int       `gorm:"default:0" json:"active_tasks"`
	Available      bool      `gorm:"default:true" json:"available"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Annotator.
func (Annotator) TableName() string {
	return "annotators"
}
