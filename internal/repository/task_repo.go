package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
)

// ErrNoTaskAvailable indicates the queue holds no claimable task.
var ErrNoTaskAvailable = errors.New("no claimable task available")

// TaskRepository handles human-task persistence and the lock table.
// The task row itself is the single source of truth for exclusive
// ownership; claims are atomic row updates, never in-memory locks.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a task, deriving the indexed claim rank from priority.
func (r *TaskRepository) Create(ctx context.Context, task *domain.HumanTask) error {
	task.ClaimRank = task.Priority.ClaimRank()
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.HumanTask, error) {
	var task domain.HumanTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Save persists all fields of a task.
func (r *TaskRepository) Save(ctx context.Context, task *domain.HumanTask) error {
	task.ClaimRank = task.Priority.ClaimRank()
	return r.db.WithContext(ctx).Save(task).Error
}

// claimableStatuses are the statuses a claim may take a task from.
// ASSIGNED tasks are claimable only by their assignee; the claim queries
// enforce that with the assigned_to condition.
var claimableStatuses = []domain.TaskStatus{domain.TaskCreated, domain.TaskAssigned, domain.TaskEscalated}

// ClaimNext atomically claims the highest-priority unlocked task.
//
// Queue order: claim rank ascending (AUTO_RESOLVE first, NORMAL last),
// then creation time. On postgres this uses SELECT ... FOR UPDATE SKIP
// LOCKED inside a transaction; elsewhere it falls back to a portable
// optimistic claim (conditional UPDATE checked via RowsAffected) retried
// over a small candidate window. Both paths guarantee at most one winner
// per task across concurrent callers.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - holder: lock holder identity (annotator or worker ID).
// Returns:
//   - *domain.HumanTask: the claimed task in PROCESSING state.
//   - error: ErrNoTaskAvailable when the queue is drained.
func (r *TaskRepository) ClaimNext(ctx context.Context, holder string) (*domain.HumanTask, error) {
	if IsPostgres(r.db) {
		return r.claimNextSkipLocked(ctx, holder)
	}
	return r.claimNextPortable(ctx, holder)
}

func (r *TaskRepository) claimNextSkipLocked(ctx context.Context, holder string) (*domain.HumanTask, error) {
	var task domain.HumanTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Raw(`
			SELECT * FROM human_tasks
			WHERE status IN ? AND (locked_by IS NULL OR locked_by = '')
			  AND (assigned_to IS NULL OR assigned_to = '' OR assigned_to = ?)
			ORDER BY claim_rank ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, claimableStatuses, holder).
			Scan(&task).Error
		if err != nil {
			return err
		}
		if task.ID == "" {
			return ErrNoTaskAvailable
		}
		now := time.Now()
		return tx.Model(&domain.HumanTask{}).Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       domain.TaskProcessing,
				"locked_by":    holder,
				"locked_at":    now,
				"heartbeat_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, task.ID)
}

func (r *TaskRepository) claimNextPortable(ctx context.Context, holder string) (*domain.HumanTask, error) {
	// Candidate window bounds the number of optimistic attempts when many
	// claimers race on the same queue head.
	var candidates []domain.HumanTask
	err := r.db.WithContext(ctx).
		Where("status IN ? AND (locked_by IS NULL OR locked_by = '') AND (assigned_to IS NULL OR assigned_to = '' OR assigned_to = ?)",
			claimableStatuses, holder).
		Order("claim_rank ASC, created_at ASC").
		Limit(10).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range candidates {
		res := r.db.WithContext(ctx).Model(&domain.HumanTask{}).
			Where("id = ? AND status IN ? AND (locked_by IS NULL OR locked_by = '')", candidates[i].ID, claimableStatuses).
			Updates(map[string]interface{}{
				"status":       domain.TaskProcessing,
				"locked_by":    holder,
				"locked_at":    now,
				"heartbeat_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return r.GetByID(ctx, candidates[i].ID)
		}
		// Lost the race for this row, try the next candidate.
	}
	return nil, ErrNoTaskAvailable
}

// Heartbeat refreshes the lock heartbeat for a held task.
// Returns ErrStaleUpdate if the holder no longer owns the task.
func (r *TaskRepository) Heartbeat(ctx context.Context, taskID, holder string) error {
	res := r.db.WithContext(ctx).Model(&domain.HumanTask{}).
		Where("id = ? AND locked_by = ? AND status = ?", taskID, holder, domain.TaskProcessing).
		Update("heartbeat_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// ReleaseLock clears the lock fields, leaving status to the caller.
func (r *TaskRepository) ReleaseLock(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).Model(&domain.HumanTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"locked_by":    "",
			"locked_at":    nil,
			"heartbeat_at": nil,
		}).Error
}

// ListExpiredLocks returns PROCESSING tasks whose heartbeat is older than
// the cutoff. The sweeper decides whether each goes back to CREATED or,
// at the rework ceiling, to SKIPPED.
func (r *TaskRepository) ListExpiredLocks(ctx context.Context, cutoff time.Time) ([]domain.HumanTask, error) {
	var tasks []domain.HumanTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND heartbeat_at < ?", domain.TaskProcessing, cutoff).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListOpenOlderThan returns non-terminal tasks created before the cutoff,
// used by the SLA scanner.
func (r *TaskRepository) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]domain.HumanTask, error) {
	var tasks []domain.HumanTask
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]domain.TaskStatus{domain.TaskCreated, domain.TaskAssigned, domain.TaskProcessing, domain.TaskEscalated},
			cutoff).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListOpenByJob returns a job's non-terminal tasks.
func (r *TaskRepository) ListOpenByJob(ctx context.Context, jobID string) ([]domain.HumanTask, error) {
	var tasks []domain.HumanTask
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status IN ?", jobID,
			[]domain.TaskStatus{domain.TaskCreated, domain.TaskAssigned, domain.TaskProcessing, domain.TaskEscalated}).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// AppendTransition writes one append-only audit row.
func (r *TaskRepository) AppendTransition(ctx context.Context, tx *gorm.DB, taskID string, from, to domain.TaskStatus, actor, reason string) error {
	db := tx
	if db == nil {
		db = r.db.WithContext(ctx)
	}
	return db.Create(&domain.StateTransition{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		FromState: from,
		ToState:   to,
		Actor:     actor,
		Reason:    reason,
	}).Error
}

// ListTransitions returns the audit trail for a task, oldest first.
func (r *TaskRepository) ListTransitions(ctx context.Context, taskID string) ([]domain.StateTransition, error) {
	var rows []domain.StateTransition
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Tx runs fn inside a database transaction.
func (r *TaskRepository) Tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
