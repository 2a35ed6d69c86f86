package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
)

// ErrStaleUpdate indicates a conditional update matched no rows, meaning
// another writer got there first. Callers treat this as "already done".
var ErrStaleUpdate = errors.New("conditional update matched no rows")

// JobRepository handles job persistence.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record, deriving the user status first.
func (r *JobRepository) Create(ctx context.Context, job *domain.PDFJob) error {
	job.SyncUserStatus()
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.PDFJob: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.PDFJob, error) {
	var job domain.PDFJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetActiveByFileHash returns an in-flight job for the same document, if
// any, so a re-uploaded file attaches to the running job instead of
// spawning a second one.
func (r *JobRepository) GetActiveByFileHash(ctx context.Context, fileHash string) (*domain.PDFJob, error) {
	var job domain.PDFJob
	err := r.db.WithContext(ctx).
		Where("file_hash = ? AND status IN ?", fileHash,
			[]domain.JobInternalStatus{
				domain.JobUploaded, domain.JobEvaluating, domain.JobEvaluated,
				domain.JobProcessing, domain.JobDegradedHuman, domain.JobOrphaned,
			}).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Save persists all fields of a job, keeping the derived user status in sync.
func (r *JobRepository) Save(ctx context.Context, job *domain.PDFJob) error {
	job.SyncUserStatus()
	return r.db.WithContext(ctx).Save(job).Error
}

// TransitionStatus performs a conditional status transition.
// The update applies only if the job currently holds one of the expected
// statuses; otherwise ErrStaleUpdate is returned. This makes finalization
// and reconciliation passes idempotent under races.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - from: statuses the job must currently be in.
//   - to: target status.
// Returns:
//   - error: ErrStaleUpdate if no row matched; non-nil on database failure.
func (r *JobRepository) TransitionStatus(ctx context.Context, id string, from []domain.JobInternalStatus, to domain.JobInternalStatus) error {
	updates := map[string]interface{}{
		"status":      to,
		"user_status": domain.ComputeUserStatus(to),
		"updated_at":  time.Now(),
	}
	if to == domain.JobFullImported || to == domain.JobPartialFailed || to == domain.JobPartialImported {
		updates["completed_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).Model(&domain.PDFJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s -> %s: %w", id, to, ErrStaleUpdate)
	}
	return nil
}

// ClaimForEvaluation atomically claims an UPLOADED job for a worker.
// Returns ErrStaleUpdate when another worker already claimed it.
func (r *JobRepository) ClaimForEvaluation(ctx context.Context, id, workerID string) error {
	res := r.db.WithContext(ctx).Model(&domain.PDFJob{}).
		Where("id = ? AND status = ?", id, domain.JobUploaded).
		Updates(map[string]interface{}{
			"status":      domain.JobEvaluating,
			"user_status": domain.ComputeUserStatus(domain.JobEvaluating),
			"worker_id":   workerID,
			"started_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// CompleteEvaluation records the routing verdict and moves the job out of
// EVALUATING in one conditional update. A requeued job being re-evaluated
// elsewhere makes the condition fail, which callers treat as already done.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - route: routing verdict.
//   - degradeReason: non-empty when the evaluation degraded.
//   - frozenVersion: config version frozen for the rest of the job.
//   - to: EVALUATED or DEGRADED_HUMAN.
// Returns:
//   - error: ErrStaleUpdate when the job left EVALUATING; non-nil on failure.
func (r *JobRepository) CompleteEvaluation(ctx context.Context, id string, route domain.RouteDecision, degradeReason, frozenVersion string, to domain.JobInternalStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.PDFJob{}).
		Where("id = ? AND status = ?", id, domain.JobEvaluating).
		Updates(map[string]interface{}{
			"status":                to,
			"user_status":           domain.ComputeUserStatus(to),
			"route_decision":        route,
			"degrade_reason":        degradeReason,
			"frozen_config_version": frozenVersion,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// AdvanceCheckpoint moves the job checkpoint forward.
// The checkpoint only advances; a smaller page number is ignored so that
// out-of-order page completions cannot roll it back.
func (r *JobRepository) AdvanceCheckpoint(ctx context.Context, id string, page, skuDelta int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.PDFJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"checkpoint_page": gorm.Expr("CASE WHEN checkpoint_page < ? THEN ? ELSE checkpoint_page END", page, page),
			"checkpoint_skus": gorm.Expr("checkpoint_skus + ?", skuDelta),
			"checkpoint_at":   now,
		}).Error
}

// UpdatePageSets replaces the five page-number partition sets.
func (r *JobRepository) UpdatePageSets(ctx context.Context, tx *gorm.DB, id string, blank, ai, human, skipped, failed domain.IntArray) error {
	db := tx
	if db == nil {
		db = r.db.WithContext(ctx)
	}
	return db.Model(&domain.PDFJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"blank_pages":   blank,
			"ai_pages":      ai,
			"human_pages":   human,
			"skipped_pages": skipped,
			"failed_pages":  failed,
		}).Error
}

// ListByStatus returns jobs currently in any of the given statuses.
func (r *JobRepository) ListByStatus(ctx context.Context, statuses []domain.JobInternalStatus, limit int) ([]domain.PDFJob, error) {
	var jobs []domain.PDFJob
	q := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListOwnedByWorkers returns in-flight jobs owned by the given workers.
func (r *JobRepository) ListOwnedByWorkers(ctx context.Context, workerIDs []string) ([]domain.PDFJob, error) {
	var jobs []domain.PDFJob
	err := r.db.WithContext(ctx).
		Where("worker_id IN ? AND status IN ?", workerIDs,
			[]domain.JobInternalStatus{domain.JobEvaluating, domain.JobProcessing}).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkOrphaned flips an in-flight job to ORPHANED, recording the time.
func (r *JobRepository) MarkOrphaned(ctx context.Context, id string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.PDFJob{}).
		Where("id = ? AND status IN ?", id,
			[]domain.JobInternalStatus{domain.JobEvaluating, domain.JobProcessing}).
		Updates(map[string]interface{}{
			"status":      domain.JobOrphaned,
			"user_status": domain.ComputeUserStatus(domain.JobOrphaned),
			"orphaned_at": now,
			"worker_id":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// Requeue returns an orphaned job to the upload queue and bumps the
// requeue counter. Callers enforce the requeue ceiling and cooldown.
func (r *JobRepository) Requeue(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.PDFJob{}).
		Where("id = ? AND status = ?", id, domain.JobOrphaned).
		Updates(map[string]interface{}{
			"status":        domain.JobUploaded,
			"user_status":   domain.ComputeUserStatus(domain.JobUploaded),
			"requeue_count": gorm.Expr("requeue_count + 1"),
			"worker_id":     "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}
