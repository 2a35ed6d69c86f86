package repository

import (
	"context"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportRepository handles downstream import bookkeeping.
type ImportRepository struct {
	db *gorm.DB
}

// NewImportRepository creates a new ImportRepository.
func NewImportRepository(db *gorm.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// Upsert creates or refreshes an import record keyed by idempotency key.
func (r *ImportRepository) Upsert(ctx context.Context, rec *domain.ImportRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// GetByIdemKey retrieves an import record by idempotency key.
func (r *ImportRepository) GetByIdemKey(ctx context.Context, key string) (*domain.ImportRecord, error) {
	var rec domain.ImportRecord
	if err := r.db.WithContext(ctx).First(&rec, "idempotency_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetConfirmation updates a record's confirmation state.
func (r *ImportRepository) SetConfirmation(ctx context.Context, id string, c domain.ImportConfirmation, lastError string) error {
	updates := map[string]interface{}{
		"confirmation": c,
		"attempts":     gorm.Expr("attempts + 1"),
		"updated_at":   time.Now(),
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	if c == domain.ImportConfirmed {
		updates["confirmed_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&domain.ImportRecord{}).Where("id = ?", id).Updates(updates).Error
}

// ListAssumed returns ASSUMED records, oldest first, for reconciliation.
func (r *ImportRepository) ListAssumed(ctx context.Context, limit int) ([]domain.ImportRecord, error) {
	var recs []domain.ImportRecord
	q := r.db.WithContext(ctx).
		Where("confirmation = ?", domain.ImportAssumed).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ListFailedOlderThan returns FAILED records created before the cutoff.
func (r *ImportRepository) ListFailedOlderThan(ctx context.Context, cutoff time.Time) ([]domain.ImportRecord, error) {
	var recs []domain.ImportRecord
	err := r.db.WithContext(ctx).
		Where("confirmation = ? AND created_at < ?", domain.ImportFailed, cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// CountUnconfirmedByJob returns how many of a job's records are not yet
// confirmed. Zero means the job can be finalized downstream.
func (r *ImportRepository) CountUnconfirmedByJob(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ImportRecord{}).
		Where("job_id = ? AND confirmation IN ?", jobID,
			[]domain.ImportConfirmation{domain.ImportPending, domain.ImportAssumed}).
		Count(&n).Error
	return n, err
}
