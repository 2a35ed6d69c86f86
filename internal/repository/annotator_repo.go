package repository

import (
	"context"

	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
)

// AnnotatorRepository handles annotator profiles and their load counters.
type AnnotatorRepository struct {
	db *gorm.DB
}

// NewAnnotatorRepository creates a new AnnotatorRepository.
func NewAnnotatorRepository(db *gorm.DB) *AnnotatorRepository {
	return &AnnotatorRepository{db: db}
}

// GetByID retrieves an annotator by ID.
func (r *AnnotatorRepository) GetByID(ctx context.Context, id string) (*domain.Annotator, error) {
	var a domain.Annotator
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// Save persists all fields of an annotator.
func (r *AnnotatorRepository) Save(ctx context.Context, a *domain.Annotator) error {
	return r.db.WithContext(ctx).Save(a).Error
}

// ListAvailable returns annotators accepting work with active load below
// the cap.
func (r *AnnotatorRepository) ListAvailable(ctx context.Context, maxActive int) ([]domain.Annotator, error) {
	var annotators []domain.Annotator
	err := r.db.WithContext(ctx).
		Where("available = ? AND active_tasks < ?", true, maxActive).
		Find(&annotators).Error
	if err != nil {
		return nil, err
	}
	return annotators, nil
}

// IncrementActive bumps the active-task counter on assignment. The
// condition keeps the counter below the cap under concurrent dispatch.
func (r *AnnotatorRepository) IncrementActive(ctx context.Context, id string, maxActive int) error {
	res := r.db.WithContext(ctx).Model(&domain.Annotator{}).
		Where("id = ? AND active_tasks < ?", id, maxActive).
		Update("active_tasks", gorm.Expr("active_tasks + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// RecordCompletion releases one active slot and updates the rolling
// accuracy with the task outcome (1 for accepted work, 0 for rejected).
func (r *AnnotatorRepository) RecordCompletion(ctx context.Context, id string, outcome float64) error {
	// Rolling mean over completed_tasks keeps accuracy cheap to maintain.
	return r.db.WithContext(ctx).Model(&domain.Annotator{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active_tasks":    gorm.Expr("CASE WHEN active_tasks > 0 THEN active_tasks - 1 ELSE 0 END"),
			"completed_tasks": gorm.Expr("completed_tasks + 1"),
			"accuracy":        gorm.Expr("(accuracy * completed_tasks + ?) / (completed_tasks + 1)", outcome),
		}).Error
}

// ReleaseActive frees one active slot without recording a completion,
// used when a task is reverted or its lock expires.
func (r *AnnotatorRepository) ReleaseActive(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.Annotator{}).
		Where("id = ?", id).
		Update("active_tasks", gorm.Expr("CASE WHEN active_tasks > 0 THEN active_tasks - 1 ELSE 0 END")).Error
}
