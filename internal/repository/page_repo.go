package repository

import (
	"context"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
)

// PageRepository handles page, SKU, image and binding persistence.
type PageRepository struct {
	db *gorm.DB
}

// NewPageRepository creates a new PageRepository.
func NewPageRepository(db *gorm.DB) *PageRepository {
	return &PageRepository{db: db}
}

// CreateBatch inserts page rows in one statement.
func (r *PageRepository) CreateBatch(ctx context.Context, pages []domain.Page) error {
	if len(pages) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(pages, 100).Error
}

// GetAttempt retrieves a page row by (job, page number, attempt).
func (r *PageRepository) GetAttempt(ctx context.Context, jobID string, pageNumber, attemptNo int) (*domain.Page, error) {
	var page domain.Page
	err := r.db.WithContext(ctx).
		First(&page, "job_id = ? AND page_number = ? AND attempt_no = ?", jobID, pageNumber, attemptNo).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// ListLatestByJob returns the highest-attempt row per page number of a job.
func (r *PageRepository) ListLatestByJob(ctx context.Context, jobID string) ([]domain.Page, error) {
	var pages []domain.Page
	sub := r.db.Model(&domain.Page{}).
		Select("job_id, page_number, MAX(attempt_no) AS attempt_no").
		Where("job_id = ?", jobID).
		Group("job_id, page_number")
	err := r.db.WithContext(ctx).
		Joins("JOIN (?) latest ON pages.job_id = latest.job_id AND pages.page_number = latest.page_number AND pages.attempt_no = latest.attempt_no", sub).
		Order("pages.page_number ASC").
		Find(&pages).Error
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// UpdateStatus updates a page's status and optional error log.
func (r *PageRepository) UpdateStatus(ctx context.Context, id string, status domain.PageStatus, errorLog string) error {
	updates := map[string]interface{}{"status": status, "updated_at": time.Now()}
	if errorLog != "" {
		updates["error_log"] = errorLog
	}
	if status.IsTerminal() || status == domain.PageAICompleted || status == domain.PageHumanCompleted {
		updates["completed_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&domain.Page{}).Where("id = ?", id).Updates(updates).Error
}

// PageResult bundles everything produced by one page-processing attempt.
type PageResult struct {
	Page     *domain.Page
	SKUs     []domain.SKU
	Images   []domain.PageImage
	Bindings []domain.Binding
}

// PersistResult writes a page's processing output transactionally.
// The page row update and all child rows commit together so a crash can
// never record a page as done without its extracted data.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - res: page result bundle to persist.
//   - refreshSets: optional callback run inside the same transaction to
//     refresh the job-level page partition sets.
// Returns:
//   - error: non-nil if the transaction fails (fully rolled back).
func (r *PageRepository) PersistResult(ctx context.Context, res *PageResult, refreshSets func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(res.Page).Error; err != nil {
			return err
		}
		if len(res.SKUs) > 0 {
			if err := tx.CreateInBatches(res.SKUs, 100).Error; err != nil {
				return err
			}
		}
		if len(res.Images) > 0 {
			if err := tx.CreateInBatches(res.Images, 100).Error; err != nil {
				return err
			}
		}
		if len(res.Bindings) > 0 {
			if err := tx.CreateInBatches(res.Bindings, 100).Error; err != nil {
				return err
			}
		}
		if refreshSets != nil {
			return refreshSets(tx)
		}
		return nil
	})
}

// CountByStatus returns the page count per status for a job's latest attempts.
func (r *PageRepository) CountByStatus(ctx context.Context, jobID string) (map[domain.PageStatus]int, error) {
	pages, err := r.ListLatestByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.PageStatus]int)
	for _, p := range pages {
		counts[p.Status]++
	}
	return counts, nil
}

// ListSKUsByJob returns all SKUs of a job, optionally filtered by validity.
func (r *PageRepository) ListSKUsByJob(ctx context.Context, jobID string, validity domain.SKUValidity) ([]domain.SKU, error) {
	var skus []domain.SKU
	q := r.db.WithContext(ctx).Where("job_id = ?", jobID)
	if validity != "" {
		q = q.Where("validity = ?", validity)
	}
	if err := q.Order("page_number ASC, seq ASC").Find(&skus).Error; err != nil {
		return nil, err
	}
	return skus, nil
}

// ListSKUsByPage returns the SKUs extracted from one page.
func (r *PageRepository) ListSKUsByPage(ctx context.Context, jobID string, pageNumber int) ([]domain.SKU, error) {
	var skus []domain.SKU
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND page_number = ?", jobID, pageNumber).
		Order("seq ASC").
		Find(&skus).Error
	if err != nil {
		return nil, err
	}
	return skus, nil
}

// ListBoundImageKeys returns storage keys of images bound to a SKU,
// skipping ambiguous bindings (which carry no image).
func (r *PageRepository) ListBoundImageKeys(ctx context.Context, jobID, skuID string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Table("bindings").
		Select("page_images.storage_key").
		Joins("JOIN page_images ON page_images.id = bindings.image_id").
		Where("bindings.job_id = ? AND bindings.sku_id = ? AND bindings.image_id <> ''", jobID, skuID).
		Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// SupersedeSKU bumps a SKU's revision and provenance after correction.
// The old content is not deleted; the revision counter marks the change.
func (r *PageRepository) SupersedeSKU(ctx context.Context, id string, updates map[string]interface{}, source domain.AttributeSource) error {
	updates["revision"] = gorm.Expr("revision + 1")
	updates["attr_source"] = source
	return r.db.WithContext(ctx).Model(&domain.SKU{}).Where("id = ?", id).Updates(updates).Error
}
