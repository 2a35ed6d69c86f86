package repository

import (
	"context"
	"errors"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EvalRepository handles evaluation rows and the lease lock table.
type EvalRepository struct {
	db *gorm.DB
}

// NewEvalRepository creates a new EvalRepository.
func NewEvalRepository(db *gorm.DB) *EvalRepository {
	return &EvalRepository{db: db}
}

// GetByCacheKey retrieves an evaluation by its cache key.
// Returns (nil, nil) on a clean miss.
func (r *EvalRepository) GetByCacheKey(ctx context.Context, cacheKey string) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	err := r.db.WithContext(ctx).First(&eval, "cache_key = ?", cacheKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &eval, nil
}

// Save upserts an evaluation keyed by cache key. Two jobs sharing a file
// hash may both finish an evaluation under rare lock-expiry races; last
// write wins, the results are equivalent.
func (r *EvalRepository) Save(ctx context.Context, eval *domain.Evaluation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(eval).Error
}

// AcquireLease atomically acquires or takes over a named TTL lease.
// Acquisition succeeds when no row exists, the row is expired, or the
// caller already holds it (reentrant renew-on-acquire).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lease name.
//   - holder: caller identity.
//   - ttl: lease duration.
// Returns:
//   - bool: true if the lease is held by the caller on return.
//   - error: non-nil on database failure.
func (r *EvalRepository) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl)

	// Fast path: take over an expired or self-held lease.
	res := r.db.WithContext(ctx).Model(&domain.Lease{}).
		Where("key = ? AND (expires_at < ? OR holder = ?)", key, now, holder).
		Updates(map[string]interface{}{"holder": holder, "expires_at": expires})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// Try a fresh insert; a conflict means someone else holds it.
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Lease{Key: key, Holder: holder, ExpiresAt: expires}).Error
	if err != nil {
		return false, err
	}
	var lease domain.Lease
	if err := r.db.WithContext(ctx).First(&lease, "key = ?", key).Error; err != nil {
		return false, err
	}
	return lease.Holder == holder && lease.ExpiresAt.After(now), nil
}

// RenewLease extends a held lease. Returns ErrStaleUpdate if lost.
func (r *EvalRepository) RenewLease(ctx context.Context, key, holder string, ttl time.Duration) error {
	res := r.db.WithContext(ctx).Model(&domain.Lease{}).
		Where("key = ? AND holder = ?", key, holder).
		Update("expires_at", time.Now().Add(ttl))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// ReleaseLease drops a held lease. Releasing a lost lease is a no-op.
func (r *EvalRepository) ReleaseLease(ctx context.Context, key, holder string) error {
	return r.db.WithContext(ctx).
		Where("key = ? AND holder = ?", key, holder).
		Delete(&domain.Lease{}).Error
}
