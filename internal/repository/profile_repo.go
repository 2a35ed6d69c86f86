package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/haoran/skuflow/internal/apperr"
	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
)

// ProfileRepository handles the append-only threshold profile store.
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ActiveByName returns the active version of a named profile.
func (r *ProfileRepository) ActiveByName(ctx context.Context, name string) (*domain.ThresholdProfile, error) {
	var p domain.ThresholdProfile
	err := r.db.WithContext(ctx).
		Where("name = ? AND active = ?", name, true).
		Order("version DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ByConfigVersion resolves a frozen config identifier {name}:{version}.
func (r *ProfileRepository) ByConfigVersion(ctx context.Context, configVersion string) (*domain.ThresholdProfile, error) {
	name, verStr, ok := strings.Cut(configVersion, ":")
	if !ok {
		return nil, fmt.Errorf("malformed config version %q", configVersion)
	}
	version, err := strconv.Atoi(verStr)
	if err != nil {
		return nil, fmt.Errorf("malformed config version %q: %w", configVersion, err)
	}
	var p domain.ThresholdProfile
	if err := r.db.WithContext(ctx).
		First(&p, "name = ? AND version = ?", name, version).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Append writes a new profile version and deactivates the previous one.
//
// The caller states the version it based its edit on (expectedVersion);
// if the active version moved meanwhile the write is rejected with a
// PROFILE_VERSION_CONFLICT error. Invariant violations are rejected
// before any write.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - next: profile content for the new version (Version is assigned here).
//   - expectedVersion: active version the caller saw; 0 for a new name.
// Returns:
//   - *domain.ThresholdProfile: the stored new version.
//   - error: non-nil on invariant violation, version conflict, or db failure.
func (r *ProfileRepository) Append(ctx context.Context, next *domain.ThresholdProfile, expectedVersion int) (*domain.ThresholdProfile, error) {
	if err := next.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeProfileInvariant, apperr.SeverityError, err, "profile rejected")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.ThresholdProfile
		err := tx.Where("name = ? AND active = ?", next.Name, true).
			Order("version DESC").
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if expectedVersion != 0 {
				return apperr.New(apperr.CodeProfileConflict, apperr.SeverityWarning,
					"profile %s does not exist at version %d", next.Name, expectedVersion)
			}
			next.Version = 1
		case err != nil:
			return err
		default:
			if current.Version != expectedVersion {
				return apperr.New(apperr.CodeProfileConflict, apperr.SeverityWarning,
					"profile %s moved to version %d, expected %d", next.Name, current.Version, expectedVersion)
			}
			res := tx.Model(&domain.ThresholdProfile{}).
				Where("id = ? AND active = ?", current.ID, true).
				Update("active", false)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.New(apperr.CodeProfileConflict, apperr.SeverityWarning,
					"profile %s version %d concurrently deactivated", next.Name, current.Version)
			}
			next.Version = current.Version + 1
		}

		next.ID = uuid.New().String()
		next.Active = true
		return tx.Create(next).Error
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// EnsureDefault seeds the built-in default profile if no version exists.
func (r *ProfileRepository) EnsureDefault(ctx context.Context) (*domain.ThresholdProfile, error) {
	p, err := r.ActiveByName(ctx, "default")
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return r.Append(ctx, domain.DefaultProfile(), 0)
}

// ListVersions returns all versions of a named profile, newest first.
func (r *ProfileRepository) ListVersions(ctx context.Context, name string) ([]domain.ThresholdProfile, error) {
	var out []domain.ThresholdProfile
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		Order("version DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
