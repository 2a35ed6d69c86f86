package repository

import (
	"context"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkerRepository handles the worker liveness registry.
type WorkerRepository struct {
	db *gorm.DB
}

// NewWorkerRepository creates a new WorkerRepository.
func NewWorkerRepository(db *gorm.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Beat upserts the heartbeat row for a worker, marking it ALIVE.
func (r *WorkerRepository) Beat(ctx context.Context, workerID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":       domain.WorkerAlive,
			"heartbeat_at": now,
		}),
	}).Create(&domain.WorkerHeartbeat{
		WorkerID:    workerID,
		Status:      domain.WorkerAlive,
		HeartbeatAt: now,
		StartedAt:   now,
	}).Error
}

// MarkStale flips workers whose heartbeat predates the cutoff and returns
// the affected worker IDs. SUSPECT is set at one TTL, DEAD at two.
func (r *WorkerRepository) MarkStale(ctx context.Context, suspectCutoff, deadCutoff time.Time) ([]string, error) {
	var stale []domain.WorkerHeartbeat
	err := r.db.WithContext(ctx).
		Where("heartbeat_at < ? AND status != ?", suspectCutoff, domain.WorkerDead).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(stale))
	for _, w := range stale {
		status := domain.WorkerSuspect
		if w.HeartbeatAt.Before(deadCutoff) {
			status = domain.WorkerDead
		}
		if err := r.db.WithContext(ctx).Model(&domain.WorkerHeartbeat{}).
			Where("worker_id = ?", w.WorkerID).
			Update("status", status).Error; err != nil {
			return nil, err
		}
		if status == domain.WorkerDead {
			ids = append(ids, w.WorkerID)
		}
	}
	return ids, nil
}

// UsageToday returns (creating if absent) today's shared LLM usage row.
func (r *WorkerRepository) UsageToday(ctx context.Context) (*domain.LLMUsage, error) {
	day := time.Now().UTC().Format("2006-01-02")
	var usage domain.LLMUsage
	err := r.db.WithContext(ctx).
		Where(domain.LLMUsage{Day: day}).
		FirstOrCreate(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// UsedTodayUSD returns today's accumulated LLM spend.
func (r *WorkerRepository) UsedTodayUSD(ctx context.Context) (float64, error) {
	usage, err := r.UsageToday(ctx)
	if err != nil {
		return 0, err
	}
	return usage.CostUSD, nil
}

// RecordUsage atomically accumulates cost and token counters for today.
func (r *WorkerRepository) RecordUsage(ctx context.Context, costUSD float64, tokens int64) error {
	day := time.Now().UTC().Format("2006-01-02")
	if _, err := r.UsageToday(ctx); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&domain.LLMUsage{}).
		Where("day = ?", day).
		Updates(map[string]interface{}{
			"cost_usd": gorm.Expr("cost_usd + ?", costUSD),
			"requests": gorm.Expr("requests + 1"),
			"tokens":   gorm.Expr("tokens + ?", tokens),
		}).Error
}
