package collab

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

const (
	defaultLockTimeout   = 300 * time.Second
	defaultSweepInterval = 60 * time.Second
)

// LockManager hands out exclusive task locks and reclaims abandoned
// ones. The task row is the lock; there is no separate lock table.
type LockManager struct {
	tasks      *repository.TaskRepository
	annotators *repository.AnnotatorRepository

	lockTimeout   time.Duration
	sweepInterval time.Duration
}

// NewLockManager creates a lock manager.
// Parameters:
//   - tasks: task repository backing the lock rows.
//   - annotators: annotator repository for load release on expiry.
//   - lockTimeout: heartbeat age after which a lock is considered dead.
//   - sweepInterval: how often the sweeper scans for dead locks.
// Returns:
//   - *LockManager: ready manager.
func NewLockManager(tasks *repository.TaskRepository, annotators *repository.AnnotatorRepository, lockTimeout, sweepInterval time.Duration) *LockManager {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &LockManager{
		tasks:         tasks,
		annotators:    annotators,
		lockTimeout:   lockTimeout,
		sweepInterval: sweepInterval,
	}
}

// Acquire claims the highest-priority unlocked task for holder.
// Returns repository.ErrNoTaskAvailable when the queue is drained.
func (l *LockManager) Acquire(ctx context.Context, holder string) (*domain.HumanTask, error) {
	task, err := l.tasks.ClaimNext(ctx, holder)
	if err != nil {
		return nil, err
	}
	if err := l.tasks.AppendTransition(ctx, nil, task.ID, domain.TaskCreated, domain.TaskProcessing, holder, "claimed"); err != nil {
		logger.CtxWarn(ctx, "claim audit row failed: %v", err)
	}
	return task, nil
}

// Heartbeat refreshes holder's lock on a task.
func (l *LockManager) Heartbeat(ctx context.Context, taskID, holder string) error {
	return l.tasks.Heartbeat(ctx, taskID, holder)
}

// Run sweeps for expired locks until ctx is cancelled.
func (l *LockManager) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "lock_sweeper")
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep reclaims every lock whose heartbeat went stale. Tasks below the
// rework ceiling go back to the queue with a bumped rework count; tasks
// at the ceiling are skipped for good.
func (l *LockManager) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-l.lockTimeout)
	expired, err := l.tasks.ListExpiredLocks(ctx, cutoff)
	if err != nil {
		logger.CtxError(ctx, "expired lock scan failed: %v", err)
		return
	}
	for i := range expired {
		l.reclaim(ctx, &expired[i])
	}
	if len(expired) > 0 {
		logger.CtxInfo(ctx, "reclaimed %d expired task locks", len(expired))
	}
}

func (l *LockManager) reclaim(ctx context.Context, task *domain.HumanTask) {
	to := domain.TaskCreated
	reason := "lock expired, requeued"
	if task.ReworkCount >= domain.MaxReworkCount {
		to = domain.TaskSkipped
		reason = "lock expired at rework ceiling"
	}
	holder := task.LockedBy

	err := l.tasks.Tx(ctx, func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":       to,
			"locked_by":    "",
			"locked_at":    nil,
			"heartbeat_at": nil,
		}
		if to == domain.TaskCreated {
			updates["rework_count"] = gorm.Expr("rework_count + 1")
		}
		res := tx.Model(&domain.HumanTask{}).
			Where("id = ? AND status = ? AND locked_by = ? AND heartbeat_at < ?",
				task.ID, domain.TaskProcessing, holder, time.Now().Add(-l.lockTimeout)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrStaleUpdate
		}
		return l.tasks.AppendTransition(ctx, tx, task.ID, domain.TaskProcessing, to, "lock_sweeper", reason)
	})
	if errors.Is(err, repository.ErrStaleUpdate) {
		return // holder came back or someone else reclaimed it
	}
	if err != nil {
		logger.CtxWarn(ctx, "lock reclaim failed: task_id=%s: %v", task.ID, err)
		return
	}

	if l.annotators != nil && task.AssignedTo != "" {
		if err := l.annotators.ReleaseActive(ctx, task.AssignedTo); err != nil {
			logger.CtxWarn(ctx, "annotator slot release failed: %v", err)
		}
	}
	logger.CtxWarn(ctx, "task lock expired: task_id=%s holder=%s -> %s", task.ID, holder, to)
}
