package collab

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

// SLA escalation ladder, strictly increasing. A task climbs one level
// at a time as it ages; each level is applied at most once.
const (
	slaHighAfter     = 15 * time.Minute  // level 1: priority HIGH
	slaCriticalAfter = 30 * time.Minute  // level 2: priority CRITICAL
	slaAutoAfter     = 120 * time.Minute // level 3: auto quality check
	slaForcedAfter   = 180 * time.Minute // level 4: forced partial accept

	// autoAcceptMinConf gates level-3 auto acceptance on the AI result.
	autoAcceptMinConf = 0.6

	// auditSampleRate sends a fraction of auto-accepted tasks to audit.
	auditSampleRate = 0.05

	slaScanInterval = time.Minute
)

// SLAScanner ages open tasks through the escalation ladder.
type SLAScanner struct {
	tasks    *repository.TaskRepository
	manager  *TaskManager
	notifier *Notifier

	mu  sync.Mutex
	rng *rand.Rand

	// roll draws the audit sample; tests pin it.
	roll func() float64
}

// NewSLAScanner creates a scanner. The manager is used to settle
// auto-accepted tasks through the normal state machine; the notifier
// carries critical escalations to the supervisor channel.
func NewSLAScanner(tasks *repository.TaskRepository, manager *TaskManager, notifier *Notifier, seed int64) *SLAScanner {
	s := &SLAScanner{
		tasks:    tasks,
		manager:  manager,
		notifier: notifier,
		rng:      rand.New(rand.NewSource(seed)),
	}
	s.roll = func() float64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.rng.Float64()
	}
	return s
}

// Run scans once a minute until ctx is cancelled.
func (s *SLAScanner) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "sla_scanner")
	ticker := time.NewTicker(slaScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan applies one escalation step to every overdue open task.
func (s *SLAScanner) Scan(ctx context.Context) {
	cutoff := time.Now().Add(-slaHighAfter)
	overdue, err := s.tasks.ListOpenOlderThan(ctx, cutoff)
	if err != nil {
		logger.CtxError(ctx, "SLA scan failed: %v", err)
		return
	}
	for i := range overdue {
		s.escalate(ctx, &overdue[i])
	}
}

func (s *SLAScanner) escalate(ctx context.Context, task *domain.HumanTask) {
	age := time.Since(task.CreatedAt)
	target := levelFor(age)
	if target <= task.EscalatedLevel {
		return
	}
	ctx = logger.SetTaskID(ctx, task.ID)

	// One level per scan keeps escalations ordered and auditable.
	next := task.EscalatedLevel + 1
	switch next {
	case 1:
		s.bumpPriority(ctx, task, next, domain.PriorityHigh)
	case 2:
		if err := s.bumpPriority(ctx, task, next, domain.PriorityCritical); err == nil {
			if nerr := s.notifier.NotifySupervisor(ctx, task, "task past critical SLA threshold"); nerr != nil {
				logger.CtxWarn(ctx, "supervisor notification failed: %v", nerr)
			}
		}
	case 3:
		s.autoQualityCheck(ctx, task)
	default:
		s.forcedAccept(ctx, task)
	}
}

func levelFor(age time.Duration) int {
	switch {
	case age >= slaForcedAfter:
		return 4
	case age >= slaAutoAfter:
		return 3
	case age >= slaCriticalAfter:
		return 2
	case age >= slaHighAfter:
		return 1
	}
	return 0
}

func (s *SLAScanner) bumpPriority(ctx context.Context, task *domain.HumanTask, level int, priority domain.TaskPriority) error {
	res := s.tasks.Tx(ctx, func(tx *gorm.DB) error {
		r := tx.Model(&domain.HumanTask{}).
			Where("id = ? AND escalated_level = ?", task.ID, task.EscalatedLevel).
			Updates(map[string]interface{}{
				"priority":        priority,
				"claim_rank":      priority.ClaimRank(),
				"escalated_level": level,
			})
		if r.Error != nil {
			return r.Error
		}
		if r.RowsAffected == 0 {
			return repository.ErrStaleUpdate
		}
		return nil
	})
	if res != nil {
		return res
	}
	logger.CtxWarn(ctx, "task escalated: level=%d priority=%s age=%s", level, priority, time.Since(task.CreatedAt).Round(time.Minute))
	return nil
}

// autoQualityCheck settles tasks whose AI result was good enough to
// ship without a human: accept, and sample a fraction for audit.
func (s *SLAScanner) autoQualityCheck(ctx context.Context, task *domain.HumanTask) {
	if task.AIConfidence < autoAcceptMinConf || task.Status == domain.TaskProcessing {
		// Not auto-acceptable; record the level so the next scan can
		// move to forced acceptance once the window passes. The task
		// drops to AUTO_RESOLVE rank so it sits at the queue head for
		// whoever frees up first.
		s.setLevel(ctx, task, 3)
		return
	}

	audit := s.roll() < auditSampleRate

	err := s.tasks.Tx(ctx, func(tx *gorm.DB) error {
		r := tx.Model(&domain.HumanTask{}).
			Where("id = ? AND escalated_level = ? AND status IN ?",
				task.ID, task.EscalatedLevel,
				[]domain.TaskStatus{domain.TaskCreated, domain.TaskAssigned, domain.TaskEscalated}).
			Updates(map[string]interface{}{
				"status":          domain.TaskCompleted,
				"priority":        domain.PriorityAutoResolve,
				"claim_rank":      domain.PriorityAutoResolve.ClaimRank(),
				"escalated_level": 3,
				"auto_accepted":   true,
				"audit_sampled":   audit,
				"completed_at":    time.Now(),
			})
		if r.Error != nil {
			return r.Error
		}
		if r.RowsAffected == 0 {
			return repository.ErrStaleUpdate
		}
		if err := s.tasks.AppendTransition(ctx, tx, task.ID, task.Status, domain.TaskCompleted, "sla_scanner", "auto-accepted on SLA timeout"); err != nil {
			return err
		}
		if !audit {
			return nil
		}
		// The audit sample goes back to the queue as a review task so a
		// human re-checks the auto-accepted result.
		review := &domain.HumanTask{
			ID:         uuid.New().String(),
			JobID:      task.JobID,
			TaskType:   domain.TaskSLAReview,
			PageNumber: task.PageNumber,
			Status:     domain.TaskCreated,
			Priority:   domain.PriorityHigh,
			ClaimRank:  domain.PriorityHigh.ClaimRank(),
			Context:    domain.JSONMap{"source_task_id": task.ID},
		}
		return tx.Create(review).Error
	})
	if err != nil {
		return
	}
	s.manager.syncPage(ctx, task, domain.TaskCompleted)
	logger.CtxWarn(ctx, "task auto-accepted on SLA timeout: conf=%.2f audit=%v", task.AIConfidence, audit)
}

// forcedAccept closes out tasks that outlived every other remedy. The
// page ships with whatever the AI produced, flagged for later audit.
func (s *SLAScanner) forcedAccept(ctx context.Context, task *domain.HumanTask) {
	err := s.tasks.Tx(ctx, func(tx *gorm.DB) error {
		r := tx.Model(&domain.HumanTask{}).
			Where("id = ? AND escalated_level = ? AND status != ?", task.ID, task.EscalatedLevel, domain.TaskCompleted).
			Updates(map[string]interface{}{
				"status":          domain.TaskCompleted,
				"locked_by":       "",
				"locked_at":       nil,
				"heartbeat_at":    nil,
				"escalated_level": 4,
				"auto_accepted":   true,
				"audit_sampled":   true,
				"completed_at":    time.Now(),
			})
		if r.Error != nil {
			return r.Error
		}
		if r.RowsAffected == 0 {
			return repository.ErrStaleUpdate
		}
		return s.tasks.AppendTransition(ctx, tx, task.ID, task.Status, domain.TaskCompleted, "sla_scanner", "forced partial accept after SLA exhaustion")
	})
	if err != nil {
		return
	}
	s.manager.syncPage(ctx, task, domain.TaskCompleted)
	logger.CtxError(ctx, "task force-accepted after SLA exhaustion: age=%s", time.Since(task.CreatedAt).Round(time.Minute))
}

func (s *SLAScanner) setLevel(ctx context.Context, task *domain.HumanTask, level int) {
	err := s.tasks.Tx(ctx, func(tx *gorm.DB) error {
		return tx.Model(&domain.HumanTask{}).
			Where("id = ? AND escalated_level < ?", task.ID, level).
			Updates(map[string]interface{}{
				"escalated_level": level,
				"priority":        domain.PriorityAutoResolve,
				"claim_rank":      domain.PriorityAutoResolve.ClaimRank(),
			}).Error
	})
	if err != nil {
		logger.CtxWarn(ctx, "escalation level update failed: %v", err)
	}
}
