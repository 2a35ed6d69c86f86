// Package collab owns the human side of the pipeline: the task state
// machine, exclusive task locks, annotator dispatch and SLA escalation.
package collab

import (
	"context"

	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/apperr"
	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

// validTransitions is the complete task state machine. Any transition
// not listed here is rejected before touching the database.
var validTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskCreated:    {domain.TaskAssigned, domain.TaskProcessing, domain.TaskEscalated, domain.TaskSkipped},
	domain.TaskAssigned:   {domain.TaskProcessing, domain.TaskCreated, domain.TaskEscalated, domain.TaskSkipped},
	domain.TaskProcessing: {domain.TaskCompleted, domain.TaskSkipped, domain.TaskCreated, domain.TaskEscalated},
	domain.TaskEscalated:  {domain.TaskProcessing, domain.TaskAssigned, domain.TaskCompleted, domain.TaskSkipped},
	domain.TaskCompleted:  {domain.TaskCreated}, // rework only
	domain.TaskSkipped:    {},
}

// CanTransition reports whether from -> to is a legal task transition.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TaskManager applies task state changes with audit rows and keeps the
// owning page's status in sync.
type TaskManager struct {
	tasks      *repository.TaskRepository
	pages      *repository.PageRepository
	annotators *repository.AnnotatorRepository
	events     *events.Dispatcher
}

// NewTaskManager creates a task manager.
func NewTaskManager(tasks *repository.TaskRepository, pages *repository.PageRepository, annotators *repository.AnnotatorRepository, dispatcher *events.Dispatcher) *TaskManager {
	return &TaskManager{tasks: tasks, pages: pages, annotators: annotators, events: dispatcher}
}

// Complete finishes a task held by actor. SKU corrections are applied
// by the caller beforehand; this settles the state machine, the audit
// trail and the page status in one transaction.
func (m *TaskManager) Complete(ctx context.Context, taskID, actor string) error {
	return m.finish(ctx, taskID, actor, domain.TaskCompleted, "completed by annotator")
}

// Skip abandons a task held by actor. The page is marked SKIPPED and
// never returns to the queue.
func (m *TaskManager) Skip(ctx context.Context, taskID, actor, reason string) error {
	if reason == "" {
		reason = "skipped by annotator"
	}
	return m.finish(ctx, taskID, actor, domain.TaskSkipped, reason)
}

func (m *TaskManager) finish(ctx context.Context, taskID, actor string, to domain.TaskStatus, reason string) error {
	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.LockedBy != actor {
		return apperr.New(apperr.CodeTaskAlreadyLocked, apperr.SeverityWarning, "task %s is not held by %s", taskID, actor)
	}
	if !CanTransition(task.Status, to) {
		return apperr.New(apperr.CodeInvalidTransition, apperr.SeverityWarning, "task %s: illegal transition %s -> %s", taskID, task.Status, to)
	}

	from := task.Status
	err = m.tasks.Tx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&domain.HumanTask{}).
			Where("id = ? AND status = ? AND locked_by = ?", taskID, from, actor).
			Updates(map[string]interface{}{
				"status":       to,
				"locked_by":    "",
				"locked_at":    nil,
				"heartbeat_at": nil,
				"completed_at": gorm.Expr("CURRENT_TIMESTAMP"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrStaleUpdate
		}
		return m.tasks.AppendTransition(ctx, tx, taskID, from, to, actor, reason)
	})
	if err != nil {
		return err
	}

	m.syncPage(ctx, task, to)
	if m.annotators != nil && task.AssignedTo != "" {
		outcome := 1.0
		if to == domain.TaskSkipped {
			outcome = 0
		}
		if err := m.annotators.RecordCompletion(ctx, task.AssignedTo, outcome); err != nil {
			logger.CtxWarn(ctx, "annotator stats update failed: %v", err)
		}
	}
	m.events.Publish(ctx, events.Event{
		Topic:   events.TopicTaskCompleted,
		JobID:   task.JobID,
		Payload: map[string]interface{}{"task_id": taskID, "status": string(to)},
	})
	return nil
}

// Revert sends a completed task back for rework. At the rework ceiling
// the call fails without mutating anything; the task stays COMPLETED
// and the caller must escalate through another channel.
func (m *TaskManager) Revert(ctx context.Context, taskID, actor, reason string) error {
	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskCompleted {
		return apperr.New(apperr.CodeInvalidTransition, apperr.SeverityWarning, "task %s is %s, only completed tasks revert", taskID, task.Status)
	}
	if task.ReworkCount >= domain.MaxReworkCount {
		return apperr.New(apperr.CodeReworkLimit, apperr.SeverityWarning,
			"task %s reached the rework ceiling (%d)", taskID, domain.MaxReworkCount)
	}

	err = m.tasks.Tx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&domain.HumanTask{}).
			Where("id = ? AND status = ? AND rework_count < ?", taskID, domain.TaskCompleted, domain.MaxReworkCount).
			Updates(map[string]interface{}{
				"status":       domain.TaskCreated,
				"rework_count": gorm.Expr("rework_count + 1"),
				"completed_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrStaleUpdate
		}
		return m.tasks.AppendTransition(ctx, tx, taskID, domain.TaskCompleted, domain.TaskCreated, actor, reason)
	})
	if err != nil {
		return err
	}

	m.syncPage(ctx, task, domain.TaskCreated)
	logger.CtxInfo(ctx, "task reverted for rework: task_id=%s rework=%d", taskID, task.ReworkCount+1)
	return nil
}

// syncPage mirrors the task outcome onto the owning page's latest
// attempt. Best-effort: a failure logs and leaves the page to the
// reconciler.
func (m *TaskManager) syncPage(ctx context.Context, task *domain.HumanTask, to domain.TaskStatus) {
	if task.PageNumber == 0 {
		return
	}
	var pageStatus domain.PageStatus
	switch to {
	case domain.TaskCompleted:
		pageStatus = domain.PageHumanCompleted
	case domain.TaskSkipped:
		pageStatus = domain.PageSkipped
	case domain.TaskCreated:
		pageStatus = domain.PageHumanQueued
	default:
		return
	}

	latest, err := m.pages.ListLatestByJob(ctx, task.JobID)
	if err != nil {
		logger.CtxWarn(ctx, "page sync lookup failed: %v", err)
		return
	}
	for _, p := range latest {
		if p.PageNumber == task.PageNumber {
			if err := m.pages.UpdateStatus(ctx, p.ID, pageStatus, ""); err != nil {
				logger.CtxWarn(ctx, "page sync failed: page=%d: %v", task.PageNumber, err)
			}
			return
		}
	}
}
