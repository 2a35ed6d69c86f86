package collab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/repository"
)

func newTestRepos(t *testing.T) (*repository.TaskRepository, *TaskManager) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tasks := repository.NewTaskRepository(db)
	bus := events.NewDispatcher(8)
	t.Cleanup(bus.Close)
	manager := NewTaskManager(tasks, repository.NewPageRepository(db), repository.NewAnnotatorRepository(db), bus)
	return tasks, manager
}

func seedOverdueTask(t *testing.T, tasks *repository.TaskRepository, age time.Duration, level int, conf float64) *domain.HumanTask {
	t.Helper()
	task := &domain.HumanTask{
		ID:             uuid.NewString(),
		JobID:          "job-1",
		TaskType:       domain.TaskPageProcess,
		Status:         domain.TaskCreated,
		Priority:       domain.PriorityNormal,
		EscalatedLevel: level,
		AIConfidence:   conf,
		CreatedAt:      time.Now().Add(-age),
	}
	if err := tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestAutoQualityCheckAuditRequeuesReview(t *testing.T) {
	tasks, manager := newTestRepos(t)
	s := NewSLAScanner(tasks, manager, nil, 1)
	s.roll = func() float64 { return 0 } // force the audit sample

	task := seedOverdueTask(t, tasks, 130*time.Minute, 2, 0.9)
	s.escalate(context.Background(), task)

	got, err := tasks.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Status != domain.TaskCompleted || !got.AutoAccepted || !got.AuditSampled {
		t.Fatalf("task not audit-accepted: status=%s auto=%v audit=%v", got.Status, got.AutoAccepted, got.AuditSampled)
	}

	review, err := tasks.ClaimNext(context.Background(), "auditor")
	if err != nil {
		t.Fatalf("audit sample must leave a claimable review task: %v", err)
	}
	if review.TaskType != domain.TaskSLAReview {
		t.Errorf("review task type = %s, want %s", review.TaskType, domain.TaskSLAReview)
	}
	if review.Priority != domain.PriorityHigh {
		t.Errorf("review priority = %s, want HIGH", review.Priority)
	}
	if src, _ := review.Context["source_task_id"].(string); src != task.ID {
		t.Errorf("review source_task_id = %q, want %q", src, task.ID)
	}
}

func TestAutoQualityCheckWithoutAuditLeavesQueueEmpty(t *testing.T) {
	tasks, manager := newTestRepos(t)
	s := NewSLAScanner(tasks, manager, nil, 1)
	s.roll = func() float64 { return 1 } // never sample

	task := seedOverdueTask(t, tasks, 130*time.Minute, 2, 0.9)
	s.escalate(context.Background(), task)

	got, err := tasks.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Status != domain.TaskCompleted || got.AuditSampled {
		t.Fatalf("expected plain auto-accept, got status=%s audit=%v", got.Status, got.AuditSampled)
	}
	if _, err := tasks.ClaimNext(context.Background(), "auditor"); !errors.Is(err, repository.ErrNoTaskAvailable) {
		t.Fatalf("no review task expected, claim returned %v", err)
	}
}

func TestCriticalEscalationNotifiesSupervisor(t *testing.T) {
	var hits int
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		body = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tasks, manager := newTestRepos(t)
	s := NewSLAScanner(tasks, manager, NewNotifier(srv.URL), 1)

	task := seedOverdueTask(t, tasks, 35*time.Minute, 1, 0.9)
	s.escalate(context.Background(), task)

	got, err := tasks.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Priority != domain.PriorityCritical || got.EscalatedLevel != 2 {
		t.Fatalf("task not escalated to critical: priority=%s level=%d", got.Priority, got.EscalatedLevel)
	}
	if hits != 1 {
		t.Fatalf("supervisor webhook hit %d times, want 1", hits)
	}
	if !strings.Contains(body, task.ID) {
		t.Errorf("alert payload missing task ID: %s", body)
	}
}

func TestRejectedAutoCheckDemotesToAutoResolve(t *testing.T) {
	tasks, manager := newTestRepos(t)
	s := NewSLAScanner(tasks, manager, nil, 1)

	task := seedOverdueTask(t, tasks, 130*time.Minute, 2, 0.3)
	s.escalate(context.Background(), task)

	got, err := tasks.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Status != domain.TaskCreated {
		t.Fatalf("low-confidence task must stay open, got %s", got.Status)
	}
	if got.EscalatedLevel != 3 {
		t.Errorf("level = %d, want 3", got.EscalatedLevel)
	}
	if got.Priority != domain.PriorityAutoResolve || got.ClaimRank != domain.PriorityAutoResolve.ClaimRank() {
		t.Errorf("rejected task must drop to AUTO_RESOLVE, got priority=%s rank=%d", got.Priority, got.ClaimRank)
	}
}
