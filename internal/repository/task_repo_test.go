package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/haoran/skuflow/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps in-memory sqlite free of busy errors under
	// the concurrent-claim tests; the claim logic itself stays untouched.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA busy_timeout=5000")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTask(priority domain.TaskPriority) *domain.HumanTask {
	return &domain.HumanTask{
		ID:       uuid.NewString(),
		JobID:    "job-1",
		TaskType: domain.TaskPageProcess,
		Status:   domain.TaskCreated,
		Priority: priority,
	}
}

func TestClaimNextSingleWinner(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, newTask(domain.PriorityNormal)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	winners := make([]string, 0, claimers)
	var mu sync.Mutex
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			holder := string(rune('a' + n))
			task, err := repo.ClaimNext(ctx, holder)
			if err != nil {
				if !errors.Is(err, ErrNoTaskAvailable) {
					t.Errorf("claim %s: %v", holder, err)
				}
				return
			}
			mu.Lock()
			winners = append(winners, task.LockedBy)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d: %v", len(winners), winners)
	}
	var processing int64
	repo.db.Model(&domain.HumanTask{}).Where("status = ?", domain.TaskProcessing).Count(&processing)
	if processing != 1 {
		t.Errorf("processing rows = %d, want 1", processing)
	}
}

func TestClaimNextOrdersByPriority(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	normal := newTask(domain.PriorityNormal)
	urgent := newTask(domain.PriorityUrgent)
	if err := repo.Create(ctx, normal); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, urgent); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := repo.ClaimNext(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.ID != urgent.ID {
		t.Errorf("claimed %s first, want the urgent task", first.Priority)
	}
}

func TestClaimNextRespectsAssignment(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	task := newTask(domain.PriorityNormal)
	task.Status = domain.TaskAssigned
	task.AssignedTo = "alice"
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.ClaimNext(ctx, "bob"); !errors.Is(err, ErrNoTaskAvailable) {
		t.Fatalf("assigned task must be invisible to others, claim returned %v", err)
	}
	got, err := repo.ClaimNext(ctx, "alice")
	if err != nil {
		t.Fatalf("assignee claim: %v", err)
	}
	if got.LockedBy != "alice" || got.Status != domain.TaskProcessing {
		t.Errorf("claim state: locked_by=%s status=%s", got.LockedBy, got.Status)
	}
}

func TestHeartbeatRejectsNonHolder(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, newTask(domain.PriorityNormal)); err != nil {
		t.Fatalf("create: %v", err)
	}
	task, err := repo.ClaimNext(ctx, "holder")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.Heartbeat(ctx, task.ID, "intruder"); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("foreign heartbeat must fail with ErrStaleUpdate, got %v", err)
	}
	if err := repo.Heartbeat(ctx, task.ID, "holder"); err != nil {
		t.Errorf("holder heartbeat: %v", err)
	}
}
