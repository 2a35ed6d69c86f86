package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/haoran/skuflow/internal/domain"
)

func newJob(status domain.JobInternalStatus) *domain.PDFJob {
	return &domain.PDFJob{
		ID:       uuid.NewString(),
		FileName: "catalog.pdf",
		FileHash: uuid.NewString(),
		Status:   status,
	}
}

func TestTransitionStatusIsConditional(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := newJob(domain.JobProcessing)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	from := []domain.JobInternalStatus{domain.JobProcessing, domain.JobPartialFailed}
	if err := repo.TransitionStatus(ctx, job.ID, from, domain.JobFullImported); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	// A second finalizer racing on the same job must see a no-op.
	if err := repo.TransitionStatus(ctx, job.ID, from, domain.JobFullImported); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("second transition must be stale, got %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.JobFullImported {
		t.Errorf("status = %s, want FULL_IMPORTED", got.Status)
	}
	if got.UserStatus != domain.ComputeUserStatus(domain.JobFullImported) {
		t.Errorf("user status not derived: %s", got.UserStatus)
	}
	if got.CompletedAt == nil {
		t.Error("terminal transition must stamp completed_at")
	}
}

func TestClaimForEvaluationSingleWinner(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := newJob(domain.JobUploaded)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.ClaimForEvaluation(ctx, job.ID, "w1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := repo.ClaimForEvaluation(ctx, job.ID, "w2"); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("second claim must lose, got %v", err)
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.WorkerID != "w1" || got.Status != domain.JobEvaluating {
		t.Errorf("claim state: worker=%s status=%s", got.WorkerID, got.Status)
	}
}

func TestAdvanceCheckpointNeverRollsBack(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	job := newJob(domain.JobProcessing)
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.AdvanceCheckpoint(ctx, job.ID, 5, 3); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// An out-of-order completion for an earlier page must not move the
	// page watermark backwards, but its SKU delta still counts.
	if err := repo.AdvanceCheckpoint(ctx, job.ID, 3, 2); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.CheckpointPage != 5 {
		t.Errorf("checkpoint page = %d, want 5", got.CheckpointPage)
	}
	if got.CheckpointSKUs != 5 {
		t.Errorf("checkpoint skus = %d, want 5", got.CheckpointSKUs)
	}
}
