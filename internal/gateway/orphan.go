package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

const orphanScanInterval = 30 * time.Second

// OrphanScanner reclaims jobs whose worker stopped heartbeating.
// Dead workers' in-flight jobs go to ORPHANED; after a cooldown the job
// is requeued, up to a ceiling. Past the ceiling the job settles as
// partially failed, preserving whatever pages were already persisted.
type OrphanScanner struct {
	workers *repository.WorkerRepository
	jobs    *repository.JobRepository
	events  *events.Dispatcher

	heartbeatTTL time.Duration
	maxRequeue   int
	cooldown     time.Duration
}

// NewOrphanScanner wires the recovery loop.
func NewOrphanScanner(workers *repository.WorkerRepository, jobs *repository.JobRepository, dispatcher *events.Dispatcher, heartbeatTTL time.Duration, maxRequeue int, cooldown time.Duration) *OrphanScanner {
	return &OrphanScanner{
		workers:      workers,
		jobs:         jobs,
		events:       dispatcher,
		heartbeatTTL: heartbeatTTL,
		maxRequeue:   maxRequeue,
		cooldown:     cooldown,
	}
}

// Run scans on a fixed interval until the context ends.
func (s *OrphanScanner) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "orphan-scanner")
	ticker := time.NewTicker(orphanScanInterval)
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

// Scan runs one pass: orphan jobs of dead workers, then requeue cooled
// orphans.
func (s *OrphanScanner) Scan(ctx context.Context) {
	now := time.Now()
	dead, err := s.workers.MarkStale(ctx, now.Add(-s.heartbeatTTL), now.Add(-2*s.heartbeatTTL))
	if err != nil {
		logger.CtxWarn(ctx, "worker staleness sweep failed: %v", err)
		return
	}
	if len(dead) > 0 {
		s.orphanJobs(ctx, dead)
	}
	s.requeueOrphans(ctx)
}

func (s *OrphanScanner) orphanJobs(ctx context.Context, deadWorkers []string) {
	jobs, err := s.jobs.ListOwnedByWorkers(ctx, deadWorkers)
	if err != nil {
		logger.CtxWarn(ctx, "listing jobs of dead workers failed: %v", err)
		return
	}
	for i := range jobs {
		job := &jobs[i]
		jctx := logger.SetJobID(ctx, job.ID)
		err := s.jobs.MarkOrphaned(jctx, job.ID)
		if errors.Is(err, repository.ErrStaleUpdate) {
			continue // finished or reclaimed in the meantime
		}
		if err != nil {
			logger.CtxWarn(jctx, "orphaning failed: %v", err)
			continue
		}
		logger.CtxWarn(jctx, "job orphaned: worker=%s status_was=%s", job.WorkerID, job.Status)
		s.events.Publish(jctx, events.Event{Topic: events.TopicJobOrphaned, JobID: job.ID})
	}
}

// requeueOrphans returns cooled-down orphans to the upload queue, or
// settles them when the requeue budget is spent.
func (s *OrphanScanner) requeueOrphans(ctx context.Context) {
	orphans, err := s.jobs.ListByStatus(ctx, []domain.JobInternalStatus{domain.JobOrphaned}, 0)
	if err != nil {
		logger.CtxWarn(ctx, "listing orphans failed: %v", err)
		return
	}
	for i := range orphans {
		job := &orphans[i]
		jctx := logger.SetJobID(ctx, job.ID)
		if job.OrphanedAt != nil && time.Since(*job.OrphanedAt) < s.cooldown {
			continue
		}
		if job.RequeueCount >= s.maxRequeue {
			err := s.jobs.TransitionStatus(jctx, job.ID,
				[]domain.JobInternalStatus{domain.JobOrphaned}, domain.JobPartialFailed)
			if err != nil && !errors.Is(err, repository.ErrStaleUpdate) {
				logger.CtxWarn(jctx, "settling exhausted orphan failed: %v", err)
			} else if err == nil {
				logger.CtxError(jctx, "job gave up after %d requeues", job.RequeueCount)
			}
			continue
		}
		err := s.jobs.Requeue(jctx, job.ID)
		if errors.Is(err, repository.ErrStaleUpdate) {
			continue
		}
		if err != nil {
			logger.CtxWarn(jctx, "requeue failed: %v", err)
			continue
		}
		logger.CtxInfo(jctx, "job requeued: attempt=%d", job.RequeueCount+1)
		s.events.Publish(jctx, events.Event{Topic: events.TopicJobRequeued, JobID: job.ID})
	}
}
