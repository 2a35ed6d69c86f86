package output

import (
	"context"
	"time"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

const (
	reconcilerPoll = 5 * time.Minute
	reconcileBatch = 100

	// assumedMaxAge bounds how long an ASSUMED record may stay
	// unacknowledged before we close it optimistically. The downstream
	// deduplicates on the idempotency key, so a wrong assumption costs
	// at most one duplicate query later, never a duplicate record.
	assumedMaxAge = 24 * time.Hour

	// failedRetryAfter is how long a FAILED record rests before we ask
	// the downstream again whether it recovered the record after all.
	failedRetryAfter = 1 * time.Hour
)

// Reconciler settles ASSUMED import records by querying the downstream
// for their stored outcome, and re-checks stale FAILED records. After a
// job's last record settles it hands the job to the importer's
// finalizer.
type Reconciler struct {
	jobs     *repository.JobRepository
	imports  *repository.ImportRepository
	adapter  *Adapter
	importer *Importer
}

// NewReconciler wires the reconciliation loop.
func NewReconciler(jobs *repository.JobRepository, imports *repository.ImportRepository, adapter *Adapter, importer *Importer) *Reconciler {
	return &Reconciler{jobs: jobs, imports: imports, adapter: adapter, importer: importer}
}

// Run reconciles on a fixed interval until the context ends.
func (rc *Reconciler) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "reconciler")
	ticker := time.NewTicker(reconcilerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.Reconcile(ctx)
		}
	}
}

// Reconcile runs one pass over ASSUMED and stale FAILED records.
func (rc *Reconciler) Reconcile(ctx context.Context) {
	touched := make(map[string]bool)

	assumed, err := rc.imports.ListAssumed(ctx, reconcileBatch)
	if err != nil {
		logger.CtxWarn(ctx, "listing assumed imports failed: %v", err)
	}
	for i := range assumed {
		if ctx.Err() != nil {
			return
		}
		if rc.settleAssumed(ctx, &assumed[i]) {
			touched[assumed[i].JobID] = true
		}
	}

	failed, err := rc.imports.ListFailedOlderThan(ctx, time.Now().Add(-failedRetryAfter))
	if err != nil {
		logger.CtxWarn(ctx, "listing failed imports failed: %v", err)
	}
	for i := range failed {
		if ctx.Err() != nil {
			return
		}
		if rc.recheckFailed(ctx, &failed[i]) {
			touched[failed[i].JobID] = true
		}
	}

	for jobID := range touched {
		rc.finalize(ctx, jobID)
	}
}

// settleAssumed resolves one ASSUMED record. Returns true when the
// record changed state.
func (rc *Reconciler) settleAssumed(ctx context.Context, rec *domain.ImportRecord) bool {
	ctx = logger.SetJobID(ctx, rec.JobID)

	outcome, err := rc.adapter.QueryStatus(ctx, rec.IdempotencyKey)
	if outcome == domain.ImportAssumed {
		// Still unacknowledged. Past the age ceiling we stop waiting
		// and take the 202 at its word.
		if time.Since(rec.CreatedAt) < assumedMaxAge {
			return false
		}
		logger.CtxWarn(ctx, "assuming import confirmed after %s: key=%s", assumedMaxAge, rec.IdempotencyKey)
		outcome, err = domain.ImportConfirmed, nil
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if uerr := rc.imports.SetConfirmation(ctx, rec.ID, outcome, errMsg); uerr != nil {
		logger.CtxWarn(ctx, "confirmation update failed: key=%s: %v", rec.IdempotencyKey, uerr)
		return false
	}
	logger.CtxInfo(ctx, "reconciled import: key=%s outcome=%s", rec.IdempotencyKey, outcome)
	return true
}

// recheckFailed asks the downstream once more about a rested FAILED
// record. A push that timed out on our side may still have landed.
func (rc *Reconciler) recheckFailed(ctx context.Context, rec *domain.ImportRecord) bool {
	ctx = logger.SetJobID(ctx, rec.JobID)

	outcome, err := rc.adapter.QueryStatus(ctx, rec.IdempotencyKey)
	if err != nil || outcome != domain.ImportConfirmed {
		return false
	}
	if uerr := rc.imports.SetConfirmation(ctx, rec.ID, domain.ImportConfirmed, ""); uerr != nil {
		return false
	}
	logger.CtxInfo(ctx, "failed import turned out confirmed: key=%s", rec.IdempotencyKey)
	return true
}

// finalize re-runs the importer's job finalizer after records settled.
func (rc *Reconciler) finalize(ctx context.Context, jobID string) {
	ctx = logger.SetJobID(ctx, jobID)
	job, err := rc.jobs.GetByID(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status != domain.JobProcessing && job.Status != domain.JobPartialFailed {
		return
	}
	if err := rc.importer.finalizeJob(ctx, job); err != nil {
		logger.CtxWarn(ctx, "job finalize after reconcile failed: %v", err)
	}
}
