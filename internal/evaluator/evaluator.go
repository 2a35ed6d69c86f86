// Package evaluator scores uploaded catalogs and routes them to the
// automatic, hybrid, or fully human processing path.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haoran/skuflow/internal/apperr"
	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/llm"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/prompts"
	"github.com/haoran/skuflow/internal/repository"
)

const (
	// leaseTTL bounds one evaluation attempt; an evaluator that dies
	// mid-run frees the key after this long.
	leaseTTL = 300 * time.Second
	// leaseRenewEvery keeps a healthy long evaluation holding its lease.
	leaseRenewEvery = 30 * time.Second
	// lockWaitPoll is the cache re-check interval while another worker
	// evaluates the same file.
	lockWaitPoll = 2 * time.Second

	evalMaxTokens = 4000
)

// PageRenderer turns stored PDF pages into images for the vision LLM.
// Implemented by the pipeline's PDF layer.
type PageRenderer interface {
	// RenderPages renders the given 1-indexed pages. A page that cannot
	// be rendered yields a nil slot, not an error.
	RenderPages(ctx context.Context, storageKey string, pages []int) ([][]byte, error)
}

// Evaluator runs document quality evaluation end to end: sampling,
// rendering, LLM scoring, aggregation, variance detection, and routing.
// Every failure path degrades to HUMAN_ALL instead of blocking the job.
type Evaluator struct {
	jobs     *repository.JobRepository
	evals    *repository.EvalRepository
	profiles *repository.ProfileRepository
	cache    *Cache
	llm      *llm.Service
	renderer PageRenderer
	events   *events.Dispatcher

	workerID    string
	profileName string

	sampler  *Sampler
	scorer   Scorer
	variance VarianceDetector
	router   RouteDecider

	pollInterval time.Duration
	sleep        func(time.Duration)
}

// New creates an evaluator.
// Parameters:
//   - jobs, evals, profiles: repositories.
//   - cache: two-tier evaluation cache.
//   - llmSvc: guarded LLM service.
//   - renderer: PDF page renderer.
//   - dispatcher: process event dispatcher.
//   - workerID: identity used for job claims and leases.
//   - profileName: threshold profile to freeze onto new jobs.
// Returns:
//   - *Evaluator: ready evaluator; call Run to start the claim loop.
func New(
	jobs *repository.JobRepository,
	evals *repository.EvalRepository,
	profiles *repository.ProfileRepository,
	cache *Cache,
	llmSvc *llm.Service,
	renderer PageRenderer,
	dispatcher *events.Dispatcher,
	workerID, profileName string,
) *Evaluator {
	return &Evaluator{
		jobs:         jobs,
		evals:        evals,
		profiles:     profiles,
		cache:        cache,
		llm:          llmSvc,
		renderer:     renderer,
		events:       dispatcher,
		workerID:     workerID,
		profileName:  profileName,
		sampler:      NewSampler(),
		pollInterval: 5 * time.Second,
		sleep:        time.Sleep,
	}
}

// Run claims and evaluates UPLOADED jobs until the context ends.
// Events give promptness; the poll sweep gives completeness after
// missed events or requeues.
func (e *Evaluator) Run(ctx context.Context) {
	ctx = logger.SetComponent(logger.SetWorkerID(ctx, e.workerID), "evaluator")
	ch := e.events.Subscribe(events.TopicJobCreated, events.TopicJobRequeued)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.tryEvaluate(ctx, ev.JobID)
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Evaluator) sweep(ctx context.Context) {
	jobs, err := e.jobs.ListByStatus(ctx, []domain.JobInternalStatus{domain.JobUploaded}, 10)
	if err != nil {
		logger.CtxError(ctx, "evaluation sweep failed: %v", err)
		return
	}
	for _, job := range jobs {
		e.tryEvaluate(ctx, job.ID)
	}
}

// tryEvaluate claims one job; losing the claim race is not an error.
func (e *Evaluator) tryEvaluate(ctx context.Context, jobID string) {
	if err := e.jobs.ClaimForEvaluation(ctx, jobID, e.workerID); err != nil {
		if !errors.Is(err, repository.ErrStaleUpdate) {
			logger.CtxError(ctx, "failed to claim job for evaluation: job_id=%s: %v", jobID, err)
		}
		return
	}
	if _, err := e.Evaluate(logger.SetJobID(ctx, jobID), jobID); err != nil {
		logger.CtxError(ctx, "evaluation finished with error: job_id=%s: %v", jobID, err)
	}
}

// Evaluate evaluates one claimed job.
// The only errors returned are infrastructure failures before a result
// could be recorded; every evaluation-level failure degrades the job to
// HUMAN_ALL with a recorded reason instead.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job already claimed into EVALUATING.
// Returns:
//   - *domain.Evaluation: recorded evaluation.
//   - error: non-nil only when no result could be recorded.
func (e *Evaluator) Evaluate(ctx context.Context, jobID string) (result *domain.Evaluation, err error) {
	start := time.Now()
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeJobNotFound, apperr.SeverityError, err, "job %s not found", jobID)
	}

	profile := e.resolveProfile(ctx, job)
	prescan := job.Prescan
	if prescan == nil {
		prescan = &domain.PrescanResult{}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "evaluation panicked: job_id=%s: %v", jobID, r)
			result, err = e.degrade(ctx, job, profile, "eval_failed:panic")
		}
	}()

	// A fully blank document has nothing to score.
	if prescan.AllBlank || prescan.BlankRate >= 1.0 {
		return e.degrade(ctx, job, profile, string(domain.DegradePrescanReject))
	}

	cacheKey := fmt.Sprintf("%s:%s", job.FileHash, profile.ConfigVersion())
	if cached, cerr := e.cache.Get(ctx, cacheKey); cerr == nil && cached != nil {
		logger.CtxInfo(ctx, "evaluation cache hit: key=%s", cacheKey)
		return cached, e.finalize(ctx, job, profile, cached)
	}

	held, err := e.waitForLease(ctx, cacheKey)
	if err != nil {
		return e.degrade(ctx, job, profile, "eval_failed:"+failureType(err))
	}
	if !held {
		return e.degrade(ctx, job, profile, "eval_failed:lock_timeout")
	}
	leaseKey := "eval:" + cacheKey
	renewCtx, stopRenew := context.WithCancel(ctx)
	go e.renewLease(renewCtx, leaseKey)
	defer func() {
		stopRenew()
		if rerr := e.evals.ReleaseLease(context.WithoutCancel(ctx), leaseKey, e.workerID); rerr != nil {
			logger.CtxWarn(ctx, "failed to release evaluation lease: %v", rerr)
		}
	}()

	// Another worker may have finished while we waited for the lease.
	if cached, cerr := e.cache.Get(ctx, cacheKey); cerr == nil && cached != nil {
		return cached, e.finalize(ctx, job, profile, cached)
	}

	eval, ierr := e.evaluateLocked(ctx, job, profile, prescan, cacheKey)
	if ierr != nil {
		logger.CtxError(ctx, "evaluation failed, degrading: job_id=%s: %v", jobID, ierr)
		return e.degrade(ctx, job, profile, "eval_failed:"+failureType(ierr))
	}

	logger.CtxInfo(ctx, "evaluation complete: job_id=%s route=%s c_doc=%.4f elapsed_ms=%d",
		jobID, eval.Route, eval.CDoc, time.Since(start).Milliseconds())
	return eval, e.finalize(ctx, job, profile, eval)
}

// evaluateLocked is the actual evaluation, run under the file lease.
func (e *Evaluator) evaluateLocked(
	ctx context.Context,
	job *domain.PDFJob,
	profile *domain.ThresholdProfile,
	prescan *domain.PrescanResult,
	cacheKey string,
) (*domain.Evaluation, error) {
	pages := e.sampler.SelectPages(job.TotalPages, job.BlankPages, prescan.PageFeatures, FullSampleThreshold)
	if len(pages) == 0 {
		return nil, apperr.New(apperr.CodePermanentData, apperr.SeverityWarning, "no pages to sample")
	}

	shots, err := e.renderer.RenderPages(ctx, job.StorageKey, pages)
	if err != nil {
		return nil, fmt.Errorf("render sampled pages: %w", err)
	}
	var validPages []int
	var validShots [][]byte
	for i, shot := range shots {
		if len(shot) > 0 && i < len(pages) {
			validPages = append(validPages, pages[i])
			validShots = append(validShots, shot)
		}
	}
	if len(validShots) == 0 {
		return nil, apperr.New(apperr.CodePermanentData, apperr.SeverityWarning, "page rendering produced no images")
	}

	resp, err := e.llm.Complete(ctx, &llm.CompletionRequest{
		Operation: "evaluate_document",
		System:    prompts.EvalSystemPrompt,
		Prompt:    prompts.EvalDocumentPrompt,
		Images:    validShots,
		Format:    "png",
		MaxTokens: evalMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate document: %w", err)
	}

	pageScores := llm.ParseEvalScores(ctx, resp.Text, validPages)
	if len(pageScores) == 0 {
		return nil, apperr.New(apperr.CodePermanentData, apperr.SeverityWarning, "no parseable page scores")
	}

	dims := e.scorer.Aggregate(pageScores)
	cDoc := e.scorer.ComputeCDoc(ctx, dims, profile.Weights, prescan.TotalPenalty)

	overall := make([]float64, len(pageScores))
	for i, ps := range pageScores {
		overall[i] = ps.Overall
	}
	variance, entropy, forced := e.variance.Check(overall, profile.VarianceThreshold, profile.EntropyThreshold)

	route, reason := e.router.Decide(cDoc, profile, forced)
	if reason != "" {
		logger.CtxInfo(ctx, "route decided: %s", reason)
	}

	eval := &domain.Evaluation{
		ID:             uuid.New().String(),
		JobID:          job.ID,
		CacheKey:       cacheKey,
		FileHash:       job.FileHash,
		ConfigVersion:  profile.ConfigVersion(),
		CDoc:           cDoc,
		Dimensions:     dims,
		Route:          route,
		VarianceForced: forced,
		Variance:       variance,
		Entropy:        entropy,
		SampledPages:   domain.IntArray(validPages),
		PrescanPenalty: prescan.TotalPenalty,
	}
	if err := e.evals.Save(ctx, eval); err != nil {
		return nil, fmt.Errorf("save evaluation: %w", err)
	}
	e.cache.Put(cacheKey, eval)
	return eval, nil
}

// degrade records a HUMAN_ALL evaluation with the failure reason and
// moves the job forward. Degradation must never error a job out.
func (e *Evaluator) degrade(
	ctx context.Context,
	job *domain.PDFJob,
	profile *domain.ThresholdProfile,
	reason string,
) (*domain.Evaluation, error) {
	eval := &domain.Evaluation{
		ID:            uuid.New().String(),
		JobID:         job.ID,
		CacheKey:      fmt.Sprintf("%s:%s", job.FileHash, profile.ConfigVersion()),
		FileHash:      job.FileHash,
		ConfigVersion: profile.ConfigVersion(),
		Route:         domain.RouteHumanAll,
		DegradeReason: reason,
	}
	if job.Prescan != nil {
		eval.PrescanPenalty = job.Prescan.TotalPenalty
	}
	if err := e.evals.Save(ctx, eval); err != nil {
		logger.CtxError(ctx, "failed to save degraded evaluation: job_id=%s: %v", job.ID, err)
	}
	logger.CtxWarn(ctx, "evaluation degraded: job_id=%s reason=%s", job.ID, reason)
	return eval, e.finalize(ctx, job, profile, eval)
}

// finalize moves the job out of EVALUATING and announces the result.
func (e *Evaluator) finalize(
	ctx context.Context,
	job *domain.PDFJob,
	profile *domain.ThresholdProfile,
	eval *domain.Evaluation,
) error {
	to := domain.JobEvaluated
	if eval.DegradeReason != "" {
		to = domain.JobDegradedHuman
	}
	err := e.jobs.CompleteEvaluation(ctx, job.ID, eval.Route, eval.DegradeReason, profile.ConfigVersion(), to)
	if errors.Is(err, repository.ErrStaleUpdate) {
		logger.CtxWarn(ctx, "job left EVALUATING before finalize: job_id=%s", job.ID)
		return nil
	}
	if err != nil {
		return err
	}

	e.events.Publish(ctx, events.Event{
		Topic: events.TopicEvaluationCompleted,
		JobID: job.ID,
		Payload: map[string]interface{}{
			"route":          string(eval.Route),
			"c_doc":          eval.CDoc,
			"degrade_reason": eval.DegradeReason,
		},
	})
	return nil
}

// resolveProfile loads the job's frozen profile, or the active one for
// new jobs. The built-in default is the last resort: routing must not
// stop because the profile table is unreachable.
func (e *Evaluator) resolveProfile(ctx context.Context, job *domain.PDFJob) *domain.ThresholdProfile {
	if job.FrozenConfigVersion != "" {
		if p, err := e.profiles.ByConfigVersion(ctx, job.FrozenConfigVersion); err == nil && p != nil {
			return p
		}
		logger.CtxWarn(ctx, "frozen profile %s not found, using active", job.FrozenConfigVersion)
	}
	if p, err := e.profiles.ActiveByName(ctx, e.profileName); err == nil && p != nil {
		return p
	}
	logger.CtxWarn(ctx, "active profile %s unavailable, using built-in default", e.profileName)
	return domain.DefaultProfile()
}

// waitForLease acquires the per-file evaluation lease, polling the cache
// while another worker holds it so a finished result is picked up fast.
func (e *Evaluator) waitForLease(ctx context.Context, cacheKey string) (bool, error) {
	leaseKey := "eval:" + cacheKey
	held, err := e.evals.AcquireLease(ctx, leaseKey, e.workerID, leaseTTL)
	if err != nil || held {
		return held, err
	}

	deadline := time.Now().Add(leaseTTL)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.sleep(lockWaitPoll)
		if cached, cerr := e.cache.Get(ctx, cacheKey); cerr == nil && cached != nil {
			// The holder finished; the caller re-reads the cache.
			return true, nil
		}
		held, err = e.evals.AcquireLease(ctx, leaseKey, e.workerID, leaseTTL)
		if err != nil || held {
			return held, err
		}
	}
	return false, nil
}

func (e *Evaluator) renewLease(ctx context.Context, leaseKey string) {
	ticker := time.NewTicker(leaseRenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.evals.RenewLease(ctx, leaseKey, e.workerID, leaseTTL); err != nil {
				logger.CtxWarn(ctx, "evaluation lease renew failed: key=%s: %v", leaseKey, err)
				return
			}
		}
	}
}

func failureType(err error) string {
	return strings.ToLower(apperr.CodeOf(err))
}
