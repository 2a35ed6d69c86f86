package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/evaluator"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
	"github.com/haoran/skuflow/internal/storage"
)

const (
	defaultPageConcurrency = 5
	orchestratorPoll       = 5 * time.Second
)

// Orchestrator drives evaluated jobs through page processing. Chunks
// run sequentially; pages within a chunk run concurrently under a
// semaphore. Every page persists transactionally before the job
// checkpoint advances, so a crashed worker resumes without data loss.
type Orchestrator struct {
	jobs     *repository.JobRepository
	pages    *repository.PageRepository
	tasks    *repository.TaskRepository
	store    storage.ObjectStorage
	proc     *PageProcessor
	merger   *CrossPageMerger
	fallback *evaluator.FallbackMonitor
	events   *events.Dispatcher

	workerID    string
	concurrency int
}

// NewOrchestrator wires the processing loop.
func NewOrchestrator(
	jobs *repository.JobRepository,
	pages *repository.PageRepository,
	tasks *repository.TaskRepository,
	store storage.ObjectStorage,
	proc *PageProcessor,
	merger *CrossPageMerger,
	fallback *evaluator.FallbackMonitor,
	dispatcher *events.Dispatcher,
	workerID string,
	concurrency int,
) *Orchestrator {
	if concurrency <= 0 {
		concurrency = defaultPageConcurrency
	}
	return &Orchestrator{
		jobs:        jobs,
		pages:       pages,
		tasks:       tasks,
		store:       store,
		proc:        proc,
		merger:      merger,
		fallback:    fallback,
		events:      dispatcher,
		workerID:    workerID,
		concurrency: concurrency,
	}
}

// Run consumes evaluation-completed events and sweeps for evaluated
// jobs the event stream missed. Blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ctx = logger.SetWorkerID(logger.SetComponent(ctx, "orchestrator"), o.workerID)
	ch := o.events.Subscribe(events.TopicEvaluationCompleted)
	ticker := time.NewTicker(orchestratorPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			o.tryProcess(ctx, ev.JobID)
		case <-ticker.C:
			jobs, err := o.jobs.ListByStatus(ctx,
				[]domain.JobInternalStatus{domain.JobEvaluated, domain.JobDegradedHuman}, 10)
			if err != nil {
				logger.CtxWarn(ctx, "evaluated-job sweep failed: %v", err)
				continue
			}
			for _, job := range jobs {
				o.tryProcess(ctx, job.ID)
			}
		}
	}
}

func (o *Orchestrator) tryProcess(ctx context.Context, jobID string) {
	ctx = logger.SetJobID(ctx, jobID)
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		logger.CtxWarn(ctx, "job load failed: %v", err)
		return
	}

	switch job.Status {
	case domain.JobDegradedHuman:
		// Degraded jobs never touch the AI path; queue every page for
		// human work if not already queued.
		if err := o.queueAllHuman(ctx, job); err != nil {
			logger.CtxError(ctx, "queueing degraded job for human work failed: %v", err)
		}
		return
	case domain.JobEvaluated:
	default:
		return
	}

	err = o.jobs.TransitionStatus(ctx, jobID,
		[]domain.JobInternalStatus{domain.JobEvaluated}, domain.JobProcessing)
	if errors.Is(err, repository.ErrStaleUpdate) {
		return // another worker took it
	}
	if err != nil {
		logger.CtxError(ctx, "transition to PROCESSING failed: %v", err)
		return
	}
	job.Status = domain.JobProcessing

	if err := o.ProcessJob(ctx, job); err != nil {
		logger.CtxError(ctx, "job processing failed: %v", err)
	}
}

// ProcessJob runs all pending pages of one job.
func (o *Orchestrator) ProcessJob(ctx context.Context, job *domain.PDFJob) error {
	defer o.cleanupJob(job)

	if job.RouteDecision == domain.RouteHumanAll {
		return o.queueAllHuman(ctx, job)
	}

	pending, attempts, err := o.pendingPages(ctx, job)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return o.finalize(ctx, job)
	}

	state := newJobState(job)
	chunks := BuildChunks(pending, o.continuationHints(job))
	logger.CtxInfo(ctx, "processing job: pages=%d chunks=%d route=%s",
		len(pending), len(chunks), job.RouteDecision)

	sem := semaphore.NewWeighted(int64(o.concurrency))
	seenHashes := NewHashSet()

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if o.fallback != nil && o.fallback.ShouldSuspend(job.ID) {
			logger.CtxWarn(ctx, "consecutive fallbacks exceeded, routing remaining pages to human")
			return o.suspendToHuman(ctx, job, remainingPages(chunks, chunk.ChunkID), attempts, state)
		}

		var wg sync.WaitGroup
		for _, pageNo := range chunk.Pages {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			wg.Add(1)
			go func(pageNo int) {
				defer sem.Release(1)
				defer wg.Done()
				o.runPage(ctx, job, pageNo, attempts[pageNo]+1, seenHashes, state)
			}(pageNo)
		}
		wg.Wait()
	}
	return o.finalize(ctx, job)
}

// runPage processes one page with panic isolation: a panic in any phase
// marks the page AI_FAILED instead of taking down the chunk.
func (o *Orchestrator) runPage(ctx context.Context, job *domain.PDFJob, pageNo, attemptNo int, seenHashes *HashSet, state *jobState) {
	ctx = logger.SetPageNo(ctx, pageNo)

	var out *ProcessedPage
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.CtxError(ctx, "page processing panicked: %v", r)
				out = &ProcessedPage{Status: domain.PageAIFailed, Err: fmt.Sprintf("panic: %v", r)}
			}
		}()
		out = o.proc.Process(ctx, job, pageNo, seenHashes)
	}()

	if o.fallback != nil {
		if out.FellBack {
			o.fallback.OnPageFallback(ctx, job.ID, pageNo)
		} else if out.Status == domain.PageAICompleted {
			o.fallback.OnPageSuccess(job.ID)
		}
	}

	if err := o.persistPage(ctx, job, pageNo, attemptNo, out, state); err != nil {
		logger.CtxError(ctx, "page persist failed: %v", err)
		return
	}

	o.events.Publish(ctx, events.Event{
		Topic: events.TopicPageCompleted,
		JobID: job.ID,
		Payload: map[string]interface{}{
			"page_no": pageNo,
			"status":  string(out.Status),
			"skus":    len(out.SKUs),
		},
	})
}

// persistPage writes the page outcome, its children and the refreshed
// page partition in one transaction, then advances the checkpoint.
func (o *Orchestrator) persistPage(ctx context.Context, job *domain.PDFJob, pageNo, attemptNo int, out *ProcessedPage, state *jobState) error {
	status := out.Status
	needsHuman := out.NeedsReview && status == domain.PageAICompleted
	if needsHuman {
		status = domain.PageHumanQueued
	}

	page := &domain.Page{
		ID:                   uuid.NewString(),
		JobID:                job.ID,
		PageNumber:           pageNo,
		AttemptNo:            attemptNo,
		Status:               status,
		PageType:             out.PageType,
		Layout:               out.Layout,
		ClassifierConfidence: out.ClassifierConf,
		ClassifiedByRule:     out.ClassifiedByRule,
		ImageCount:           len(out.Images),
		SKUCount:             len(out.SKUs),
		LLMCalls:             out.LLMCalls,
		ExtractTier:          out.ExtractTier,
		Source:               domain.CompletedAIOnly,
		ErrorLog:             out.Err,
	}

	res := &repository.PageResult{Page: page}
	res.SKUs = o.toSKURows(job, pageNo, out)
	res.Images = o.uploadImages(ctx, job, pageNo, out.Images)
	res.Bindings = toBindingRows(job.ID, out.Bindings)

	state.record(pageNo, status)
	blank, ai, human, skipped, failed := state.partition()
	err := o.pages.PersistResult(ctx, res, func(tx *gorm.DB) error {
		return o.jobs.UpdatePageSets(ctx, tx, job.ID, blank, ai, human, skipped, failed)
	})
	if err != nil {
		return err
	}

	if err := o.jobs.AdvanceCheckpoint(ctx, job.ID, pageNo, len(res.SKUs)); err != nil {
		logger.CtxWarn(ctx, "checkpoint advance failed: %v", err)
	}

	if needsHuman {
		o.createPageTask(ctx, job, pageNo, out)
	}
	return nil
}

func (o *Orchestrator) toSKURows(job *domain.PDFJob, pageNo int, out *ProcessedPage) []domain.SKU {
	rows := make([]domain.SKU, 0, len(out.SKUs))
	for i := range out.SKUs {
		c := &out.SKUs[i]
		attrs := domain.JSONMap{}
		for k, v := range c.Attributes {
			switch k {
			case "product_name", "model_number", "price", "unit":
			default:
				attrs[k] = v
			}
		}
		rows = append(rows, domain.SKU{
			ID:          c.ID,
			JobID:       job.ID,
			PageNumber:  pageNo,
			Seq:         i + 1,
			ProductName: c.Attr("product_name"),
			ModelNumber: c.Attr("model_number"),
			Price:       c.Attr("price"),
			Unit:        c.Attr("unit"),
			Attributes:  attrs,
			Status:      domain.SKUExtracted,
			Validity:    c.Validity,
			Confidence:  c.Confidence,
			AttrSource:  domain.SourceAIExtracted,
			X:           round2(c.BBox.CenterX()),
			Y:           round2(c.BBox.CenterY()),
		})
	}
	return rows
}

// uploadImages stores deliverable image bytes and returns the rows.
// Upload failures drop the image row rather than failing the page.
func (o *Orchestrator) uploadImages(ctx context.Context, job *domain.PDFJob, pageNo int, images []ImageData) []domain.PageImage {
	var rows []domain.PageImage
	for i := range images {
		img := &images[i]
		if !img.Deliverable {
			continue
		}
		key := fmt.Sprintf("jobs/%s/pages/%03d/%s.%s", job.ID, pageNo, img.ImageID, img.Format)
		if err := o.store.Upload(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), "image/"+img.Format); err != nil {
			logger.CtxWarn(ctx, "image upload failed: %s: %v", img.ImageID, err)
			continue
		}
		rows = append(rows, domain.PageImage{
			ID:         img.ImageID,
			JobID:      job.ID,
			PageNumber: pageNo,
			StorageKey: key,
			Format:     img.Format,
			Width:      img.Width,
			Height:     img.Height,
			PrefixHash: img.PrefixHash,
			Role:       img.Role,
			CenterX:    img.BBox.CenterX(),
			CenterY:    img.BBox.CenterY(),
		})
	}
	return rows
}

func toBindingRows(jobID string, outcomes []BindingOutcome) []domain.Binding {
	rows := make([]domain.Binding, 0, len(outcomes))
	for _, b := range outcomes {
		row := domain.Binding{
			ID:          uuid.NewString(),
			JobID:       jobID,
			SKUID:       b.SKUID,
			ImageID:     b.ImageID,
			Method:      b.Method,
			Confidence:  b.Confidence,
			IsAmbiguous: b.IsAmbiguous,
		}
		for _, c := range b.Candidates {
			row.Candidates = append(row.Candidates, c.ImageID)
		}
		rows = append(rows, row)
	}
	return rows
}

func (o *Orchestrator) createPageTask(ctx context.Context, job *domain.PDFJob, pageNo int, out *ProcessedPage) {
	task := &domain.HumanTask{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		TaskType:     domain.TaskPageProcess,
		PageNumber:   pageNo,
		Status:       domain.TaskCreated,
		Priority:     domain.PriorityNormal,
		ClaimRank:    domain.PriorityNormal.ClaimRank(),
		AIConfidence: out.ClassifierConf,
		Context: domain.JSONMap{
			"page_type":    string(out.PageType),
			"extract_tier": out.ExtractTier,
			"sku_count":    len(out.SKUs),
			"issues":       len(out.Validation.Issues),
		},
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		logger.CtxError(ctx, "review task creation failed: page=%d: %v", pageNo, err)
		return
	}
	o.events.Publish(ctx, events.Event{
		Topic:   events.TopicTaskCreated,
		JobID:   job.ID,
		Payload: map[string]interface{}{"task_id": task.ID, "page_no": pageNo},
	})
}

// queueAllHuman routes every unfinished page to the human queue.
func (o *Orchestrator) queueAllHuman(ctx context.Context, job *domain.PDFJob) error {
	pending, attempts, err := o.pendingPages(ctx, job)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	state := newJobState(job)
	return o.suspendToHuman(ctx, job, pending, attempts, state)
}

func (o *Orchestrator) suspendToHuman(ctx context.Context, job *domain.PDFJob, pageNos []int, attempts map[int]int, state *jobState) error {
	var pages []domain.Page
	for _, pageNo := range pageNos {
		pages = append(pages, domain.Page{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			PageNumber: pageNo,
			AttemptNo:  attempts[pageNo] + 1,
			Status:     domain.PageHumanQueued,
			Source:     domain.CompletedHumanOnly,
		})
		state.record(pageNo, domain.PageHumanQueued)
	}
	if err := o.pages.CreateBatch(ctx, pages); err != nil {
		return err
	}
	for _, pageNo := range pageNos {
		o.createPageTask(ctx, job, pageNo, &ProcessedPage{Status: domain.PageHumanQueued})
	}
	blank, ai, human, skipped, failed := state.partition()
	return o.jobs.UpdatePageSets(ctx, nil, job.ID, blank, ai, human, skipped, failed)
}

// finalize settles the job once no AI work remains. Open human tasks
// keep it in PROCESSING; failed pages make it PARTIAL_FAILED; otherwise
// the importer owns the terminal transition.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.PDFJob) error {
	open, err := o.tasks.ListOpenByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		logger.CtxInfo(ctx, "job waits on %d human tasks", len(open))
		return nil
	}

	counts, err := o.pages.CountByStatus(ctx, job.ID)
	if err != nil {
		return err
	}
	if counts[domain.PageAIFailed] > 0 {
		err := o.jobs.TransitionStatus(ctx, job.ID,
			[]domain.JobInternalStatus{domain.JobProcessing}, domain.JobPartialFailed)
		if errors.Is(err, repository.ErrStaleUpdate) {
			return nil
		}
		return err
	}
	logger.CtxInfo(ctx, "job AI phase complete: pages=%v", countSummary(counts))
	return nil
}

// pendingPages lists page numbers without a terminal or completed
// latest attempt, plus the latest attempt number per page.
func (o *Orchestrator) pendingPages(ctx context.Context, job *domain.PDFJob) ([]int, map[int]int, error) {
	latest, err := o.pages.ListLatestByJob(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	attempts := make(map[int]int, len(latest))
	done := make(map[int]bool, len(latest))
	for _, p := range latest {
		attempts[p.PageNumber] = p.AttemptNo
		switch p.Status {
		case domain.PagePending, domain.PageAIQueued, domain.PageAIProcessing, domain.PageAIFailed:
		default:
			done[p.PageNumber] = true
		}
	}
	var pending []int
	for n := 1; n <= job.TotalPages; n++ {
		if !done[n] {
			pending = append(pending, n)
		}
	}
	return pending, attempts, nil
}

// continuationHints derives likely continuation pages from prescan
// features so chunk boundaries avoid splitting spilled tables.
func (o *Orchestrator) continuationHints(job *domain.PDFJob) map[int]bool {
	if job.Prescan == nil {
		return nil
	}
	hints := make(map[int]bool)
	for pageNo, f := range job.Prescan.PageFeatures {
		head := strings.ToLower(f.TextHint)
		if len(head) > 100 {
			head = head[:100]
		}
		for _, kw := range continuationMarkers {
			if strings.Contains(head, kw) {
				hints[pageNo] = true
				break
			}
		}
	}
	return hints
}

func (o *Orchestrator) cleanupJob(job *domain.PDFJob) {
	if o.merger != nil {
		o.merger.Forget(job.ID)
	}
	if o.fallback != nil {
		o.fallback.Reset(job.ID)
	}
	if o.proc != nil && o.proc.parser != nil {
		o.proc.parser.Cleanup(job.StorageKey)
	}
}

func remainingPages(chunks []PageChunk, fromChunk int) []int {
	var pages []int
	for _, c := range chunks {
		if c.ChunkID >= fromChunk {
			pages = append(pages, c.Pages...)
		}
	}
	sort.Ints(pages)
	return pages
}

func countSummary(counts map[domain.PageStatus]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}

// jobState tracks the evolving page partition for one processing run.
type jobState struct {
	mu     sync.Mutex
	status map[int]domain.PageStatus
}

func newJobState(job *domain.PDFJob) *jobState {
	s := &jobState{status: make(map[int]domain.PageStatus)}
	for _, n := range job.BlankPages {
		s.status[n] = domain.PageBlank
	}
	for _, n := range job.AIPages {
		s.status[n] = domain.PageAICompleted
	}
	for _, n := range job.HumanPages {
		s.status[n] = domain.PageHumanQueued
	}
	for _, n := range job.SkippedPages {
		s.status[n] = domain.PageSkipped
	}
	for _, n := range job.FailedPages {
		s.status[n] = domain.PageAIFailed
	}
	return s
}

func (s *jobState) record(pageNo int, status domain.PageStatus) {
	s.mu.Lock()
	s.status[pageNo] = status
	s.mu.Unlock()
}

// partition renders the five mutually exclusive page-number sets.
func (s *jobState) partition() (blank, ai, human, skipped, failed domain.IntArray) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := make([]int, 0, len(s.status))
	for n := range s.status {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	for _, n := range pages {
		switch s.status[n] {
		case domain.PageBlank:
			blank = append(blank, n)
		case domain.PageSkipped:
			skipped = append(skipped, n)
		case domain.PageAIFailed:
			failed = append(failed, n)
		case domain.PageHumanQueued, domain.PageHumanProcessing, domain.PageHumanCompleted:
			human = append(human, n)
		default:
			ai = append(ai, n)
		}
	}
	return blank, ai, human, skipped, failed
}
