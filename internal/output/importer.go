package output

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
	"github.com/haoran/skuflow/internal/storage"
)

const (
	importerPoll = 30 * time.Second

	// Backpressure window over recent push outcomes.
	windowSize    = 50
	windowMin     = 10
	failRateLimit = 0.2
	throttlePause = 5 * time.Second
)

// Importer pushes a finished job's valid SKUs downstream, page by page,
// and settles page and job statuses from the outcomes.
type Importer struct {
	jobs    *repository.JobRepository
	pages   *repository.PageRepository
	tasks   *repository.TaskRepository
	imports *repository.ImportRepository
	adapter *Adapter
	store   storage.ObjectStorage
	events  *events.Dispatcher

	window *outcomeWindow
	sleep  func(context.Context, time.Duration)
}

// NewImporter wires the import loop.
func NewImporter(
	jobs *repository.JobRepository,
	pages *repository.PageRepository,
	tasks *repository.TaskRepository,
	imports *repository.ImportRepository,
	adapter *Adapter,
	store storage.ObjectStorage,
	dispatcher *events.Dispatcher,
) *Importer {
	return &Importer{
		jobs:    jobs,
		pages:   pages,
		tasks:   tasks,
		imports: imports,
		adapter: adapter,
		store:   store,
		events:  dispatcher,
		window:  newOutcomeWindow(windowSize),
		sleep:   sleepCtx,
	}
}

// Run consumes completion events and sweeps for importable jobs.
func (im *Importer) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "importer")
	ch := im.events.Subscribe(events.TopicPageCompleted, events.TopicTaskCompleted)
	ticker := time.NewTicker(importerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			im.tryImport(ctx, ev.JobID)
		case <-ticker.C:
			jobs, err := im.jobs.ListByStatus(ctx,
				[]domain.JobInternalStatus{domain.JobProcessing, domain.JobPartialFailed}, 10)
			if err != nil {
				logger.CtxWarn(ctx, "import sweep failed: %v", err)
				continue
			}
			for _, job := range jobs {
				im.tryImport(ctx, job.ID)
			}
		}
	}
}

// tryImport imports a job once every page reached a settled state and
// no human work remains open.
func (im *Importer) tryImport(ctx context.Context, jobID string) {
	ctx = logger.SetJobID(ctx, jobID)
	job, err := im.jobs.GetByID(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status != domain.JobProcessing && job.Status != domain.JobPartialFailed {
		return
	}

	open, err := im.tasks.ListOpenByJob(ctx, jobID)
	if err != nil || len(open) > 0 {
		return
	}
	pages, err := im.pages.ListLatestByJob(ctx, jobID)
	if err != nil {
		return
	}
	if !allSettled(pages, job.TotalPages) {
		return
	}

	if err := im.importJob(ctx, job, pages); err != nil {
		logger.CtxError(ctx, "job import failed: %v", err)
	}
}

// allSettled: every page of the job has a result and none is still in
// an AI or human queue.
func allSettled(pages []domain.Page, totalPages int) bool {
	if len(pages) < totalPages {
		return false
	}
	for _, p := range pages {
		switch p.Status {
		case domain.PageAICompleted, domain.PageHumanCompleted, domain.PageBlank,
			domain.PageSkipped, domain.PageAIFailed,
			domain.PageImportedConfirmed, domain.PageImportedAssumed, domain.PageImportFailed,
			domain.PageDeadLetter:
		default:
			return false
		}
	}
	return true
}

func (im *Importer) importJob(ctx context.Context, job *domain.PDFJob, pages []domain.Page) error {
	logger.CtxInfo(ctx, "importing job: pages=%d", len(pages))
	for i := range pages {
		page := &pages[i]
		switch page.Status {
		case domain.PageAICompleted, domain.PageHumanCompleted:
		default:
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := im.importPage(ctx, job, page); err != nil {
			logger.CtxWarn(ctx, "page import failed: page=%d: %v", page.PageNumber, err)
		}
	}
	return im.finalizeJob(ctx, job)
}

// importPage pushes the page's valid SKUs and settles the page status
// from the worst outcome.
func (im *Importer) importPage(ctx context.Context, job *domain.PDFJob, page *domain.Page) error {
	ctx = logger.SetPageNo(ctx, page.PageNumber)
	skus, err := im.pages.ListSKUsByPage(ctx, job.ID, page.PageNumber)
	if err != nil {
		return err
	}

	worst := domain.ImportConfirmed
	pushed := 0
	for i := range skus {
		if skus[i].Validity != domain.ValidityValid {
			continue
		}
		outcome := im.pushSKU(ctx, job, page, &skus[i])
		pushed++
		if importRank(outcome) > importRank(worst) {
			worst = outcome
		}
	}
	if pushed == 0 {
		// Nothing importable on the page, leave its status alone.
		return nil
	}

	var status domain.PageStatus
	switch worst {
	case domain.ImportConfirmed:
		status = domain.PageImportedConfirmed
	case domain.ImportAssumed:
		status = domain.PageImportedAssumed
	default:
		status = domain.PageImportFailed
	}
	return im.pages.UpdateStatus(ctx, page.ID, status, "")
}

// pushSKU pushes one record with the per-verdict retry policy.
func (im *Importer) pushSKU(ctx context.Context, job *domain.PDFJob, page *domain.Page, sku *domain.SKU) domain.ImportConfirmation {
	key := domain.IdemKey(sku.ID, sku.Revision)

	// Skip records already settled under this key.
	if rec, err := im.imports.GetByIdemKey(ctx, key); err == nil {
		if rec.Confirmation == domain.ImportConfirmed || rec.Confirmation == domain.ImportAssumed {
			return rec.Confirmation
		}
	}

	rec := &domain.ImportRecord{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		PageNumber:     page.PageNumber,
		SKUID:          sku.ID,
		Revision:       sku.Revision,
		IdempotencyKey: key,
		Confirmation:   domain.ImportPending,
	}
	if err := im.imports.Upsert(ctx, rec); err != nil {
		logger.CtxWarn(ctx, "import record upsert failed: %v", err)
	}

	payload := im.toExport(ctx, job, sku, key)

	var verdict PushVerdict
	var pushErr error
	for attempt := 0; ; attempt++ {
		im.waitForWindow(ctx)
		verdict, pushErr = im.adapter.Push(ctx, payload)
		im.window.record(verdict != PushPermanent && verdict != PushTransient)

		if verdict == PushConfirmed || verdict == PushAssumed || verdict == PushPermanent {
			break
		}
		wait, retry := backoffFor(verdict, attempt)
		if !retry {
			break
		}
		logger.CtxDebug(ctx, "push retry in %s: key=%s verdict=%d", wait, key, verdict)
		im.sleep(ctx, wait)
		if ctx.Err() != nil {
			break
		}
	}

	outcome := domain.ImportFailed
	errMsg := ""
	switch verdict {
	case PushConfirmed:
		outcome = domain.ImportConfirmed
	case PushAssumed:
		outcome = domain.ImportAssumed
	default:
		if pushErr != nil {
			errMsg = pushErr.Error()
		}
	}
	if err := im.imports.SetConfirmation(ctx, rec.ID, outcome, errMsg); err != nil {
		logger.CtxWarn(ctx, "confirmation update failed: %v", err)
	}
	return outcome
}

func (im *Importer) toExport(ctx context.Context, job *domain.PDFJob, sku *domain.SKU, key string) *ExportSKU {
	out := &ExportSKU{
		IdempotencyKey: key,
		SKUID:          sku.ID,
		Revision:       sku.Revision,
		ProductName:    sku.ProductName,
		ModelNumber:    sku.ModelNumber,
		Price:          sku.Price,
		Unit:           sku.Unit,
		Attributes:     sku.Attributes,
		SourcePage:     sku.PageNumber,
		Confidence:     sku.Confidence,
	}
	// Resolve bound image URLs from storage keys.
	if keys, err := im.pages.ListBoundImageKeys(ctx, job.ID, sku.ID); err == nil {
		for _, imageKey := range keys {
			out.ImageURLs = append(out.ImageURLs, im.store.GetURL(imageKey))
		}
	}
	return out
}

// finalizeJob settles the terminal job status from the imported pages.
func (im *Importer) finalizeJob(ctx context.Context, job *domain.PDFJob) error {
	unconfirmed, err := im.imports.CountUnconfirmedByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if unconfirmed > 0 {
		logger.CtxInfo(ctx, "job waits on %d unconfirmed imports", unconfirmed)
		return nil
	}

	counts, err := im.pages.CountByStatus(ctx, job.ID)
	if err != nil {
		return err
	}

	target := domain.JobFullImported
	if counts[domain.PageImportFailed] > 0 || counts[domain.PageAIFailed] > 0 || counts[domain.PageDeadLetter] > 0 {
		target = domain.JobPartialImported
	}
	err = im.jobs.TransitionStatus(ctx, job.ID,
		[]domain.JobInternalStatus{domain.JobProcessing, domain.JobPartialFailed}, target)
	if errors.Is(err, repository.ErrStaleUpdate) {
		return nil
	}
	if err == nil {
		logger.CtxInfo(ctx, "job finalized: status=%s", target)
	}
	return err
}

// waitForWindow pauses pushes while the recent failure rate is too high.
func (im *Importer) waitForWindow(ctx context.Context) {
	for im.window.overloaded() {
		logger.CtxWarn(ctx, "downstream failure rate high, pausing imports for %s", throttlePause)
		im.sleep(ctx, throttlePause)
		if ctx.Err() != nil {
			return
		}
		im.window.decay()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// importRank orders confirmation states from best to worst.
func importRank(c domain.ImportConfirmation) int {
	switch c {
	case domain.ImportConfirmed:
		return 0
	case domain.ImportAssumed:
		return 1
	default:
		return 2
	}
}

// outcomeWindow is a fixed-size ring of recent push outcomes.
type outcomeWindow struct {
	mu      sync.Mutex
	results []bool
	next    int
	filled  int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{results: make([]bool, size)}
}

func (w *outcomeWindow) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[w.next] = ok
	w.next = (w.next + 1) % len(w.results)
	if w.filled < len(w.results) {
		w.filled++
	}
}

// overloaded reports whether the recent failure rate crossed the limit.
// Requires a minimum sample so a single early failure cannot throttle.
func (w *outcomeWindow) overloaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled < windowMin {
		return false
	}
	failed := 0
	for i := 0; i < w.filled; i++ {
		if !w.results[i] {
			failed++
		}
	}
	return float64(failed)/float64(w.filled) > failRateLimit
}

// decay forgets one failure so a paused importer can probe again.
func (w *outcomeWindow) decay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < w.filled; i++ {
		if !w.results[i] {
			w.results[i] = true
			return
		}
	}
}
