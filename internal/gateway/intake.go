package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
	"github.com/haoran/skuflow/internal/storage"
)

// Intake admits uploads: gate checks, prescan, durable storage, job
// creation. Everything before job creation works on a local spool file
// so a rejected upload never reaches object storage.
type Intake struct {
	checker  *FileChecker
	prescan  *Prescanner
	jobs     *repository.JobRepository
	store    storage.ObjectStorage
	events   *events.Dispatcher
	spoolDir string
}

// NewIntake wires the upload path.
func NewIntake(checker *FileChecker, prescan *Prescanner, jobs *repository.JobRepository, store storage.ObjectStorage, dispatcher *events.Dispatcher) *Intake {
	return &Intake{
		checker:  checker,
		prescan:  prescan,
		jobs:     jobs,
		store:    store,
		events:   dispatcher,
		spoolDir: os.TempDir(),
	}
}

// Accept runs the full admission sequence for one upload and returns
// the created (or already running) job.
// Parameters:
//   - ctx: request context.
//   - fileName: client-supplied name, metadata only.
//   - r: upload body.
//   - size: declared body size.
// Returns:
//   - *domain.PDFJob: admitted job.
//   - error: a coded apperr on rejection.
func (in *Intake) Accept(ctx context.Context, fileName string, r io.Reader, size int64) (*domain.PDFJob, error) {
	if err := in.checker.CheckSize(size); err != nil {
		return nil, err
	}

	path, fileHash, written, err := in.spool(r)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)
	if err := in.checker.CheckSize(written); err != nil {
		return nil, err
	}

	// The same document already in flight: attach to it instead of
	// processing twice.
	if existing, err := in.jobs.GetActiveByFileHash(ctx, fileHash); err == nil {
		logger.CtxInfo(ctx, "duplicate upload joins running job: job_id=%s hash=%s", existing.ID, fileHash)
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pages, err := in.checker.CheckDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	prescan, err := in.prescan.Scan(ctx, path)
	if err != nil {
		logger.CtxWarn(ctx, "prescan failed, admitting without signals: %v", err)
		prescan = nil
	}

	jobID := uuid.NewString()
	storageKey := fmt.Sprintf("jobs/%s/source.pdf", jobID)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := in.store.Upload(ctx, storageKey, f, written, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job := &domain.PDFJob{
		ID:         jobID,
		FileName:   fileName,
		FileHash:   fileHash,
		FileSize:   written,
		StorageKey: storageKey,
		TotalPages: pages,
		Status:     domain.JobUploaded,
		Prescan:    prescan,
	}
	if err := in.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	logger.CtxInfo(logger.SetJobID(ctx, job.ID), "job admitted: pages=%d size=%d hash=%s", pages, written, fileHash)
	in.events.Publish(ctx, events.Event{Topic: events.TopicJobCreated, JobID: job.ID})
	return job, nil
}

// spool copies the upload to a temp file, hashing it on the way.
func (in *Intake) spool(r io.Reader) (path, fileHash string, written int64, err error) {
	f, err := os.CreateTemp(in.spoolDir, "skuflow-upload-*.pdf")
	if err != nil {
		return "", "", 0, err
	}
	h := sha256.New()
	written, err = io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", "", 0, err
	}
	return f.Name(), hex.EncodeToString(h.Sum(nil)), written, nil
}
