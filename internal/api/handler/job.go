package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/gateway"
	"github.com/haoran/skuflow/internal/repository"
)

// JobHandler handles upload and job inspection endpoints.
type JobHandler struct {
	intake *gateway.Intake
	jobs   *repository.JobRepository
	pages  *repository.PageRepository
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - intake: upload admission service.
//   - jobs: job repository.
//   - pages: page repository.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(intake *gateway.Intake, jobs *repository.JobRepository, pages *repository.PageRepository) *JobHandler {
	return &JobHandler{intake: intake, jobs: jobs, pages: pages}
}

// Upload handles POST /api/v1/jobs. The body is a multipart form with
// a single "file" part.
func (h *JobHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file part"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	job, err := h.intake.Accept(c.Request.Context(), fileHeader.Filename, f, fileHeader.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":      job.ID,
		"status":      job.UserStatus,
		"total_pages": job.TotalPages,
	})
}

// Get handles GET /api/v1/jobs/:id. The response carries the coarse
// user status, not the internal state machine.
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":          job.ID,
		"file_name":       job.FileName,
		"status":          job.UserStatus,
		"action_hint":     domain.ActionHint(job.UserStatus),
		"total_pages":     job.TotalPages,
		"checkpoint_page": job.CheckpointPage,
		"checkpoint_skus": job.CheckpointSKUs,
		"route_decision":  job.RouteDecision,
		"page_partition": gin.H{
			"blank":   len(job.BlankPages),
			"ai":      len(job.AIPages),
			"human":   len(job.HumanPages),
			"skipped": len(job.SkippedPages),
			"failed":  len(job.FailedPages),
		},
		"created_at":   job.CreatedAt,
		"completed_at": job.CompletedAt,
	})
}

// ListPages handles GET /api/v1/jobs/:id/pages, returning the latest
// attempt per page.
func (h *JobHandler) ListPages(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.jobs.GetByID(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	pages, err := h.pages.ListLatestByJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages, "count": len(pages)})
}

// ListSKUs handles GET /api/v1/jobs/:id/skus. The optional "validity"
// query filters; by default only valid SKUs are returned, matching what
// the downstream import sees.
func (h *JobHandler) ListSKUs(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.jobs.GetByID(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	validity := domain.SKUValidity(c.DefaultQuery("validity", string(domain.ValidityValid)))
	if c.Query("validity") == "all" {
		validity = ""
	}
	skus, err := h.pages.ListSKUsByJob(c.Request.Context(), jobID, validity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skus": skus, "count": len(skus)})
}
