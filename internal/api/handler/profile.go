package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/repository"
)

// ProfileHandler handles threshold profile configuration endpoints.
type ProfileHandler struct {
	profiles *repository.ProfileRepository
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(profiles *repository.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GetActive handles GET /api/v1/profiles/:name.
func (h *ProfileHandler) GetActive(c *gin.Context) {
	p, err := h.profiles.ActiveByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListVersions handles GET /api/v1/profiles/:name/versions.
func (h *ProfileHandler) ListVersions(c *gin.Context) {
	versions, err := h.profiles.ListVersions(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions, "count": len(versions)})
}

// appendProfileRequest is the write payload. ExpectedVersion is the
// active version the caller based its edit on; 0 creates a new name.
type appendProfileRequest struct {
	ExpectedVersion int                     `json:"expected_version"`
	Profile         domain.ThresholdProfile `json:"profile" binding:"required"`
}

// Append handles POST /api/v1/profiles. Running jobs keep their frozen
// version; only newly evaluated jobs see the new one.
func (h *ProfileHandler) Append(c *gin.Context) {
	var req appendProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed profile payload"})
		return
	}
	if req.Profile.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile name is required"})
		return
	}

	stored, err := h.profiles.Append(c.Request.Context(), &req.Profile, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}
