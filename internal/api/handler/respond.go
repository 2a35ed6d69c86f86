package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/apperr"
)

// statusByCode maps the domain error taxonomy onto HTTP statuses.
// Anything unmapped reads as an internal error.
var statusByCode = map[string]int{
	apperr.CodeFileTooLarge:       http.StatusRequestEntityTooLarge,
	apperr.CodePageLimitExceeded:  http.StatusUnprocessableEntity,
	apperr.CodeSecurityReject:     http.StatusUnprocessableEntity,
	apperr.CodePermanentData:      http.StatusUnprocessableEntity,
	apperr.CodeProfileInvariant:   http.StatusUnprocessableEntity,
	apperr.CodeTaskNotFound:       http.StatusNotFound,
	apperr.CodeJobNotFound:        http.StatusNotFound,
	apperr.CodeTaskAlreadyLocked:  http.StatusConflict,
	apperr.CodeInvalidTransition:  http.StatusConflict,
	apperr.CodeReworkLimit:        http.StatusConflict,
	apperr.CodeProfileConflict:    http.StatusConflict,
	apperr.CodeLLMBudgetExhausted: http.StatusServiceUnavailable,
	apperr.CodeLLMRateLimited:     http.StatusServiceUnavailable,
	apperr.CodeLLMCircuitOpen:     http.StatusServiceUnavailable,
}

// respondError writes the boundary error response. Domain errors keep
// their stable code; everything else is flattened to INTERNAL_ERROR so
// internals never leak to clients.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": apperr.CodeJobNotFound, "error": "not found"})
		return
	}

	code := apperr.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := "internal error"
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		msg = domainErr.Message
	}
	c.JSON(status, gin.H{"code": code, "error": msg})
}
