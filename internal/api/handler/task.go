package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haoran/skuflow/internal/collab"
	"github.com/haoran/skuflow/internal/repository"
)

// TaskHandler handles the human work queue endpoints.
type TaskHandler struct {
	locks   *collab.LockManager
	manager *collab.TaskManager
	tasks   *repository.TaskRepository
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(locks *collab.LockManager, manager *collab.TaskManager, tasks *repository.TaskRepository) *TaskHandler {
	return &TaskHandler{locks: locks, manager: manager, tasks: tasks}
}

// actorRequest is the common body of queue mutations.
type actorRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// AcquireNext handles POST /api/v1/tasks/acquire-next: claims the
// highest-priority unlocked task for the calling annotator. 204 means
// the queue is empty.
func (h *TaskHandler) AcquireNext(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	task, err := h.locks.Acquire(c.Request.Context(), req.Actor)
	if errors.Is(err, repository.ErrNoTaskAvailable) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Heartbeat handles POST /api/v1/tasks/:id/heartbeat, renewing the
// caller's lock.
func (h *TaskHandler) Heartbeat(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	if err := h.locks.Heartbeat(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Complete handles POST /api/v1/tasks/:id/complete.
func (h *TaskHandler) Complete(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	if err := h.manager.Complete(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Skip handles POST /api/v1/tasks/:id/skip.
func (h *TaskHandler) Skip(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	if err := h.manager.Skip(c.Request.Context(), c.Param("id"), req.Actor, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Revert handles POST /api/v1/tasks/:id/revert, sending a completed
// task back for rework.
func (h *TaskHandler) Revert(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	if err := h.manager.Revert(c.Request.Context(), c.Param("id"), req.Actor, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get handles GET /api/v1/tasks/:id, including the audit trail.
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.tasks.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	transitions, err := h.tasks.ListTransitions(c.Request.Context(), task.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "transitions": transitions})
}
