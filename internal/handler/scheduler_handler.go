package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the periodic sync orchestrator
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.orchestrator.Start(); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sync orchestrator started",
		"status":  "running",
	})
}

// StopScheduler stops the periodic sync orchestrator
func (h *Handlers) StopScheduler(c *gin.Context) {
	h.orchestrator.Stop()

	c.JSON(http.StatusOK, gin.H{
		"message": "Sync orchestrator stopped",
		"status":  "stopped",
	})
}

// RunOnce triggers one sync sweep over all active mailboxes
func (h *Handlers) RunOnce(c *gin.Context) {
	go h.orchestrator.Sweep()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Sync sweep triggered",
	})
}

// GetSchedulerStatus returns the current orchestrator status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.GetStatus())
}
