package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inbox-triage-go/internal/auth"
	"inbox-triage-go/internal/categorize"
	"inbox-triage-go/internal/model"
)

// ListMessages returns the caller's triaged messages, newest first
func (h *Handlers) ListMessages(c *gin.Context) {
	userID := auth.UserID(c)

	var category model.Category
	if raw := c.Query("category"); raw != "" {
		category = model.Category(raw)
		// The reserved uncategorized bucket is listable even though users
		// cannot assign it.
		if !model.ValidCategory(category) && category != model.CategoryUncategorized {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_category",
				Message: "Unknown category filter: " + raw,
				Code:    http.StatusBadRequest,
			})
			return
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.messages.List(userID, category, limit, offset)
	if err != nil {
		logrus.Errorf("Failed to list messages: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to retrieve messages",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		response = append(response, toMessageResponse(&messages[i]))
	}
	c.JSON(http.StatusOK, response)
}

// OverrideCategory applies a manual category to a message. The row is frozen
// against future automated reclassification.
func (h *Handlers) OverrideCategory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Message ID must be a positive integer",
			Code:    http.StatusBadRequest,
		})
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	category := model.Category(req.Category)
	if !model.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_category",
			Message: "Unknown category: " + req.Category,
			Code:    http.StatusBadRequest,
		})
		return
	}

	msg, err := h.messages.Get(auth.UserID(c), uint(id))
	if err != nil {
		logrus.Errorf("Failed to load message %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load message",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Message not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	if err := h.messages.SetUserOverride(msg.ID, category); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Message not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		logrus.Errorf("Failed to override category on message %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to update message",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	msg.Category = category
	msg.UserOverride = true
	c.JSON(http.StatusOK, toMessageResponse(msg))
}

// Recategorize re-runs the engine over every stored message of the caller's
// mailboxes. Rows with a user override keep their category.
func (h *Handlers) Recategorize(c *gin.Context) {
	userID := auth.UserID(c)

	mailboxes, err := h.mailboxes.ListByUser(userID)
	if err != nil {
		logrus.Errorf("Failed to list mailboxes: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to retrieve mailboxes",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	var result RecategorizeResponse
	for i := range mailboxes {
		messages, err := h.messages.ListByMailbox(mailboxes[i].ID)
		if err != nil {
			logrus.Errorf("Failed to list messages for mailbox %d: %v", mailboxes[i].ID, err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to retrieve messages",
				Code:    http.StatusInternalServerError,
			})
			return
		}

		for j := range messages {
			msg := &messages[j]
			result.Examined++
			if msg.UserOverride {
				result.Skipped++
				continue
			}

			classified, err := h.engine.Categorize(categorize.Message{
				Subject:    msg.Subject,
				Sender:     msg.Sender,
				Snippet:    msg.Snippet,
				ReceivedAt: msg.ReceivedAt,
			})
			if err != nil {
				result.Skipped++
				continue
			}
			if classified.Category == msg.Category && classified.Confidence == msg.Confidence {
				continue
			}

			changed, err := h.messages.UpdateCategory(msg.ID, classified.Category, classified.Confidence)
			if err != nil {
				logrus.Errorf("Failed to recategorize message %d: %v", msg.ID, err)
				continue
			}
			if changed {
				result.Updated++
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"examined": result.Examined,
		"updated":  result.Updated,
		"skipped":  result.Skipped,
	}).Info("Recategorization completed")
	c.JSON(http.StatusOK, result)
}

// GetStats returns per-category message counts for the caller
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.messages.CategoryStats(auth.UserID(c))
	if err != nil {
		logrus.Errorf("Failed to compute stats: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to compute statistics",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := StatsResponse{Categories: stats}
	for _, count := range stats {
		response.Total += count
	}
	c.JSON(http.StatusOK, response)
}
