package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"inbox-triage-go/internal/auth"
	"inbox-triage-go/internal/categorize"
	"inbox-triage-go/internal/model"
)

const maxTriageBatch = 100

// Triage classifies a batch of raw message summaries synchronously. This is
// the browser extension's path: it bypasses the orchestrator and cursors.
// With record set, results are also persisted into the given mailbox through
// the idempotent writer.
func (h *Handlers) Triage(c *gin.Context) {
	var req TriageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > maxTriageBatch {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_batch",
			Message: "Batch must contain between 1 and 100 messages",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if req.Record {
		if req.MailboxID == 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "mailbox_id is required when record is set",
				Code:    http.StatusBadRequest,
			})
			return
		}
		mb, err := h.mailboxes.GetForUser(auth.UserID(c), req.MailboxID)
		if err != nil {
			logrus.Errorf("Failed to load mailbox %d: %v", req.MailboxID, err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to load mailbox",
				Code:    http.StatusInternalServerError,
			})
			return
		}
		if mb == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Mailbox not found",
				Code:    http.StatusNotFound,
			})
			return
		}
	}

	results := make([]TriageResult, 0, len(req.Messages))
	for i := range req.Messages {
		item := &req.Messages[i]
		result := TriageResult{ProviderMessageID: item.ProviderMessageID}

		classified, err := h.engine.Categorize(categorize.Message{
			Subject:    item.Subject,
			Sender:     item.Sender,
			Snippet:    item.Snippet,
			ReceivedAt: item.ReceivedAt,
		})
		if err != nil {
			result.Category = string(model.CategoryUncategorized)
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.Category = string(classified.Category)
		result.Confidence = classified.Confidence

		if req.Record && item.ProviderMessageID != "" {
			_, err := h.messages.Upsert(&model.TriagedMessage{
				MailboxID:         req.MailboxID,
				ProviderMessageID: item.ProviderMessageID,
				ThreadID:          item.ThreadID,
				Subject:           item.Subject,
				Sender:            item.Sender,
				Snippet:           item.Snippet,
				ReceivedAt:        item.ReceivedAt,
				Category:          classified.Category,
				Confidence:        classified.Confidence,
				Read:              item.Read,
			})
			if err != nil {
				logrus.Errorf("Failed to record triaged message %s: %v", item.ProviderMessageID, err)
				result.Error = "failed to persist"
			}
		}

		results = append(results, result)
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}
