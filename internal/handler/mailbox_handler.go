package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"inbox-triage-go/internal/auth"
)

// ListMailboxes returns the caller's connected mailboxes and their sync state
func (h *Handlers) ListMailboxes(c *gin.Context) {
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

	response := make([]MailboxResponse, 0, len(mailboxes))
	for i := range mailboxes {
		resp := toMailboxResponse(&mailboxes[i])
		resp.InProgress = h.orchestrator.InFlight(mailboxes[i].ID)
		response = append(response, resp)
	}
	c.JSON(http.StatusOK, response)
}

// SyncMailbox triggers an immediate sync cycle for one mailbox. If a cycle
// for the mailbox is already in flight the request is accepted but dropped.
func (h *Handlers) SyncMailbox(c *gin.Context) {
	mb, ok := h.ownedMailbox(c)
	if !ok {
		return
	}
	if !mb.Active {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "mailbox_inactive",
			Message: "Mailbox is deactivated and cannot be synced",
			Code:    http.StatusConflict,
		})
		return
	}

	mailboxID := mb.ID
	go h.orchestrator.SyncNow(mailboxID)
	c.JSON(http.StatusAccepted, gin.H{"message": "Sync triggered", "mailbox_id": mailboxID})
}

// DisconnectMailbox destroys the stored credential and deactivates the
// mailbox. Triaged messages are kept.
func (h *Handlers) DisconnectMailbox(c *gin.Context) {
	mb, ok := h.ownedMailbox(c)
	if !ok {
		return
	}

	if err := h.creds.Disconnect(mb.ID); err != nil {
		logrus.Errorf("Failed to disconnect mailbox %d: %v", mb.ID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to disconnect mailbox",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"mailbox_id": mb.ID,
		"address":    mb.EmailAddress,
	}).Info("Mailbox disconnected")
	c.JSON(http.StatusOK, gin.H{"message": "Mailbox disconnected", "mailbox_id": mb.ID})
}

// ownedMailbox parses the :id parameter and loads the mailbox if it belongs
// to the caller. Writes the error response itself when it fails.
func (h *Handlers) ownedMailbox(c *gin.Context) (mb mailboxRef, ok bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Mailbox ID must be a positive integer",
			Code:    http.StatusBadRequest,
		})
		return mb, false
	}

	found, err := h.mailboxes.GetForUser(auth.UserID(c), uint(id))
	if err != nil {
		logrus.Errorf("Failed to load mailbox %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load mailbox",
			Code:    http.StatusInternalServerError,
		})
		return mb, false
	}
	if found == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Mailbox not found",
			Code:    http.StatusNotFound,
		})
		return mb, false
	}

	return mailboxRef{ID: found.ID, EmailAddress: found.EmailAddress, Active: found.Active}, true
}

type mailboxRef struct {
	ID           uint
	EmailAddress string
	Active       bool
}
