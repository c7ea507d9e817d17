package handler

import (
	"time"

	"inbox-triage-go/internal/model"
)

// MailboxResponse represents the sync status of one connected mailbox
type MailboxResponse struct {
	ID                  uint       `json:"id"`
	Provider            string     `json:"provider"`
	EmailAddress        string     `json:"email_address"`
	Active              bool       `json:"active"`
	AuthInvalid         bool       `json:"auth_invalid"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	InProgress          bool       `json:"in_progress"`
}

// MessageResponse represents one triaged message
type MessageResponse struct {
	ID                uint      `json:"id"`
	MailboxID         uint      `json:"mailbox_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	ThreadID          string    `json:"thread_id,omitempty"`
	Subject           string    `json:"subject"`
	Sender            string    `json:"sender"`
	Snippet           string    `json:"snippet"`
	ReceivedAt        time.Time `json:"received_at"`
	Category          string    `json:"category"`
	Confidence        float64   `json:"confidence"`
	UserOverride      bool      `json:"user_override"`
	Read              bool      `json:"read"`
	HasDraft          bool      `json:"has_draft"`
}

// OverrideRequest represents a user recategorization request
type OverrideRequest struct {
	Category string `json:"category" binding:"required"`
}

// TriageItem is one raw message summary submitted for classification
type TriageItem struct {
	ProviderMessageID string    `json:"provider_message_id"`
	ThreadID          string    `json:"thread_id"`
	Subject           string    `json:"subject"`
	Sender            string    `json:"sender"`
	Snippet           string    `json:"snippet"`
	ReceivedAt        time.Time `json:"received_at"`
	Read              bool      `json:"read"`
}

// TriageRequest is a batch classification request from the client agent
type TriageRequest struct {
	MailboxID uint         `json:"mailbox_id"`
	Record    bool         `json:"record"`
	Messages  []TriageItem `json:"messages" binding:"required"`
}

// TriageResult is the classification outcome for one submitted message
type TriageResult struct {
	ProviderMessageID string  `json:"provider_message_id"`
	Category          string  `json:"category"`
	Confidence        float64 `json:"confidence"`
	Error             string  `json:"error,omitempty"`
}

// RecategorizeResponse reports how many stored rows changed category
type RecategorizeResponse struct {
	Examined int `json:"examined"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// StatsResponse holds per-category message counts for the caller
type StatsResponse struct {
	Total      int64                    `json:"total"`
	Categories map[model.Category]int64 `json:"categories"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func toMailboxResponse(mb *model.Mailbox) MailboxResponse {
	return MailboxResponse{
		ID:                  mb.ID,
		Provider:            string(mb.Provider),
		EmailAddress:        mb.EmailAddress,
		Active:              mb.Active,
		AuthInvalid:         mb.AuthInvalid,
		ConsecutiveFailures: mb.ConsecutiveFailures,
		LastSyncAt:          mb.LastSyncAt,
	}
}

func toMessageResponse(m *model.TriagedMessage) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		MailboxID:         m.MailboxID,
		ProviderMessageID: m.ProviderMessageID,
		ThreadID:          m.ThreadID,
		Subject:           m.Subject,
		Sender:            m.Sender,
		Snippet:           m.Snippet,
		ReceivedAt:        m.ReceivedAt,
		Category:          string(m.Category),
		Confidence:        m.Confidence,
		UserOverride:      m.UserOverride,
		Read:              m.Read,
		HasDraft:          m.HasDraft,
	}
}
