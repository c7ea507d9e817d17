package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inbox-triage-go/internal/model"
)

// WriteResult reports what an upsert actually did, so the caller can decide
// whether a change event is warranted.
type WriteResult int

const (
	WriteNoOp WriteResult = iota
	WriteInserted
	WriteUpdated
)

func (r WriteResult) String() string {
	switch r {
	case WriteInserted:
		return "inserted"
	case WriteUpdated:
		return "updated"
	default:
		return "noop"
	}
}

// ErrWriteConflict reports a storage-level constraint violation that survived
// the upsert path. It should not occur; it is surfaced rather than swallowed.
var ErrWriteConflict = errors.New("write conflict on triaged message")

// MessageRepository is the persistence boundary for triaged messages.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert stores a message keyed on (mailbox, provider message id). A row with
// a user override keeps its category and confidence untouched; only read and
// draft metadata may move. A byte-identical incoming message is a no-op so no
// event is emitted for it upstream.
func (r *MessageRepository) Upsert(msg *model.TriagedMessage) (WriteResult, error) {
	var existing model.TriagedMessage
	err := r.db.Where("mailbox_id = ? AND provider_message_id = ?", msg.MailboxID, msg.ProviderMessageID).
		First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		result := r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox_id"}, {Name: "provider_message_id"}},
			DoNothing: true,
		}).Create(msg)
		if result.Error != nil {
			return WriteNoOp, fmt.Errorf("failed to insert message: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return WriteInserted, nil
		}

		// Lost an insert race; reload and update instead.
		if err := r.db.Where("mailbox_id = ? AND provider_message_id = ?", msg.MailboxID, msg.ProviderMessageID).
			First(&existing).Error; err != nil {
			return WriteNoOp, fmt.Errorf("%w: %v", ErrWriteConflict, err)
		}
	} else if err != nil {
		return WriteNoOp, fmt.Errorf("database error loading message: %w", err)
	}

	if existing.UserOverride {
		if existing.Read == msg.Read && existing.HasDraft == msg.HasDraft {
			return WriteNoOp, nil
		}
		updates := map[string]interface{}{"read": msg.Read, "has_draft": msg.HasDraft}
		if err := r.db.Model(&existing).Updates(updates).Error; err != nil {
			return WriteNoOp, fmt.Errorf("failed to update message metadata: %w", err)
		}
		return WriteUpdated, nil
	}

	if identical(&existing, msg) {
		return WriteNoOp, nil
	}

	updates := map[string]interface{}{
		"thread_id":   msg.ThreadID,
		"subject":     msg.Subject,
		"sender":      msg.Sender,
		"snippet":     msg.Snippet,
		"received_at": msg.ReceivedAt,
		"category":    msg.Category,
		"confidence":  msg.Confidence,
		"read":        msg.Read,
		"has_draft":   msg.HasDraft,
	}
	if err := r.db.Model(&existing).Updates(updates).Error; err != nil {
		return WriteNoOp, fmt.Errorf("failed to update message: %w", err)
	}
	return WriteUpdated, nil
}

func identical(stored, incoming *model.TriagedMessage) bool {
	return stored.ThreadID == incoming.ThreadID &&
		stored.Subject == incoming.Subject &&
		stored.Sender == incoming.Sender &&
		stored.Snippet == incoming.Snippet &&
		stored.ReceivedAt.Equal(incoming.ReceivedAt) &&
		stored.Category == incoming.Category &&
		stored.Confidence == incoming.Confidence &&
		stored.Read == incoming.Read &&
		stored.HasDraft == incoming.HasDraft
}

// Get returns one message by ID, scoped to mailboxes of the given user.
func (r *MessageRepository) Get(userID string, id uint) (*model.TriagedMessage, error) {
	var msg model.TriagedMessage
	err := r.db.Joins("JOIN mailboxes ON mailboxes.id = triaged_messages.mailbox_id").
		Where("triaged_messages.id = ? AND mailboxes.user_id = ?", id, userID).
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("database error loading message %d: %w", id, err)
	}
	return &msg, nil
}

// List returns a user's messages, newest first, optionally filtered by
// category.
func (r *MessageRepository) List(userID string, category model.Category, limit, offset int) ([]model.TriagedMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := r.db.Joins("JOIN mailboxes ON mailboxes.id = triaged_messages.mailbox_id").
		Where("mailboxes.user_id = ?", userID)
	if category != "" {
		query = query.Where("triaged_messages.category = ?", category)
	}

	var messages []model.TriagedMessage
	err := query.Order("triaged_messages.received_at DESC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListOverridden returns the mailbox's rows frozen by a user override. The
// orchestrator consults this before classifying a batch so overridden
// messages never reach the engine.
func (r *MessageRepository) ListOverridden(mailboxID uint) ([]model.TriagedMessage, error) {
	var messages []model.TriagedMessage
	err := r.db.Where("mailbox_id = ? AND user_override = ?", mailboxID, true).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list overridden messages: %w", err)
	}
	return messages, nil
}

// ListByMailbox returns every message of a mailbox, for recategorization.
func (r *MessageRepository) ListByMailbox(mailboxID uint) ([]model.TriagedMessage, error) {
	var messages []model.TriagedMessage
	if err := r.db.Where("mailbox_id = ?", mailboxID).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list mailbox messages: %w", err)
	}
	return messages, nil
}

// SetUserOverride recategorizes a message on the user's behalf and freezes it
// against future automated reclassification.
func (r *MessageRepository) SetUserOverride(id uint, category model.Category) error {
	updates := map[string]interface{}{
		"category":      category,
		"user_override": true,
	}
	result := r.db.Model(&model.TriagedMessage{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to set override on message %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateCategory replaces the automated classification of a message. Rows
// with a user override are left untouched.
func (r *MessageRepository) UpdateCategory(id uint, category model.Category, confidence float64) (bool, error) {
	result := r.db.Model(&model.TriagedMessage{}).
		Where("id = ? AND user_override = ?", id, false).
		Updates(map[string]interface{}{"category": category, "confidence": confidence})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update category on message %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CategoryStats returns per-category message counts for a user.
func (r *MessageRepository) CategoryStats(userID string) (map[model.Category]int64, error) {
	type row struct {
		Category model.Category
		Count    int64
	}

	var rows []row
	err := r.db.Model(&model.TriagedMessage{}).
		Select("triaged_messages.category AS category, COUNT(*) AS count").
		Joins("JOIN mailboxes ON mailboxes.id = triaged_messages.mailbox_id").
		Where("mailboxes.user_id = ?", userID).
		Group("triaged_messages.category").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute category stats: %w", err)
	}

	stats := make(map[model.Category]int64, len(rows))
	for _, r := range rows {
		stats[r.Category] = r.Count
	}
	return stats, nil
}
