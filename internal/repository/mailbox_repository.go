package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"inbox-triage-go/internal/model"
)

// MailboxRepository is the persistence boundary for connected mailboxes.
type MailboxRepository struct {
	db *gorm.DB
}

// NewMailboxRepository creates a mailbox repository.
func NewMailboxRepository(db *gorm.DB) *MailboxRepository {
	return &MailboxRepository{db: db}
}

// Get returns one mailbox by ID.
func (r *MailboxRepository) Get(id uint) (*model.Mailbox, error) {
	var mb model.Mailbox
	if err := r.db.First(&mb, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("database error loading mailbox %d: %w", id, err)
	}
	return &mb, nil
}

// GetForUser returns one mailbox by ID if it belongs to the given user.
func (r *MailboxRepository) GetForUser(userID string, id uint) (*model.Mailbox, error) {
	var mb model.Mailbox
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&mb).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("database error loading mailbox %d: %w", id, err)
	}
	return &mb, nil
}

// ListActive returns every mailbox eligible for a sync sweep.
func (r *MailboxRepository) ListActive() ([]model.Mailbox, error) {
	var mailboxes []model.Mailbox
	err := r.db.Where("active = ? AND auth_invalid = ?", true, false).Find(&mailboxes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active mailboxes: %w", err)
	}
	return mailboxes, nil
}

// ListByUser returns all mailboxes connected by a user, including inactive
// ones so the caller can show reauthorization state.
func (r *MailboxRepository) ListByUser(userID string) ([]model.Mailbox, error) {
	var mailboxes []model.Mailbox
	err := r.db.Where("user_id = ?", userID).Order("id").Find(&mailboxes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return mailboxes, nil
}

// AdvanceCursor persists the new sync cursor after a batch has been fully
// written, records the sync time, and clears the failure counter. The cursor
// never moves before the batch it covers is durable.
func (r *MailboxRepository) AdvanceCursor(id uint, cursor string, syncedAt time.Time) error {
	updates := map[string]interface{}{
		"sync_cursor":          cursor,
		"last_sync_at":         syncedAt,
		"consecutive_failures": 0,
	}
	if err := r.db.Model(&model.Mailbox{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to advance cursor on mailbox %d: %w", id, err)
	}
	return nil
}

// ResetCursor clears the sync cursor so the next cycle performs a full
// resync.
func (r *MailboxRepository) ResetCursor(id uint) error {
	err := r.db.Model(&model.Mailbox{}).Where("id = ?", id).
		Update("sync_cursor", "").Error
	if err != nil {
		return fmt.Errorf("failed to reset cursor on mailbox %d: %w", id, err)
	}
	return nil
}

// IncrementFailures bumps the consecutive failure counter and returns the new
// value.
func (r *MailboxRepository) IncrementFailures(id uint) (int, error) {
	err := r.db.Model(&model.Mailbox{}).Where("id = ?", id).
		UpdateColumn("consecutive_failures", gorm.Expr("consecutive_failures + 1")).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count failure on mailbox %d: %w", id, err)
	}

	var mb model.Mailbox
	if err := r.db.Select("consecutive_failures").First(&mb, id).Error; err != nil {
		return 0, fmt.Errorf("failed to reload mailbox %d: %w", id, err)
	}
	return mb.ConsecutiveFailures, nil
}

// Deactivate removes a mailbox from sync sweeps until reactivated.
func (r *MailboxRepository) Deactivate(id uint) error {
	if err := r.db.Model(&model.Mailbox{}).Where("id = ?", id).Update("active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate mailbox %d: %w", id, err)
	}
	return nil
}
