package model

import (
	"time"

	"gorm.io/gorm"
)

// Category is the closed set of priority labels assigned to a message.
type Category string

const (
	CategoryUrgent      Category = "urgent"
	CategoryImportant   Category = "important"
	CategoryRoutine     Category = "routine"
	CategoryPromotional Category = "promotional"
	CategorySpam        Category = "spam"

	// CategoryUncategorized is assigned only when the engine fails on an
	// individual message; the rest of the batch proceeds.
	CategoryUncategorized Category = "uncategorized"
)

// ValidCategory reports whether c is one of the user-assignable labels.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryUrgent, CategoryImportant, CategoryRoutine, CategoryPromotional, CategorySpam:
		return true
	}
	return false
}

// TriagedMessage represents one categorized email scoped to a mailbox.
// (mailbox_id, provider_message_id) is unique: re-ingesting the same message
// is a no-op, never a duplicate row.
type TriagedMessage struct {
	ID                uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID         uint   `json:"mailbox_id" gorm:"not null;uniqueIndex:uniq_mailbox_message;index:idx_mailbox_category"`
	ProviderMessageID string `json:"provider_message_id" gorm:"type:varchar(255);not null;uniqueIndex:uniq_mailbox_message"`
	ThreadID          string `json:"thread_id" gorm:"type:varchar(255);index"`

	Subject    string    `json:"subject" gorm:"type:text"`
	Sender     string    `json:"sender" gorm:"type:varchar(320);index"`
	Snippet    string    `json:"snippet" gorm:"type:text"`
	ReceivedAt time.Time `json:"received_at" gorm:"index"`

	Category   Category `json:"category" gorm:"type:varchar(20);not null;index:idx_mailbox_category"`
	Confidence float64  `json:"confidence" gorm:"default:0"`

	// UserOverride freezes Category against automated reclassification once a
	// human has recategorized the message.
	UserOverride bool `json:"user_override" gorm:"default:false"`

	Read     bool `json:"read" gorm:"default:false"`
	HasDraft bool `json:"has_draft" gorm:"default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Mailbox *Mailbox `json:"-" gorm:"foreignKey:MailboxID"`
}

// TableName specifies the table name for TriagedMessage
func (TriagedMessage) TableName() string {
	return "triaged_messages"
}
