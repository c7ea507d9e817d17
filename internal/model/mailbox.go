package model

import (
	"time"

	"gorm.io/gorm"
)

// Provider identifies the upstream email provider of a mailbox.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// Mailbox represents one OAuth-connected email account
type Mailbox struct {
	ID           uint     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       string   `json:"user_id" gorm:"type:varchar(64);not null;index;uniqueIndex:uniq_user_address"`
	Provider     Provider `json:"provider" gorm:"type:varchar(16);not null"`
	EmailAddress string   `json:"email_address" gorm:"type:varchar(255);not null;uniqueIndex:uniq_user_address"`
	DisplayName  string   `json:"display_name" gorm:"type:varchar(255)"`

	// SyncCursor is the opaque provider-issued token marking the point up to
	// which changes have been fetched. Empty means "never synced" and forces
	// a full resynchronization. Mutated only by the sync orchestrator after a
	// fully persisted batch.
	SyncCursor string     `json:"sync_cursor" gorm:"type:varchar(2048)"`
	LastSyncAt *time.Time `json:"last_sync_at"`

	Active      bool `json:"active" gorm:"default:true;index"`
	AuthInvalid bool `json:"auth_invalid" gorm:"default:false"`

	// ConsecutiveFailures counts transient sync failures since the last fully
	// successful cycle. Rate limits do not count.
	ConsecutiveFailures int `json:"consecutive_failures" gorm:"default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}
