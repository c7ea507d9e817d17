package model

import (
	"time"

	"gorm.io/gorm"
)

// Credential holds the encrypted OAuth token pair for a mailbox. Token
// plaintext exists only inside the credential store's decrypt boundary;
// everything outside sees ciphertext.
type Credential struct {
	ID        uint `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID uint `json:"mailbox_id" gorm:"not null;uniqueIndex"`

	AccessTokenCipher  []byte    `json:"-" gorm:"type:blob;not null"`
	RefreshTokenCipher []byte    `json:"-" gorm:"type:blob;not null"`
	ExpiresAt          time.Time `json:"expires_at"`
	Scopes             string    `json:"scopes" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Mailbox *Mailbox `json:"-" gorm:"foreignKey:MailboxID"`
}

// TableName specifies the table name for Credential
func (Credential) TableName() string {
	return "credentials"
}
