package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inbox-triage-go/internal/database"
	"inbox-triage-go/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createMailbox(t *testing.T, db *gorm.DB, userID, address string) *model.Mailbox {
	t.Helper()

	mb := &model.Mailbox{
		UserID:       userID,
		Provider:     model.ProviderGmail,
		EmailAddress: address,
		Active:       true,
	}
	require.NoError(t, db.Create(mb).Error)
	return mb
}

func sampleMessage(mailboxID uint, providerID string) *model.TriagedMessage {
	return &model.TriagedMessage{
		MailboxID:         mailboxID,
		ProviderMessageID: providerID,
		ThreadID:          "thread-1",
		Subject:           "Weekly status report",
		Sender:            "team@example.com",
		Snippet:           "Here is the weekly status",
		ReceivedAt:        time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Category:          model.CategoryRoutine,
		Confidence:        0.4,
	}
}
