package notifier

import "time"

// EventType identifies a sync lifecycle or categorization event.
type EventType string

const (
	EventSyncStarted        EventType = "sync-started"
	EventSyncProgress       EventType = "sync-progress"
	EventMessageCategorized EventType = "message-categorized"
	EventSyncCompleted      EventType = "sync-completed"
	EventSyncFailed         EventType = "sync-failed"
	EventUrgentAlert        EventType = "urgent-alert"
)

// Event is the unit delivered to subscribers. Payload carries event-specific
// fields and must be JSON-serializable.
type Event struct {
	Type      EventType              `json:"type"`
	MailboxID uint                   `json:"mailbox_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
