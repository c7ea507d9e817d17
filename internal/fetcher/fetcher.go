package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inbox-triage-go/internal/model"
)

// Sentinel failure modes of the providers' incremental-change APIs.
var (
	// ErrCursorExpired means the provider rejected the sync cursor as too
	// old. The orchestrator responds with one full resynchronization.
	ErrCursorExpired = errors.New("sync cursor expired")

	// ErrUnauthorized means the access token was rejected.
	ErrUnauthorized = errors.New("access token rejected")
)

// RateLimitError reports a provider quota response. RetryAfter is the delay
// the provider asked for; the orchestrator honors it as a scheduling delay,
// not a failure.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RemoteMessage is a normalized message header as returned by a provider.
type RemoteMessage struct {
	ProviderMessageID string
	ThreadID          string
	Subject           string
	Sender            string
	Snippet           string
	ReceivedAt        time.Time
	Read              bool
}

// ChangeSet is the result of one incremental fetch: the new or changed
// messages since the supplied cursor, in provider order, plus the cursor to
// store once the batch is durably persisted.
type ChangeSet struct {
	Messages  []RemoteMessage
	NewCursor string
}

// Fetcher retrieves changes from one provider's incremental API. An empty
// cursor requests a cursor reset: the implementation returns a bounded recent
// backfill and a cursor positioned at "now".
type Fetcher interface {
	FetchChanges(ctx context.Context, accessToken, cursor string) (*ChangeSet, error)
}

// Config bounds the cost of a single fetch.
type Config struct {
	PageSize       int
	BackfillWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.BackfillWindow <= 0 {
		c.BackfillWindow = 30 * 24 * time.Hour
	}
	return c
}

// New returns the fetcher for a provider. This is the only place in the
// codebase that branches on the provider value; adding a provider means
// adding one implementation here.
func New(provider model.Provider, cfg Config) (Fetcher, error) {
	switch provider {
	case model.ProviderGmail:
		return NewGmailFetcher(cfg), nil
	case model.ProviderOutlook:
		return NewOutlookFetcher(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
