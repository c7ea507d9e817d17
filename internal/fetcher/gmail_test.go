package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/gmail/v1"

	"inbox-triage-go/internal/model"
)

func TestNewSelectsProvider(t *testing.T) {
	f, err := New(model.ProviderGmail, Config{})
	require.NoError(t, err)
	assert.IsType(t, &GmailFetcher{}, f)

	f, err = New(model.ProviderOutlook, Config{})
	require.NoError(t, err)
	assert.IsType(t, &OutlookFetcher{}, f)

	_, err = New(model.Provider("imap"), Config{})
	assert.Error(t, err)
}

func TestMapGmailError(t *testing.T) {
	assert.ErrorIs(t, mapGmailError(&googleapi.Error{Code: 404}), ErrCursorExpired)
	assert.ErrorIs(t, mapGmailError(&googleapi.Error{Code: 401}), ErrUnauthorized)

	err := mapGmailError(&googleapi.Error{
		Code:   429,
		Header: http.Header{"Retry-After": []string{"12"}},
	})
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 12*time.Second, rateErr.RetryAfter)

	// 403 is a rate limit only for quota reasons; otherwise the token lacks
	// the scope.
	err = mapGmailError(&googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
	})
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 30*time.Second, rateErr.RetryAfter)

	err = mapGmailError(&googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	plain := fmt.Errorf("connection reset")
	wrapped := mapGmailError(plain)
	assert.False(t, errors.Is(wrapped, ErrCursorExpired))
	assert.ErrorContains(t, wrapped, "connection reset")
}

func TestRetryAfterFromHeader(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryAfterFromHeader(""))
	assert.Equal(t, 5*time.Second, retryAfterFromHeader("5"))
	assert.Equal(t, 30*time.Second, retryAfterFromHeader("garbage"))

	// HTTP-date form.
	future := time.Now().Add(2 * time.Minute).UTC().Format(time.RFC1123)
	d := retryAfterFromHeader(future)
	assert.Greater(t, d, time.Minute)
	assert.LessOrEqual(t, d, 2*time.Minute)

	// A date in the past falls back rather than producing a zero delay.
	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC1123)
	assert.Equal(t, 30*time.Second, retryAfterFromHeader(past))
}

func TestNormalizeGmail(t *testing.T) {
	received := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	msg := normalizeGmail(&gmail.Message{
		Id:           "m-1",
		ThreadId:     "t-1",
		Snippet:      "short preview",
		InternalDate: received.UnixMilli(),
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Weekly report"},
				{Name: "From", Value: "team@example.com"},
			},
		},
	})

	assert.Equal(t, "m-1", msg.ProviderMessageID)
	assert.Equal(t, "t-1", msg.ThreadID)
	assert.Equal(t, "Weekly report", msg.Subject)
	assert.Equal(t, "team@example.com", msg.Sender)
	assert.False(t, msg.Read)
	assert.True(t, msg.ReceivedAt.Equal(received))

	read := normalizeGmail(&gmail.Message{Id: "m-2", LabelIds: []string{"INBOX"}})
	assert.True(t, read.Read)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Greater(t, cfg.PageSize, 0)
	assert.Greater(t, cfg.BackfillWindow, time.Duration(0))
}
