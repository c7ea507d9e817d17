package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailFetcher fetches changes through the Gmail history API. The cursor is
// the numeric historyId returned by the previous fetch.
type GmailFetcher struct {
	cfg Config
}

// NewGmailFetcher creates a Gmail fetcher.
func NewGmailFetcher(cfg Config) *GmailFetcher {
	return &GmailFetcher{cfg: cfg.withDefaults()}
}

// FetchChanges lists messages added since the cursor. An empty cursor resets
// to the mailbox's current historyId after a bounded backfill of recent mail.
func (f *GmailFetcher) FetchChanges(ctx context.Context, accessToken, cursor string) (*ChangeSet, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	if cursor == "" {
		return f.fullResync(ctx, svc)
	}

	startHistoryID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		// A cursor we cannot parse is as good as an expired one.
		return nil, ErrCursorExpired
	}

	var messages []RemoteMessage
	latestHistoryID := startHistoryID
	seen := make(map[string]bool)

	call := svc.Users.History.List("me").
		StartHistoryId(startHistoryID).
		HistoryTypes("messageAdded").
		MaxResults(int64(f.cfg.PageSize))

	err = call.Pages(ctx, func(page *gmail.ListHistoryResponse) error {
		if page.HistoryId > latestHistoryID {
			latestHistoryID = page.HistoryId
		}
		for _, history := range page.History {
			if history.Id > latestHistoryID {
				latestHistoryID = history.Id
			}
			for _, record := range history.MessagesAdded {
				msgID := record.Message.Id
				if seen[msgID] {
					continue
				}
				seen[msgID] = true

				meta, err := svc.Users.Messages.Get("me", msgID).
					Format("metadata").
					MetadataHeaders("Subject", "From").
					Context(ctx).Do()
				if err != nil {
					if isNotFound(err) {
						// Message deleted between history listing and fetch.
						logrus.Debugf("Gmail message %s vanished before fetch, skipping", msgID)
						continue
					}
					return err
				}
				messages = append(messages, normalizeGmail(meta))
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapGmailError(err)
	}

	return &ChangeSet{
		Messages:  messages,
		NewCursor: strconv.FormatUint(latestHistoryID, 10),
	}, nil
}

// fullResync lists recent mail within the backfill window and positions the
// cursor at the mailbox's current historyId.
func (f *GmailFetcher) fullResync(ctx context.Context, svc *gmail.Service) (*ChangeSet, error) {
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, mapGmailError(err)
	}

	since := time.Now().Add(-f.cfg.BackfillWindow)
	query := fmt.Sprintf("after:%d", since.Unix())

	var messages []RemoteMessage
	call := svc.Users.Messages.List("me").
		Q(query).
		IncludeSpamTrash(false).
		MaxResults(int64(f.cfg.PageSize))

	err = call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			meta, err := svc.Users.Messages.Get("me", m.Id).
				Format("metadata").
				MetadataHeaders("Subject", "From").
				Context(ctx).Do()
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return err
			}
			messages = append(messages, normalizeGmail(meta))
		}
		return nil
	})
	if err != nil {
		return nil, mapGmailError(err)
	}

	return &ChangeSet{
		Messages:  messages,
		NewCursor: strconv.FormatUint(profile.HistoryId, 10),
	}, nil
}

// normalizeGmail converts a Gmail metadata message into a RemoteMessage.
func normalizeGmail(m *gmail.Message) RemoteMessage {
	msg := RemoteMessage{
		ProviderMessageID: m.Id,
		ThreadID:          m.ThreadId,
		Snippet:           m.Snippet,
		ReceivedAt:        time.UnixMilli(m.InternalDate),
		Read:              true,
	}

	if m.Payload != nil {
		for _, header := range m.Payload.Headers {
			switch header.Name {
			case "Subject":
				msg.Subject = header.Value
			case "From":
				msg.Sender = header.Value
			}
		}
	}

	for _, label := range m.LabelIds {
		if label == "UNREAD" {
			msg.Read = false
			break
		}
	}

	return msg
}

// mapGmailError translates Gmail API failures into the fetcher taxonomy.
func mapGmailError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("gmail fetch failed: %w", err)
	}

	switch gerr.Code {
	case 404:
		// The history API returns 404 when the startHistoryId is too old.
		return ErrCursorExpired
	case 401:
		return ErrUnauthorized
	case 429:
		return &RateLimitError{RetryAfter: retryAfterFromHeader(gerr.Header.Get("Retry-After"))}
	case 403:
		for _, e := range gerr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return &RateLimitError{RetryAfter: retryAfterFromHeader(gerr.Header.Get("Retry-After"))}
			}
		}
		return ErrUnauthorized
	}

	return fmt.Errorf("gmail fetch failed: %w", err)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

// retryAfterFromHeader parses a Retry-After header value, falling back to a
// conservative default when the provider does not say.
func retryAfterFromHeader(value string) time.Duration {
	const fallback = 30 * time.Second

	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}
