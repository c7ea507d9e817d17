package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
)

// OutlookFetcher fetches changes through the Microsoft Graph delta query on
// the inbox folder. The cursor is the deltaLink URL returned by the previous
// round.
type OutlookFetcher struct {
	cfg Config
}

// NewOutlookFetcher creates an Outlook fetcher.
func NewOutlookFetcher(cfg Config) *OutlookFetcher {
	return &OutlookFetcher{cfg: cfg.withDefaults()}
}

var deltaSelect = []string{
	"id", "conversationId", "subject", "from", "bodyPreview", "receivedDateTime", "isRead",
}

// FetchChanges drains the delta query from the cursor. An empty cursor starts
// a fresh delta round, which doubles as the bounded backfill.
func (f *OutlookFetcher) FetchChanges(ctx context.Context, accessToken, cursor string) (*ChangeSet, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(
		&staticTokenCredential{token: accessToken}, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	var messages []RemoteMessage
	var page users.ItemMailFoldersItemMessagesDeltaGetResponseable

	if cursor == "" {
		top := int32(f.cfg.PageSize)
		requestConfig := &users.ItemMailFoldersItemMessagesDeltaRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMailFoldersItemMessagesDeltaRequestBuilderGetQueryParameters{
				Top:    &top,
				Select: deltaSelect,
			},
		}
		page, err = client.Me().MailFolders().ByMailFolderId("inbox").Messages().Delta().GetAsDeltaGetResponse(ctx, requestConfig)
	} else {
		builder := users.NewItemMailFoldersItemMessagesDeltaRequestBuilder(cursor, client.GetAdapter())
		page, err = builder.GetAsDeltaGetResponse(ctx, nil)
	}
	if err != nil {
		return nil, mapGraphError(err)
	}

	for {
		for _, m := range page.GetValue() {
			messages = append(messages, normalizeOutlook(m))
		}

		nextLink := page.GetOdataNextLink()
		if nextLink == nil || *nextLink == "" {
			break
		}

		builder := users.NewItemMailFoldersItemMessagesDeltaRequestBuilder(*nextLink, client.GetAdapter())
		page, err = builder.GetAsDeltaGetResponse(ctx, nil)
		if err != nil {
			return nil, mapGraphError(err)
		}
	}

	deltaLink := page.GetOdataDeltaLink()
	if deltaLink == nil || *deltaLink == "" {
		return nil, fmt.Errorf("graph delta response carried no delta link")
	}

	return &ChangeSet{
		Messages:  messages,
		NewCursor: *deltaLink,
	}, nil
}

// normalizeOutlook converts a Graph message into a RemoteMessage.
func normalizeOutlook(m models.Messageable) RemoteMessage {
	msg := RemoteMessage{}

	if id := m.GetId(); id != nil {
		msg.ProviderMessageID = *id
	}
	if convID := m.GetConversationId(); convID != nil {
		msg.ThreadID = *convID
	}
	if subject := m.GetSubject(); subject != nil {
		msg.Subject = *subject
	}
	if from := m.GetFrom(); from != nil {
		if emailAddr := from.GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				msg.Sender = *addr
			}
		}
	}
	if preview := m.GetBodyPreview(); preview != nil {
		msg.Snippet = *preview
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		msg.ReceivedAt = *rcvd
	}
	if read := m.GetIsRead(); read != nil {
		msg.Read = *read
	}

	return msg
}

// mapGraphError translates Graph failures into the fetcher taxonomy.
func mapGraphError(err error) error {
	var oerr *odataerrors.ODataError
	if !errors.As(err, &oerr) {
		return fmt.Errorf("graph fetch failed: %w", err)
	}

	switch oerr.ResponseStatusCode {
	case 410:
		// Graph signals a required full resync with 410 Gone on the delta URL.
		return ErrCursorExpired
	case 401:
		return ErrUnauthorized
	case 429:
		retryAfter := ""
		if headers := oerr.ResponseHeaders; headers != nil {
			if values := headers.Get("Retry-After"); len(values) > 0 {
				retryAfter = values[0]
			}
		}
		return &RateLimitError{RetryAfter: retryAfterFromHeader(retryAfter)}
	}

	return fmt.Errorf("graph fetch failed: %w", err)
}

// staticTokenCredential hands a pre-minted access token to the Graph SDK.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}
