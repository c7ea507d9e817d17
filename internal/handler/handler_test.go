package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inbox-triage-go/internal/categorize"
	"inbox-triage-go/internal/config"
	"inbox-triage-go/internal/credstore"
	"inbox-triage-go/internal/database"
	"inbox-triage-go/internal/handler"
	"inbox-triage-go/internal/model"
	"inbox-triage-go/internal/notifier"
	"inbox-triage-go/internal/repository"
	"inbox-triage-go/internal/router"
	"inbox-triage-go/internal/syncer"
)

const testSecret = "test-secret"

type testEnv struct {
	db       *gorm.DB
	engine   http.Handler
	messages *repository.MessageRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mailboxRepo := repository.NewMailboxRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	exchanger := credstore.NewOAuthExchanger(
		config.ProviderConfig{ClientID: "client", ClientSecret: "secret"},
		config.ProviderConfig{},
	)
	key := "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
	creds, err := credstore.New(db, exchanger, key, time.Minute)
	require.NoError(t, err)

	ruleEngine := categorize.NewRuleEngine(nil)
	hub := notifier.NewHub(8, 4)
	orchestrator := syncer.New(mailboxRepo, messageRepo, creds, ruleEngine, hub, nil, config.SyncConfig{
		IntervalMinutes:        5,
		MaxConsecutiveFailures: 5,
		CycleTimeout:           time.Minute,
	})

	h := handler.NewHandlers(db, mailboxRepo, messageRepo, creds, ruleEngine, orchestrator, hub, testSecret)
	return &testEnv{db: db, engine: router.SetupRouter(h), messages: messageRepo}
}

func (e *testEnv) createMailbox(t *testing.T, userID string) *model.Mailbox {
	t.Helper()
	mb := &model.Mailbox{
		UserID:       userID,
		Provider:     model.ProviderGmail,
		EmailAddress: userID + "@example.com",
		Active:       true,
	}
	require.NoError(t, e.db.Create(mb).Error)
	return mb
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handler.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTriageBatch(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/triage", "user-1", handler.TriageRequest{
		Messages: []handler.TriageItem{
			{
				ProviderMessageID: "m-1",
				Subject:           "URGENT: server down",
				Sender:            "alerts@example.com",
				Snippet:           "Production outage",
				ReceivedAt:        time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			},
			{
				ProviderMessageID: "m-2",
				Subject:           "50% off sale",
				Sender:            "deals@shop.example.com",
				Snippet:           "Save big today",
				ReceivedAt:        time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []handler.TriageResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, string(model.CategoryUrgent), resp.Results[0].Category)
	assert.Equal(t, string(model.CategoryPromotional), resp.Results[1].Category)

	// Nothing persisted without the record flag.
	var count int64
	require.NoError(t, env.db.Model(&model.TriagedMessage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTriageBatchWithRecord(t *testing.T) {
	env := newTestEnv(t)
	mb := env.createMailbox(t, "user-1")

	w := env.request(t, http.MethodPost, "/api/v1/triage", "user-1", handler.TriageRequest{
		MailboxID: mb.ID,
		Record:    true,
		Messages: []handler.TriageItem{
			{
				ProviderMessageID: "m-1",
				Subject:           "Weekly digest",
				Sender:            "team@example.com",
				Snippet:           "Your newsletter update",
				ReceivedAt:        time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var stored model.TriagedMessage
	require.NoError(t, env.db.Where("provider_message_id = ?", "m-1").First(&stored).Error)
	assert.Equal(t, mb.ID, stored.MailboxID)

	// Recording into someone else's mailbox is rejected.
	w = env.request(t, http.MethodPost, "/api/v1/triage", "user-2", handler.TriageRequest{
		MailboxID: mb.ID,
		Record:    true,
		Messages:  []handler.TriageItem{{ProviderMessageID: "m-2", Subject: "hi", Sender: "a@b.c"}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriageRejectsEmptyBatch(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/triage", "user-1", handler.TriageRequest{Messages: []handler.TriageItem{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverrideCategory(t *testing.T) {
	env := newTestEnv(t)
	mb := env.createMailbox(t, "user-1")

	_, err := env.messages.Upsert(&model.TriagedMessage{
		MailboxID:         mb.ID,
		ProviderMessageID: "m-1",
		Subject:           "Weekly digest",
		Sender:            "team@example.com",
		ReceivedAt:        time.Now(),
		Category:          model.CategoryRoutine,
		Confidence:        0.4,
	})
	require.NoError(t, err)

	var stored model.TriagedMessage
	require.NoError(t, env.db.Where("provider_message_id = ?", "m-1").First(&stored).Error)

	w := env.request(t, http.MethodPut, "/api/v1/messages/"+itoa(stored.ID)+"/category", "user-1",
		handler.OverrideRequest{Category: "important"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp handler.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "important", resp.Category)
	assert.True(t, resp.UserOverride)

	// Another user cannot touch the message.
	w = env.request(t, http.MethodPut, "/api/v1/messages/"+itoa(stored.ID)+"/category", "user-2",
		handler.OverrideRequest{Category: "spam"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unknown categories are rejected.
	w = env.request(t, http.MethodPut, "/api/v1/messages/"+itoa(stored.ID)+"/category", "user-1",
		handler.OverrideRequest{Category: "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMessagesAndStats(t *testing.T) {
	env := newTestEnv(t)
	mb := env.createMailbox(t, "user-1")

	for i, category := range []model.Category{model.CategoryUrgent, model.CategoryRoutine} {
		_, err := env.messages.Upsert(&model.TriagedMessage{
			MailboxID:         mb.ID,
			ProviderMessageID: "m-" + itoa(uint(i)),
			Subject:           "subject",
			Sender:            "someone@example.com",
			ReceivedAt:        time.Now().Add(time.Duration(i) * time.Minute),
			Category:          category,
			Confidence:        0.5,
		})
		require.NoError(t, err)
	}

	w := env.request(t, http.MethodGet, "/api/v1/messages?category=urgent", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var messages []handler.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "urgent", messages[0].Category)

	w = env.request(t, http.MethodGet, "/api/v1/messages?category=bogus", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/stats", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats handler.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Categories[model.CategoryUrgent])
}

func TestListMailboxes(t *testing.T) {
	env := newTestEnv(t)
	env.createMailbox(t, "user-1")
	env.createMailbox(t, "user-2")

	w := env.request(t, http.MethodGet, "/api/v1/mailboxes", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var mailboxes []handler.MailboxResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mailboxes))
	require.Len(t, mailboxes, 1)
	assert.Equal(t, "user-1@example.com", mailboxes[0].EmailAddress)
	assert.False(t, mailboxes[0].InProgress, "no sync cycle is running for the mailbox")
}

func TestRecategorizeSkipsOverrides(t *testing.T) {
	env := newTestEnv(t)
	mb := env.createMailbox(t, "user-1")

	// Stored with a stale category the engine would not choose today.
	_, err := env.messages.Upsert(&model.TriagedMessage{
		MailboxID:         mb.ID,
		ProviderMessageID: "m-1",
		Subject:           "50% off sale ends tonight",
		Sender:            "deals@shop.example.com",
		Snippet:           "Exclusive discount, save big",
		ReceivedAt:        time.Now(),
		Category:          model.CategoryRoutine,
		Confidence:        0.3,
	})
	require.NoError(t, err)

	_, err = env.messages.Upsert(&model.TriagedMessage{
		MailboxID:         mb.ID,
		ProviderMessageID: "m-2",
		Subject:           "Limited time offer, free coupon",
		Sender:            "promo@shop.example.com",
		Snippet:           "Special deal",
		ReceivedAt:        time.Now(),
		Category:          model.CategoryRoutine,
		Confidence:        0.3,
	})
	require.NoError(t, err)

	var frozen model.TriagedMessage
	require.NoError(t, env.db.Where("provider_message_id = ?", "m-2").First(&frozen).Error)
	require.NoError(t, env.messages.SetUserOverride(frozen.ID, model.CategoryImportant))

	w := env.request(t, http.MethodPost, "/api/v1/messages/recategorize", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handler.RecategorizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Examined)
	assert.Equal(t, 1, resp.Updated)
	assert.Equal(t, 1, resp.Skipped)

	var updated model.TriagedMessage
	require.NoError(t, env.db.Where("provider_message_id = ?", "m-1").First(&updated).Error)
	assert.Equal(t, model.CategoryPromotional, updated.Category)

	require.NoError(t, env.db.First(&frozen, frozen.ID).Error)
	assert.Equal(t, model.CategoryImportant, frozen.Category)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
