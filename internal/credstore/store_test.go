package credstore

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inbox-triage-go/internal/database"
	"inbox-triage-go/internal/model"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

// fakeExchanger counts exchanges and returns a canned outcome.
type fakeExchanger struct {
	mu    sync.Mutex
	calls int32
	token *Token
	err   error
	delay time.Duration
}

func (f *fakeExchanger) Exchange(ctx context.Context, provider model.Provider, refreshToken string) (*Token, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func newStoreTest(t *testing.T, exchanger TokenExchanger) (*Store, *gorm.DB, *model.Mailbox) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	store, err := New(db, exchanger, testKey, time.Minute)
	require.NoError(t, err)

	mb := &model.Mailbox{
		UserID:       "user-1",
		Provider:     model.ProviderGmail,
		EmailAddress: "one@example.com",
		Active:       true,
	}
	require.NoError(t, db.Create(mb).Error)
	return store, db, mb
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	enc, err := newEncryptor(testKey)
	require.NoError(t, err)

	cipher1, err := enc.encrypt("ya29.secret-token")
	require.NoError(t, err)
	cipher2, err := enc.encrypt("ya29.secret-token")
	require.NoError(t, err)

	// Fresh nonce per encryption.
	assert.NotEqual(t, cipher1, cipher2)
	assert.NotContains(t, string(cipher1), "secret-token")

	plain, err := enc.decrypt(cipher1)
	require.NoError(t, err)
	assert.Equal(t, "ya29.secret-token", plain)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := newEncryptor("not base64!!")
	assert.Error(t, err)

	_, err = newEncryptor(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestAccessTokenReturnsStoredWhileFresh(t *testing.T) {
	exchanger := &fakeExchanger{}
	store, _, mb := newStoreTest(t, exchanger)

	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now().Add(time.Hour), []string{"mail.read"}))

	token, err := store.AccessToken(context.Background(), mb.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Zero(t, atomic.LoadInt32(&exchanger.calls))
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	exchanger := &fakeExchanger{
		token: &Token{AccessToken: "access-2", Expiry: time.Now().Add(time.Hour)},
	}
	store, db, mb := newStoreTest(t, exchanger)

	// Expires inside the one-minute margin.
	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now().Add(10*time.Second), nil))

	token, err := store.AccessToken(context.Background(), mb.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchanger.calls))

	// The refreshed token is persisted, so a second read skips the exchange.
	var cred model.Credential
	require.NoError(t, db.Where("mailbox_id = ?", mb.ID).First(&cred).Error)
	assert.True(t, cred.ExpiresAt.After(time.Now().Add(30*time.Minute)))

	token, err = store.AccessToken(context.Background(), mb.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&exchanger.calls))
}

func TestAccessTokenRotatesRefreshToken(t *testing.T) {
	exchanger := &fakeExchanger{
		token: &Token{AccessToken: "access-2", RefreshToken: "refresh-2", Expiry: time.Now().Add(time.Hour)},
	}
	store, db, mb := newStoreTest(t, exchanger)
	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now(), nil))

	_, err := store.AccessToken(context.Background(), mb.ID)
	require.NoError(t, err)

	var cred model.Credential
	require.NoError(t, db.Where("mailbox_id = ?", mb.ID).First(&cred).Error)
	plain, err := store.enc.decrypt(cred.RefreshTokenCipher)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", plain)
}

func TestInvalidGrantMarksMailboxAuthInvalid(t *testing.T) {
	exchanger := &fakeExchanger{
		err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"},
	}
	store, db, mb := newStoreTest(t, exchanger)
	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now(), nil))

	_, err := store.AccessToken(context.Background(), mb.ID)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthIrrecoverable, authErr.Kind)

	var reloaded model.Mailbox
	require.NoError(t, db.First(&reloaded, mb.ID).Error)
	assert.True(t, reloaded.AuthInvalid)
	assert.False(t, reloaded.Active)
}

func TestTransientExchangeFailure(t *testing.T) {
	exchanger := &fakeExchanger{
		err: &oauth2.RetrieveError{ErrorCode: "temporarily_unavailable"},
	}
	store, db, mb := newStoreTest(t, exchanger)
	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now(), nil))

	_, err := store.AccessToken(context.Background(), mb.ID)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthTransient, authErr.Kind)

	var reloaded model.Mailbox
	require.NoError(t, db.First(&reloaded, mb.ID).Error)
	assert.False(t, reloaded.AuthInvalid)
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	exchanger := &fakeExchanger{
		token: &Token{AccessToken: "access-2", Expiry: time.Now().Add(time.Hour)},
		delay: 50 * time.Millisecond,
	}
	store, _, mb := newStoreTest(t, exchanger)
	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now(), nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := store.AccessToken(context.Background(), mb.ID)
			assert.NoError(t, err)
			assert.Equal(t, "access-2", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&exchanger.calls))
}

func TestAccessTokenWithoutCredential(t *testing.T) {
	store, _, mb := newStoreTest(t, &fakeExchanger{})

	_, err := store.AccessToken(context.Background(), mb.ID)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthIrrecoverable, authErr.Kind)
}

func TestDisconnectDestroysCredential(t *testing.T) {
	store, db, mb := newStoreTest(t, &fakeExchanger{})
	require.NoError(t, store.Save(mb.ID, "access-1", "refresh-1", time.Now().Add(time.Hour), nil))

	require.NoError(t, store.Disconnect(mb.ID))

	var count int64
	require.NoError(t, db.Model(&model.Credential{}).Where("mailbox_id = ?", mb.ID).Count(&count).Error)
	assert.Zero(t, count)

	var reloaded model.Mailbox
	require.NoError(t, db.First(&reloaded, mb.ID).Error)
	assert.False(t, reloaded.Active)
}
