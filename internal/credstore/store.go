package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"inbox-triage-go/internal/metrics"
	"inbox-triage-go/internal/model"
)

// Store is the credential boundary: tokens at rest are encrypted and
// decryption only happens inside this package. Token values are never logged.
type Store struct {
	db        *gorm.DB
	enc       *encryptor
	exchanger TokenExchanger

	// margin is how close to expiry an access token may be before a refresh
	// is forced on read.
	margin time.Duration

	// group coalesces concurrent refreshes for the same mailbox: a scheduled
	// sync and a user-triggered one racing before lock acquisition share a
	// single exchange.
	group singleflight.Group
}

// New creates a credential store.
func New(db *gorm.DB, exchanger TokenExchanger, base64Key string, refreshMargin time.Duration) (*Store, error) {
	enc, err := newEncryptor(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
	}
	if refreshMargin <= 0 {
		refreshMargin = time.Minute
	}
	return &Store{
		db:        db,
		enc:       enc,
		exchanger: exchanger,
		margin:    refreshMargin,
	}, nil
}

// AccessToken returns a currently-valid access token for the mailbox,
// transparently refreshing it when the stored one expires within the margin.
func (s *Store) AccessToken(ctx context.Context, mailboxID uint) (string, error) {
	cred, mailbox, err := s.load(mailboxID)
	if err != nil {
		return "", err
	}

	if time.Until(cred.ExpiresAt) > s.margin {
		token, err := s.enc.decrypt(cred.AccessTokenCipher)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access token for mailbox %d: %w", mailboxID, err)
		}
		return token, nil
	}

	key := fmt.Sprintf("refresh:%d", mailboxID)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, cred, mailbox)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Save stores a new token pair for a mailbox. Called when the external OAuth
// consent flow hands over freshly minted credentials.
func (s *Store) Save(mailboxID uint, accessToken, refreshToken string, expiry time.Time, scopes []string) error {
	accessCipher, err := s.enc.encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshCipher, err := s.enc.encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	scopesJSON, _ := json.Marshal(scopes)

	cred := model.Credential{
		MailboxID:          mailboxID,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          expiry,
		Scopes:             string(scopesJSON),
	}

	var existing model.Credential
	err = s.db.Where("mailbox_id = ?", mailboxID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := s.db.Create(&cred).Error; err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("database error loading credential: %w", err)
	}

	updates := map[string]interface{}{
		"access_token_cipher":  accessCipher,
		"refresh_token_cipher": refreshCipher,
		"expires_at":           expiry,
		"scopes":               string(scopesJSON),
	}
	if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}

// Invalidate marks the mailbox auth-invalid and inactive. The orchestrator
// will not schedule it again until the user re-consents.
func (s *Store) Invalidate(mailboxID uint) error {
	updates := map[string]interface{}{"auth_invalid": true, "active": false}
	if err := s.db.Model(&model.Mailbox{}).Where("id = ?", mailboxID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark mailbox %d auth-invalid: %w", mailboxID, err)
	}
	return nil
}

// Disconnect destroys the stored token pair and deactivates the mailbox.
func (s *Store) Disconnect(mailboxID uint) error {
	if err := s.db.Where("mailbox_id = ?", mailboxID).Delete(&model.Credential{}).Error; err != nil {
		return fmt.Errorf("failed to delete credential for mailbox %d: %w", mailboxID, err)
	}
	updates := map[string]interface{}{"active": false}
	if err := s.db.Model(&model.Mailbox{}).Where("id = ?", mailboxID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to deactivate mailbox %d: %w", mailboxID, err)
	}
	return nil
}

func (s *Store) load(mailboxID uint) (*model.Credential, *model.Mailbox, error) {
	var cred model.Credential
	if err := s.db.Where("mailbox_id = ?", mailboxID).First(&cred).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, &AuthError{Kind: AuthIrrecoverable, MailboxID: mailboxID, Err: fmt.Errorf("no credential stored")}
		}
		return nil, nil, fmt.Errorf("database error loading credential: %w", err)
	}

	var mailbox model.Mailbox
	if err := s.db.First(&mailbox, mailboxID).Error; err != nil {
		return nil, nil, fmt.Errorf("database error loading mailbox %d: %w", mailboxID, err)
	}

	return &cred, &mailbox, nil
}

// refresh exchanges the stored refresh token for a new access token and
// persists the result, rotating the refresh token if the provider issued a
// new one.
func (s *Store) refresh(ctx context.Context, cred *model.Credential, mailbox *model.Mailbox) (string, error) {
	refreshToken, err := s.enc.decrypt(cred.RefreshTokenCipher)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token for mailbox %d: %w", mailbox.ID, err)
	}

	token, err := s.exchanger.Exchange(ctx, mailbox.Provider, refreshToken)
	if err != nil {
		if isInvalidGrant(err) {
			metrics.TokenRefreshes.WithLabelValues("invalid_grant").Inc()
			logrus.Warnf("Refresh token rejected for mailbox %d, marking auth-invalid", mailbox.ID)
			if ierr := s.Invalidate(mailbox.ID); ierr != nil {
				logrus.Errorf("Failed to invalidate mailbox %d: %v", mailbox.ID, ierr)
			}
			return "", &AuthError{Kind: AuthIrrecoverable, MailboxID: mailbox.ID, Err: err}
		}
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", &AuthError{Kind: AuthTransient, MailboxID: mailbox.ID, Err: err}
	}

	accessCipher, err := s.enc.encrypt(token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refreshed access token: %w", err)
	}

	updates := map[string]interface{}{
		"access_token_cipher": accessCipher,
		"expires_at":          token.Expiry,
	}
	if token.RefreshToken != "" {
		refreshCipher, err := s.enc.encrypt(token.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
		}
		updates["refresh_token_cipher"] = refreshCipher
	}

	if err := s.db.Model(&model.Credential{}).Where("mailbox_id = ?", mailbox.ID).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logrus.Debugf("Refreshed access token for mailbox %d", mailbox.ID)
	return token.AccessToken, nil
}
