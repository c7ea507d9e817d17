package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"inbox-triage-go/internal/config"
	"inbox-triage-go/internal/model"
)

// Token is a freshly minted access token from the identity provider.
// RefreshToken is non-empty only when the provider rotated it.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenExchanger performs the refresh-token exchange against the identity
// provider. It is the only collaborator the credential store talks to.
type TokenExchanger interface {
	Exchange(ctx context.Context, provider model.Provider, refreshToken string) (*Token, error)
}

// OAuthExchanger implements TokenExchanger over the standard OAuth2 endpoints
// of both providers.
type OAuthExchanger struct {
	configs map[model.Provider]*oauth2.Config
}

// NewOAuthExchanger creates an exchanger from the configured OAuth clients.
func NewOAuthExchanger(googleCfg, microsoftCfg config.ProviderConfig) *OAuthExchanger {
	configs := make(map[model.Provider]*oauth2.Config)

	if googleCfg.ClientID != "" {
		configs[model.ProviderGmail] = &oauth2.Config{
			ClientID:     googleCfg.ClientID,
			ClientSecret: googleCfg.ClientSecret,
			Endpoint:     google.Endpoint,
		}
	}

	if microsoftCfg.ClientID != "" {
		tenant := microsoftCfg.Tenant
		if tenant == "" {
			tenant = "common"
		}
		configs[model.ProviderOutlook] = &oauth2.Config{
			ClientID:     microsoftCfg.ClientID,
			ClientSecret: microsoftCfg.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		}
	}

	return &OAuthExchanger{configs: configs}
}

// Exchange trades a refresh token for a new access token.
func (x *OAuthExchanger) Exchange(ctx context.Context, provider model.Provider, refreshToken string) (*Token, error) {
	cfg, ok := x.configs[provider]
	if !ok {
		return nil, fmt.Errorf("no OAuth client configured for provider %s", provider)
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}

	out := &Token{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

// isInvalidGrant reports whether an exchange error means the refresh token is
// dead and no amount of retrying will help.
func isInvalidGrant(err error) bool {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(rerr.Body), "invalid_grant")
	}
	return false
}
