package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmail "google.golang.org/api/gmail/v1"

	"inbox-triage-go/internal/config"
	"inbox-triage-go/internal/credstore"
	"inbox-triage-go/internal/database"
	"inbox-triage-go/internal/model"
)

// Enrolls a mailbox by walking the OAuth consent flow on the command line and
// storing the resulting token pair. Usage:
//
//	go run tools/enroll_mailbox.go <gmail|outlook> <user-id> <email-address>
func main() {
	if len(os.Args) != 4 {
		log.Fatal("usage: enroll_mailbox <gmail|outlook> <user-id> <email-address>")
	}
	provider := model.Provider(os.Args[1])
	userID := os.Args[2]
	address := os.Args[3]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration validation failed: %v", err)
	}

	var oc *oauth2.Config
	switch provider {
	case model.ProviderGmail:
		oc = &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
			RedirectURL:  "http://localhost:8080/callback",
		}
	case model.ProviderOutlook:
		oc = &oauth2.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			Scopes:       []string{"offline_access", "https://graph.microsoft.com/Mail.Read"},
			Endpoint:     microsoft.AzureADEndpoint(cfg.Microsoft.Tenant),
			RedirectURL:  "http://localhost:8080/callback",
		}
	default:
		log.Fatalf("unknown provider %q, want gmail or outlook", provider)
	}

	authURL := oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	fmt.Scan(&authCode)

	tok, err := oc.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Unable to retrieve token from web: %v", err)
	}
	if tok.RefreshToken == "" {
		log.Fatal("Provider did not issue a refresh token; re-consent with offline access")
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	mb := model.Mailbox{
		UserID:       userID,
		Provider:     provider,
		EmailAddress: address,
		Active:       true,
	}
	if err := db.Create(&mb).Error; err != nil {
		log.Fatalf("failed to create mailbox: %v", err)
	}

	exchanger := credstore.NewOAuthExchanger(cfg.Google, cfg.Microsoft)
	store, err := credstore.New(db, exchanger, cfg.Auth.EncryptionKey, cfg.Sync.RefreshMargin)
	if err != nil {
		log.Fatalf("failed to initialize credential store: %v", err)
	}
	if err := store.Save(mb.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry, oc.Scopes); err != nil {
		log.Fatalf("failed to store credential: %v", err)
	}

	fmt.Printf("\nEnrolled mailbox %d (%s, %s) for user %s\n", mb.ID, address, provider, userID)
	fmt.Println("The next sync sweep will pick it up.")
}
