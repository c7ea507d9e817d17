package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"inbox-triage-go/internal/categorize"
	"inbox-triage-go/internal/config"
	"inbox-triage-go/internal/credstore"
	"inbox-triage-go/internal/database"
	"inbox-triage-go/internal/handler"
	"inbox-triage-go/internal/notifier"
	"inbox-triage-go/internal/repository"
	"inbox-triage-go/internal/router"
	"inbox-triage-go/internal/syncer"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Inbox Triage Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	exchanger := credstore.NewOAuthExchanger(cfg.Google, cfg.Microsoft)
	creds, err := credstore.New(db, exchanger, cfg.Auth.EncryptionKey, cfg.Sync.RefreshMargin)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	mailboxRepo := repository.NewMailboxRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	engine := categorize.NewRuleEngine(nil)
	hub := notifier.NewHub(cfg.Notifier.SubscriberBuffer, cfg.Notifier.MaxConnsPerUser)

	orchestrator := syncer.New(mailboxRepo, messageRepo, creds, engine, hub, nil, cfg.Sync)

	h := handler.NewHandlers(db, mailboxRepo, messageRepo, creds, engine, orchestrator, hub, cfg.Auth.JWTSecret)
	r := router.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := orchestrator.Start(); err != nil {
		return fmt.Errorf("failed to start sync orchestrator: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orchestrator.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
