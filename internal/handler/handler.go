package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inbox-triage-go/internal/auth"
	"inbox-triage-go/internal/categorize"
	"inbox-triage-go/internal/credstore"
	"inbox-triage-go/internal/notifier"
	"inbox-triage-go/internal/repository"
	"inbox-triage-go/internal/syncer"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db           *gorm.DB
	mailboxes    *repository.MailboxRepository
	messages     *repository.MessageRepository
	creds        *credstore.Store
	engine       categorize.Engine
	orchestrator *syncer.Orchestrator
	hub          *notifier.Hub
	jwtSecret    string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(
	db *gorm.DB,
	mailboxes *repository.MailboxRepository,
	messages *repository.MessageRepository,
	creds *credstore.Store,
	engine categorize.Engine,
	orchestrator *syncer.Orchestrator,
	hub *notifier.Hub,
	jwtSecret string,
) *Handlers {
	return &Handlers{
		db:           db,
		mailboxes:    mailboxes,
		messages:     messages,
		creds:        creds,
		engine:       engine,
		orchestrator: orchestrator,
		hub:          hub,
		jwtSecret:    jwtSecret,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(h.jwtSecret))
	{
		api.GET("/mailboxes", h.ListMailboxes)
		api.POST("/mailboxes/:id/sync", h.SyncMailbox)
		api.POST("/mailboxes/:id/disconnect", h.DisconnectMailbox)

		api.GET("/messages", h.ListMessages)
		api.PUT("/messages/:id/category", h.OverrideCategory)
		api.POST("/messages/recategorize", h.Recategorize)

		api.POST("/triage", h.Triage)
		api.GET("/stats", h.GetStats)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)

		api.GET("/ws", h.ServeWS)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	status := h.orchestrator.GetStatus()
	if status.Running {
		response.Metrics["orchestrator"] = "running"
		if status.LastSweepAt != nil {
			response.Metrics["last_sweep"] = status.LastSweepAt.Format(time.RFC3339)
		}
	} else {
		response.Metrics["orchestrator"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
