package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cshiyuan/browser-brain/api/handler"
	"github.com/Cshiyuan/browser-brain/api/middleware"
	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/linkcheck"
	"github.com/Cshiyuan/browser-brain/runner"
	"github.com/Cshiyuan/browser-brain/session"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(factory *session.Factory, exec runner.TaskExecutor, checker *linkcheck.Checker, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(factory, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Single task, single-use session.
	protected.POST("/tasks", handler.RunTask(factory, exec, cfg.Browser.Headless))

	// Chained tasks, one retained session.
	protected.POST("/chains", handler.RunChain(factory, exec, cfg.Browser.Headless))

	// Parallel batch, isolated session per slot.
	protected.POST("/parallel", handler.PostParallel(factory, exec, cfg.Browser.Headless, cfg.Browser.MaxSessions, cfg.Recovery.WebhookSecret))
	protected.GET("/parallel/:id", handler.GetParallel())

	// Link validation.
	protected.POST("/links/check", handler.CheckLinks(checker))

	return r
}
