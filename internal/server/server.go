package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/health"
	"github.com/poemonsense/antigravity-router/internal/issues"
	"github.com/poemonsense/antigravity-router/internal/router"
	"github.com/poemonsense/antigravity-router/internal/server/handlers"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// Server is the HTTP surface over the routing core
type Server struct {
	engine *gin.Engine
	srv    *http.Server

	cfg        *config.Config
	registry   *account.Registry
	tracker    *health.Tracker
	recorder   *events.Recorder
	aggregator *issues.Aggregator
	router     *router.Router

	startedAt time.Time
}

// Options holds server construction options
type Options struct {
	Debug bool
}

// New creates a new Server
func New(
	cfg *config.Config,
	registry *account.Registry,
	tracker *health.Tracker,
	recorder *events.Recorder,
	aggregator *issues.Aggregator,
	rt *router.Router,
	opts Options,
) *Server {
	if opts.Debug || cfg.IsDevMode() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	return &Server{
		engine:     engine,
		cfg:        cfg,
		registry:   registry,
		tracker:    tracker,
		recorder:   recorder,
		aggregator: aggregator,
		router:     rt,
		startedAt:  time.Now(),
	}
}

// SetupRoutes registers all HTTP routes
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestIDMiddleware())
	s.engine.Use(RequestLoggingMiddleware())
	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	})

	healthHandler := handlers.NewHealthHandler(s.cfg, s.registry, s.tracker)
	accountsHandler := handlers.NewAccountsHandler(s.registry)
	eventsHandler := handlers.NewEventsHandler(s.recorder)
	issuesHandler := handlers.NewIssuesHandler(s.aggregator)
	routeHandler := handlers.NewRouteHandler(s.router, s.registry)
	configHandler := handlers.NewConfigHandler(s.cfg)
	logsHandler := handlers.NewLogsHandler()

	// Liveness endpoint, unauthenticated
	s.engine.GET("/health", func(c *gin.Context) {
		summary := s.tracker.GetHealthSummary()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  config.Version,
			"uptimeMs": time.Since(s.startedAt).Milliseconds(),
			"accounts": gin.H{
				"total":   summary.TotalAccounts,
				"enabled": summary.EnabledAccounts,
			},
		})
	})

	api := s.engine.Group("/api")
	api.Use(APIKeyAuthMiddleware(s.cfg))
	{
		api.GET("/health", healthHandler.Matrix)
		api.GET("/health/matrix", healthHandler.Matrix)
		api.GET("/health/summary", healthHandler.Summary)
		api.GET("/health/config", healthHandler.GetConfig)
		api.PUT("/health/config", healthHandler.UpdateConfig)
		api.POST("/health/config", healthHandler.UpdateConfig)

		api.GET("/accounts", accountsHandler.List)
		api.POST("/accounts", accountsHandler.Add)
		api.POST("/accounts/reload", accountsHandler.Reload)
		api.DELETE("/accounts/:email", accountsHandler.Remove)
		api.PATCH("/accounts/:email", accountsHandler.SetEnabled)
		api.GET("/accounts/:email/health", healthHandler.AccountHealth)
		api.POST("/accounts/:email/health/toggle", healthHandler.Toggle)
		api.POST("/accounts/:email/models/:modelId/toggle", healthHandler.ToggleModel)
		api.POST("/accounts/:email/health/reset", healthHandler.Reset)

		api.GET("/events", eventsHandler.List)
		api.GET("/events/stats", eventsHandler.Stats)
		api.DELETE("/events", eventsHandler.Clear)
		api.GET("/events/stream", eventsHandler.Stream)

		api.GET("/issues", issuesHandler.List)
		api.GET("/issues/active", issuesHandler.Active)
		api.GET("/issues/stats", issuesHandler.Stats)
		api.POST("/issues/:id/acknowledge", issuesHandler.Acknowledge)
		api.POST("/issues/:id/resolve", issuesHandler.Resolve)

		api.POST("/route", routeHandler.Pick)
		api.POST("/route/outcome", routeHandler.Outcome)

		api.GET("/config", configHandler.Get)

		api.GET("/logs", logsHandler.List)
		api.GET("/logs/stream", logsHandler.Stream)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		if utils.IsDebug() {
			utils.Debug("[API] 404 Not Found: %s %s", c.Request.Method, c.Request.URL.Path)
		}
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": fmt.Sprintf("Endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Start begins serving on the given address. Blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.SetupRoutes()

	utils.Info("[Server] Starting on %s", addr)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		// Streams stay open indefinitely; no write timeout
		IdleTimeout: 120 * time.Second,
	}

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Engine returns the Gin engine for tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
