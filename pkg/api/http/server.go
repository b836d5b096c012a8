package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/internal/application/orchestrator"
	"github.com/aescanero/conduit/internal/application/versions"
)

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	versions *versions.Service
	runs     *orchestrator.Manager
	logger   *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Versions *versions.Service
	Runs     *orchestrator.Manager
	// Gatherer serves /metrics; the default registry is used when nil
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())
	router.Use(actorMiddleware())

	s := &Server{
		router:   router,
		versions: cfg.Versions,
		runs:     cfg.Runs,
		logger:   cfg.Logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		pipelines := v1.Group("/pipelines/:pid")
		pipelines.POST("/versions", s.handleCreateVersion)
		pipelines.GET("/versions", s.handleListVersions)
		pipelines.GET("/versions/:vid", s.handleGetVersion)
		pipelines.POST("/versions/:vid/submit", s.handleSubmitVersion)
		pipelines.POST("/versions/:vid/publish", s.handlePublishVersion)
		pipelines.POST("/versions/:vid/reject", s.handleRejectVersion)
		pipelines.GET("/diff", s.handleDiff)

		v1.POST("/runs/trigger", s.handleTriggerRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.POST("/runs/:id/stop", s.handleStopRun)
		v1.POST("/runs/:id/rerun", s.handleRerun)
		v1.GET("/runs/:id/events", s.handleListEvents)
		v1.GET("/runs/:id/metrics-summary", s.handleMetricsSummary)
	}
}

// SetupWebSocket adds the live event tail to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleRunStream(*gin.Context)
}) {
	s.router.GET("/api/v1/runs/:id/ws", handler.HandleRunStream)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
			zap.String("actor", actorFrom(c)))
	}
}
