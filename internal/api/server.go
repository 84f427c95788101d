package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/notifyer/notifyer/internal/config"
	apperrors "github.com/notifyer/notifyer/internal/errors"
	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/metrics"
	"github.com/notifyer/notifyer/internal/runner"
)

// Invoker triggers one invocation. Implemented by runner.Runner.
type Invoker interface {
	Run(ctx context.Context, section string) error
}

// Server is the HTTP surface for serve mode: health, metrics, and a
// manual invocation trigger.
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	invoker    Invoker
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates the API server over the given invoker.
func NewServer(cfg config.ServerConfig, invoker Invoker, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if m == nil {
		m = metrics.NewMetrics("notifyer")
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	server := &Server{
		router:  gin.New(),
		config:  cfg,
		invoker: invoker,
		metrics: m,
		logger:  logger,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start).Seconds()
		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", duration,
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/healthz", s.handleHealth)
	s.router.POST("/v1/run", s.handleRun)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type runRequest struct {
	Section string `json:"section"`
}

// handleRun triggers one invocation. A busy runner yields 409; any
// other failure 500. The invocation runs synchronously so the caller
// sees the outcome.
func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Section == "" {
		req.Section = c.Query("section")
	}

	err := s.invoker.Run(c.Request.Context(), req.Section)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "sent", "section": req.Section})
	case errors.Is(err, runner.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		s.metrics.RecordError("invocation", "/v1/run", c.Request.Method)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return &apperrors.ErrServerStart{Addr: addr, Err: err}
	}
	return err
}

// Shutdown performs a graceful shutdown bounded by the configured
// timeout.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := GracefulShutdown(s.httpServer, timeout); err != nil {
		return &apperrors.ErrServerShutdown{Err: err}
	}
	return nil
}
