// Package http exposes the planning service and the approval gate to the UI.
// It is a thin adapter that translates HTTP requests to application calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/execution-gate/internal/application/port"
	"github.com/garyjia/execution-gate/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		Mode:         gin.ReleaseMode,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Dependencies are the application components the API serves.
// Snapshots and Storage may be nil.
type Dependencies struct {
	Planning  service.PlanningService
	Gate      ApprovalGate
	Tasks     TaskReader
	Snapshots port.SnapshotRepository
	Exporter  AuditExporter
	Storage   port.FileStorage
	Version   string
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server with the given dependencies
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api/v1")
	{
		plan := api.Group("/plan")
		plan.GET("", h.GetPlan)
		plan.POST("", h.BuildPlan)
		plan.GET("/tasks", h.ListTasks)
		plan.POST("/tasks", h.LoadTasks)
		plan.GET("/tasks/:id", h.GetTask)
		plan.POST("/branches", h.AddBranch)
		plan.GET("/analysis", h.Analyze)
		plan.POST("/approvals", h.RequestApprovals)

		tasks := api.Group("/tasks/:id")
		tasks.POST("/start", h.StartTask)
		tasks.POST("/complete", h.CompleteTask)
		tasks.POST("/fail", h.FailTask)
		tasks.POST("/wait", h.RegisterWait)
		tasks.POST("/signal", h.Signal)

		approvals := api.Group("/approvals")
		approvals.GET("", h.ListPending)
		approvals.GET("/:id", h.GetApproval)
		approvals.POST("/:id/decision", h.Decide)
		approvals.POST("/:id/cancel", h.Cancel)
		approvals.POST("/:id/revoke", h.Revoke)

		api.POST("/batch/assess", h.AssessBatch)
		api.POST("/batch/approve", h.ApproveBatch)
		api.GET("/violations", h.ListViolations)

		audit := api.Group("/audit")
		audit.GET("", h.ListAudit)
		audit.GET("/stats", h.AuditStats)
		audit.GET("/export", h.ExportAudit)

		snapshots := api.Group("/snapshots")
		snapshots.GET("", h.ListSnapshots)
		snapshots.POST("", h.SaveSnapshot)
		snapshots.POST("/:id/restore", h.RestoreSnapshot)
	}
}

// Start runs the server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	if err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
