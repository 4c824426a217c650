// Package server exposes the query API over the pipeline's state: alert
// lookups, watchlist lookups, runtime stats, health, metrics, and the
// WebSocket stream.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelhq/sentinel/internal/alert"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/health"
	"github.com/sentinelhq/sentinel/internal/idgen"
	"github.com/sentinelhq/sentinel/internal/logging"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/pipeline"
	"github.com/sentinelhq/sentinel/internal/ratelimit"
	"github.com/sentinelhq/sentinel/internal/realtime"
	"github.com/sentinelhq/sentinel/internal/security"
	"github.com/sentinelhq/sentinel/internal/watchlist"
)

// maxListLimit caps the limit query parameter on listings.
const maxListLimit = 1000

// Options collects the server's collaborators.
type Options struct {
	Config   *config.Config
	Store    alert.Store
	Table    *watchlist.Table
	Hub      *realtime.Hub
	Pipeline *pipeline.Pipeline
	DB       *sql.DB // nil when running on the in-memory store
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store  alert.Store
	table  *watchlist.Table
	hub    *realtime.Hub
	pipe   *pipeline.Pipeline
	db     *sql.DB
	checks *health.Registry

	router      *gin.Engine
	httpSrv     *http.Server
	rateLimiter *ratelimit.Limiter

	ready        atomic.Bool
	cancelRunCtx context.CancelFunc
}

// New creates the API server and wires its routes.
func New(opts Options) *Server {
	s := &Server{
		cfg:    opts.Config,
		logger: opts.Logger,
		store:  opts.Store,
		table:  opts.Table,
		hub:    opts.Hub,
		pipe:   opts.Pipeline,
		db:     opts.DB,
		checks: health.NewRegistry(),
	}

	s.checks.Register("store", s.storeChecker())
	if s.db != nil {
		s.checks.Register("database", s.dbChecker())
	}

	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) storeChecker() health.Checker {
	return func(ctx context.Context) error {
		_, err := s.store.Count(ctx)
		return err
	}
}

func (s *Server) dbChecker() health.Checker {
	return func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.FromContext(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.FromContext(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	if s.hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.hub.HandleWebSocket(c.Writer, c.Request)
		})
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/alerts", s.listAlertsHandler)
		v1.GET("/alerts/:id", s.getAlertHandler)
		v1.GET("/watchlist/:entity_id", s.watchlistHandler)
		v1.GET("/stats", s.statsHandler)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy": healthy,
		"checks":  statuses,
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) listAlertsHandler(c *gin.Context) {
	opts := alert.ListOptions{
		AccountID: c.Query("account_id"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": fmt.Sprintf("limit must be an integer in [1, %d]", maxListLimit),
			})
			return
		}
		opts.Limit = limit
	}

	alerts, err := s.store.List(c.Request.Context(), opts)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) getAlertHandler(c *gin.Context) {
	a, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, alert.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("failed to get alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) watchlistHandler(c *gin.Context) {
	entry := s.table.Lookup(c.Param("entity_id"))
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) statsHandler(c *gin.Context) {
	count, err := s.store.Count(c.Request.Context())
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("failed to count alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	stats := gin.H{
		"alerts":            count,
		"watchlist_entries": s.table.Len(),
	}
	if s.pipe != nil {
		stats["watermark"] = s.pipe.Watermark()
	}
	if s.hub != nil {
		stats["stream"] = s.hub.Stats()
	}

	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until a shutdown signal or context
// cancellation, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.hub != nil {
		go s.hub.Run(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
