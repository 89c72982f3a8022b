// Package server sets up the HTTP monitoring API with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/circuitbreaker"
	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/health"
	"github.com/mbd888/sentinel/internal/httpclient"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/monitor"
	"github.com/mbd888/sentinel/internal/ratelimit"
	"github.com/mbd888/sentinel/internal/realtime"
	"github.com/mbd888/sentinel/internal/retry"
	"github.com/mbd888/sentinel/internal/security"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	client      *httpclient.Client
	services    map[string]*httpclient.Service
	mon         *monitor.Monitor
	alertStore  monitor.Store
	realtimeHub *realtime.Hub
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil when alerts stay in memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAlertStore sets a custom alert store (for testing)
func WithAlertStore(store monitor.Store) Option {
	return func(s *Server) {
		s.alertStore = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Alert storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.alertStore == nil {
		if cfg.DatabaseURL != "" {
			store, err := monitor.OpenPostgresStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open alert store: %w", err)
			}
			s.alertStore = store
			s.db = store.DB()
			s.logger.Info("using PostgreSQL alert storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.alertStore = monitor.NewMemoryStore()
			s.logger.Info("using in-memory alert storage (set DATABASE_URL to persist)")
		}
	}

	// Resilient client shared by every downstream service
	s.client = httpclient.New(httpclient.Config{
		Breaker: circuitConfig(cfg),
		Policy:  retryPolicy(cfg),
		Pool:    poolConfig(cfg),
	}, s.logger)

	// Downstream service bindings
	s.services = make(map[string]*httpclient.Service)
	for name, base := range map[string]string{
		"api":    cfg.APIBaseURL,
		"agents": cfg.AgentsBaseURL,
		"mcp":    cfg.MCPBaseURL,
	} {
		svc, err := httpclient.NewService(name, base, s.client)
		if err != nil {
			return nil, fmt.Errorf("bind service: %w", err)
		}
		s.services[name] = svc
	}

	// Health checkers per downstream service
	s.checks = health.NewRegistry()
	for _, svc := range s.services {
		s.checks.Register(svc.Name, health.ServiceChecker(svc))
	}
	if s.db != nil {
		s.checks.Register("database", health.DatabaseChecker(s.db))
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Background health monitor over the same client state
	targets := make([]monitor.Target, 0, len(s.services))
	for _, svc := range s.services {
		targets = append(targets, monitor.Target{Name: svc.Name, Host: svc.Host()})
	}
	s.mon = monitor.New(monitorConfig(cfg), s.client, targets, s.alertStore, s.logger)
	s.mon.OnAlert(s.realtimeHub.BroadcastAlert)

	// Stream breaker transitions; map host back to the service name
	hostToService := make(map[string]string, len(s.services))
	for _, svc := range s.services {
		hostToService[svc.Host()] = svc.Name
	}
	s.client.Breaker().OnTransition(func(host string, from, to circuitbreaker.State) {
		s.realtimeHub.BroadcastTransition(hostToService[host], host, from.String(), to.String())
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func circuitConfig(cfg *config.Config) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	}
}

func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.InternalPolicy()
	p.MaxRetries = cfg.MaxRetries
	if cfg.RetryBaseDelay > 0 {
		p.BaseDelay = cfg.RetryBaseDelay
	}
	return p
}

func poolConfig(cfg *config.Config) httpclient.PoolConfig {
	p := httpclient.DefaultPoolConfig()
	if cfg.MaxConnections > 0 {
		p.MaxConns = cfg.MaxConnections
	}
	if cfg.MaxPerHost > 0 {
		p.MaxPerHost = cfg.MaxPerHost
	}
	return p
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Interval:          cfg.MonitorInterval,
		OpenCriticalAfter: cfg.OpenCriticalAfter,
		ErrorRateWarning:  cfg.ErrorRateWarning,
		ErrorRateCritical: cfg.ErrorRateCritical,
		LatencyWarningMS:  cfg.LatencyWarningMS,
		LatencyCriticalMS: cfg.LatencyCriticalMS,
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (dashboards live on other origins)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS,
		BurstSize:         ratelimit.DefaultConfig().BurstSize,
		CleanupInterval:   ratelimit.DefaultConfig().CleanupInterval,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		logger := logging.L(c.Request.Context())

		// Log level based on status code
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
	// Health and readiness
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket endpoint for live alerts and breaker transitions
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Monitoring API
	v1 := s.router.Group("/api/v1/monitoring")
	{
		v1.GET("/summary", s.summaryHandler)
		v1.GET("/alerts", s.alertsHandler)
		v1.GET("/alerts/history", s.alertHistoryHandler)
		v1.GET("/performance", s.performanceHandler)
		v1.GET("/history/:service", s.historyHandler)
		v1.GET("/stats", s.statsHandler)
		v1.GET("/breakers", s.breakersHandler)
		v1.GET("/realtime", s.realtimeStatsHandler)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"services", len(s.services),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start the health monitor
	s.mon.Start()

	// Runtime/database gauges
	go metrics.StartRuntimeCollector(runCtx, s.db, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, collectors)
	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop the monitor loop
	s.mon.Stop()
	s.logger.Info("health monitor stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Drain idle connections and close the alert store
	s.client.CloseIdle()
	if err := s.alertStore.Close(); err != nil {
		s.logger.Error("alert store close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
