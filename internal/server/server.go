// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/xmrcheckout/internal/auth"
	"github.com/mbd888/xmrcheckout/internal/config"
	"github.com/mbd888/xmrcheckout/internal/gateway"
	"github.com/mbd888/xmrcheckout/internal/health"
	"github.com/mbd888/xmrcheckout/internal/invoice"
	"github.com/mbd888/xmrcheckout/internal/ledger"
	"github.com/mbd888/xmrcheckout/internal/logging"
	"github.com/mbd888/xmrcheckout/internal/metrics"
	"github.com/mbd888/xmrcheckout/internal/owner"
	"github.com/mbd888/xmrcheckout/internal/ratelimit"
	"github.com/mbd888/xmrcheckout/internal/rates"
	"github.com/mbd888/xmrcheckout/internal/reconciler"
	"github.com/mbd888/xmrcheckout/internal/secrets"
	"github.com/mbd888/xmrcheckout/internal/security"
	"github.com/mbd888/xmrcheckout/internal/validation"
	"github.com/mbd888/xmrcheckout/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	owners      owner.Store
	invoices    invoice.Store
	transfers   *ledger.Ledger
	subs        webhooks.Store
	deliveries  webhooks.DeliveryStore
	authMgr     *auth.Manager
	dispatcher  *webhooks.Dispatcher
	pool        *gateway.Pool
	quoter      *rates.Quoter
	runner      *reconciler.Runner
	recTimer    *reconciler.Timer
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
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

// WithGateway injects a pre-built wallet gateway pool (for testing)
func WithGateway(p *gateway.Pool) Option {
	return func(s *Server) {
		s.pool = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set pool/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		box, err := secrets.NewBox(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build secrets box: %w", err)
		}

		s.db = db
		s.owners = owner.NewPostgresStore(db, box)
		s.invoices = invoice.NewPostgresStore(db)
		s.transfers = ledger.New(ledger.NewPostgresStore(db))
		s.subs = webhooks.NewPostgresStore(db)
		s.deliveries = webhooks.NewPostgresDeliveryStore(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.owners = owner.NewMemoryStore()
		s.invoices = invoice.NewMemoryStore()
		s.transfers = ledger.New(ledger.NewMemoryStore())
		s.subs = webhooks.NewMemoryStore()
		s.deliveries = webhooks.NewMemoryDeliveryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Webhook dispatcher
	s.dispatcher = webhooks.NewDispatcher(s.subs, s.deliveries, s.logger)

	// Wallet RPC pool if not injected
	if s.pool == nil {
		p, err := gateway.New(gateway.Config{
			RPCURLs:        cfg.WalletRPCURLs,
			User:           cfg.WalletRPCUser,
			Password:       cfg.WalletRPCPassword,
			WalletPassword: cfg.WalletFilePassword,
			DaemonURL:      cfg.DaemonURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create wallet gateway: %w", err)
		}
		s.pool = p
	}

	// Fiat quoter
	s.quoter = rates.New(cfg.CoinGeckoAPIKey)

	// Reconciliation loop
	s.runner = reconciler.NewRunner(
		s.invoices, s.owners, s.transfers, s.pool, s.dispatcher,
		reconciler.Config{
			Lookback: time.Duration(cfg.LatePaymentLookback) * time.Hour,
			Account:  0,
		},
		s.logger,
	)
	s.recTimer = reconciler.NewTimer(s.runner, time.Duration(cfg.ReconcileInterval)*time.Second, s.logger)

	// Health checks
	s.checks = health.NewRegistry()
	s.checks.Register("wallet_rpc", health.WalletPool(s.pool))
	s.checks.Register("daemon", health.Daemon(s.pool))
	if s.db != nil {
		s.checks.Register("database", health.Database(s.db))
	}

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

	// CORS (allow all origins so hosted checkout pages can poll invoices)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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
			requestID = generateRequestID()
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
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
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
			"backends", len(s.cfg.WalletRPCURLs),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start reconciliation timer
	go s.recTimer.Start(runCtx)

	// Sample DB pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

	// Cancel the context for all background goroutines
	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop reconciliation timer
	if s.recTimer != nil {
		s.recTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close wallets left open on the RPC backends
	if s.pool != nil {
		s.pool.CloseAll(ctx)
		s.logger.Info("wallet pool closed")
	}

	// Close database connection pool
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
