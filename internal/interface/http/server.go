// Package http exposes the gamification engine over a JSON REST API:
// profiles, rank history, the leaderboard, activity ingestion and admin
// operations (balance corrections, manual weekly cycle runs).
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/alem-hub/alem-gamification/config"
	"github.com/alem-hub/alem-gamification/internal/application/command"
	"github.com/alem-hub/alem-gamification/internal/application/query"
	"github.com/alem-hub/alem-gamification/internal/interface/http/handlers"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// AllowedOrigins for CORS. Empty disables CORS headers.
	AllowedOrigins []string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// AdminToken guards /api/v1/admin. Empty disables admin routes.
	AdminToken string

	// Debug switches gin into debug mode.
	Debug bool

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 600,
		Version:            "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyCycleRunner runs the weekly cycle on demand.
type WeeklyCycleRunner interface {
	Handle(ctx context.Context, cmd command.RunWeeklyCycleCommand) (*command.RunWeeklyCycleResult, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Read side
	GetLeaderboard  *query.GetLeaderboardHandler
	GetProfile      *query.GetProfileHandler
	ListRankHistory *query.ListRankHistoryHandler

	// Write side
	RecordActivity *command.RecordActivityHandler
	CreditPoints   *command.CreditPointsHandler
	AdjustPoints   *command.AdjustPointsHandler
	WeeklyCycle    WeeklyCycleRunner

	// Features gates optional surfaces. Nil enables everything.
	Features *config.FeatureFlags

	Health handlers.HealthChecker
	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	limiter    ratelimit.RateLimiter
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.deps.Health == nil {
		s.deps.Health = handlers.NewCompositeHealthChecker(cfg.Version)
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = handlers.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	s.engine = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:           cfg.Address(),
		Handler:        s.engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(handlers.Recovery(s.logger))
	r.Use(handlers.RequestID())
	r.Use(handlers.AccessLog(s.logger))
	r.Use(handlers.SecurityHeaders())
	if len(s.config.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.config.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Content-Type", "Authorization", handlers.HeaderAdminKey, handlers.HeaderRequestID},
			ExposeHeaders: []string{handlers.HeaderRequestID},
			MaxAge:        24 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.Abort(c, http.StatusNotFound, "not_found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Abort(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/health", s.handleHealth)
	r.GET("/healthz", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	api := r.Group("/api/v1")
	if s.limiter != nil {
		api.Use(handlers.RateLimit(s.limiter, time.Minute))
	}
	api.Use(handlers.NoCache())

	public := api.Group("")
	public.Use(handlers.AdminToken(s.config.AdminToken, false))
	{
		public.GET("/leaderboard", s.handleGetLeaderboard)
		public.GET("/users/:id/profile", s.handleGetProfile)
		public.GET("/users/:id/history", s.handleGetUserHistory)
		public.POST("/activity", s.handleRecordActivity)
		public.POST("/points", s.handleCreditPoints)
	}

	admin := api.Group("/admin")
	admin.Use(handlers.AdminToken(s.config.AdminToken, true))
	{
		admin.POST("/users/:id/adjust", s.handleAdjustPoints)
		admin.POST("/cycles", s.handleRunWeeklyCycle)
		admin.GET("/history", s.handleGetHistoryFeed)
		admin.GET("/features", s.handleListFeatures)
	}

	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	if s.limiter != nil {
		_ = s.limiter.Close()
	}
	return err
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
