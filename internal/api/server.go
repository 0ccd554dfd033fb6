package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/auth"
	"forex-signal-engine/internal/cache"
	"forex-signal-engine/internal/database"
	"forex-signal-engine/internal/engine"
	"forex-signal-engine/internal/events"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/secrets"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	engine       *engine.Engine
	db           *database.DB
	cacheService *cache.Service
	vaultClient  *secrets.Client
	jwtManager   *auth.JWTManager
	config       config.ServerConfig
	logger       *logging.Logger
	rateLimiter  *RateLimiter
	startedAt    time.Time
}

// NewServer creates a new API server. The JWT manager, database, cache
// and vault client may all be nil when the corresponding subsystem is
// disabled.
func NewServer(
	cfg config.ServerConfig,
	eng *engine.Engine,
	db *database.DB,
	cacheService *cache.Service,
	vaultClient *secrets.Client,
	jwtManager *auth.JWTManager,
	eventBus *events.EventBus,
	logger *logging.Logger,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:       router,
		engine:       eng,
		db:           db,
		cacheService: cacheService,
		vaultClient:  vaultClient,
		jwtManager:   jwtManager,
		config:       cfg,
		logger:       logger.WithComponent("api"),
		rateLimiter:  NewRateLimiter(300, time.Minute),
		startedAt:    time.Now(),
	}

	server.setupRoutes()

	// Hub for pushing threshold, risk and verdict updates to clients
	InitWebSocket(eventBus)

	return server
}

// rateLimitMiddleware limits write-path requests per endpoint
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	api.Use(auth.Middleware(s.jwtManager))
	{
		// Threshold endpoints
		api.GET("/thresholds", s.handleGetThresholds)
		api.GET("/thresholds/:pair", s.handleGetThreshold)

		// Regime endpoints
		api.GET("/regimes/:pair", s.handleGetRegime)

		// Market data ingestion
		api.POST("/samples", s.rateLimitMiddleware(), s.handleIngestSample)

		// Signal gating and execution authorization
		api.POST("/signals/evaluate", s.rateLimitMiddleware(), s.handleEvaluateSignal)
		api.POST("/authorize", s.rateLimitMiddleware(), s.handleAuthorize)

		// Trade outcomes
		api.POST("/outcomes", s.rateLimitMiddleware(), s.handleRecordOutcome)

		// Per-user risk posture
		api.GET("/users/:id/risk", s.handleGetUserRisk)

		// Performance statistics
		api.GET("/pairs/:pair/stats", s.handleGetPairStats)

		// Admin endpoints
		admin := api.Group("/admin")
		admin.Use(auth.RequireAdmin(s.jwtManager))
		{
			admin.GET("/users/risk", s.handleListUserRisk)
			admin.POST("/reset-daily", s.handleResetDaily)
		}
	}

	// WebSocket endpoint for live threshold, risk and verdict updates
	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth reports the health of the server and its backends.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK

	dbStatus := "disabled"
	if s.db != nil {
		dbStatus = "healthy"
		if err := s.db.HealthCheck(ctx); err != nil {
			dbStatus = "unhealthy"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	cacheStatus := "disabled"
	if s.cacheService != nil {
		cacheStatus = "healthy"
		if err := s.cacheService.Ping(ctx); err != nil {
			// Cache is advisory, degrade but stay healthy
			cacheStatus = "unhealthy"
		}
	}

	vaultStatus := "disabled"
	if s.vaultClient != nil {
		vaultStatus = "healthy"
		if err := s.vaultClient.Health(ctx); err != nil {
			vaultStatus = "unhealthy"
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":   status,
		"database": dbStatus,
		"cache":    cacheStatus,
		"vault":    vaultStatus,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
