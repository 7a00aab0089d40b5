package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/db"
	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/health"
	intnet "github.com/osus-project/osus-proxy/internal/network"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/util"
)

// StatsProvider reports proxy counters.
type StatsProvider interface {
	Stats() intnet.Stats
}

// HealthReporter returns the latest health check results.
type HealthReporter interface {
	Report() health.Report
}

// ChatReader lists logged chat messages.
type ChatReader interface {
	RecentMessages(limit int) ([]db.ChatMessage, error)
}

// Server is the local REST API for viewing and editing preferences.
type Server struct {
	cfg      config.APIConfig
	store    *preferences.Store
	eventBus *events.EventBus
	logger   zerolog.Logger

	// Optional; nil disables the related fields and routes.
	stats  StatsProvider
	chat   ChatReader
	health HealthReporter

	started    time.Time
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, store *preferences.Store, eventBus *events.EventBus) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		eventBus: eventBus,
		logger:   util.ComponentLogger("api"),
		started:  time.Now(),
	}
}

// SetDependencies injects components created after the server.
func (s *Server) SetDependencies(stats StatsProvider, chat ChatReader) {
	s.stats = stats
	s.chat = chat
}

// SetHealth injects the health check reporter.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API on localhost until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/countries", s.handleGetCountries)
		api.GET("/status", s.handleGetStatus)
		api.GET("/chat", s.handleGetChat)
		api.GET("/preferences", s.handleGetPreferences)
		api.PATCH("/preferences", s.handlePatchPreferences)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "osus-proxy API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
