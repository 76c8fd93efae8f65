package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/morbidity-triage-server/internal/classification"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/ledger"
	"github.com/morbidity-triage-server/internal/location"
	"github.com/morbidity-triage-server/internal/middleware"
)

// Deps are the components the HTTP server exposes.
type Deps struct {
	Ledger     *ledger.Ledger
	Resolver   *location.Resolver
	Oracle     classification.Oracle
	Retraining feedback.Store
	Metrics    *Metrics
	Logger     *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg        domain.ServerConfig
	router     *gin.Engine
	server     *http.Server
	logger     *logrus.Logger
	ledger     *ledger.Ledger
	resolver   *location.Resolver
	retraining feedback.Store
	sessions   *SessionRegistry
	metrics    *Metrics
}

// NewServer creates a new HTTP server instance
func NewServer(cfg domain.ServerConfig, debug bool, deps Deps) (*Server, error) {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	sessions, err := NewSessionRegistry(cfg.MaxSessions, deps.Resolver, deps.Oracle, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(deps.Metrics.Middleware())

	s := &Server{
		cfg:        cfg,
		router:     router,
		logger:     deps.Logger,
		ledger:     deps.Ledger,
		resolver:   deps.Resolver,
		retraining: deps.Retraining,
		sessions:   sessions,
		metrics:    deps.Metrics,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.RateLimit(float64(s.cfg.RateLimit), s.cfg.RateLimit*2))
	v1.Use(middleware.RequestTimeout(s.cfg.RequestTimeout))
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/metrics", gin.WrapH(s.metrics.Handler()))

		v1.GET("/regions", s.handleListRegions)
		v1.GET("/regions/:code/subregions", s.handleListSubRegions)

		v1.GET("/patients", s.handleListPatients)
		v1.POST("/patients", s.handleCreatePatient)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.PUT("/patients/:id", s.handleUpdatePatient)
		v1.POST("/patients/:id/pathologies", s.handleAddPathology)
		v1.DELETE("/patients/:id/pathologies/:index", s.handleRemovePathology)
		v1.POST("/patients/:id/pathologies/:index/confirm", s.handleConfirmPathology)
		v1.POST("/patients/:id/pathologies/:index/discard", s.handleDiscardPathology)
		v1.POST("/patients/:id/pathologies/:index/retrain", s.handleRetrainPathology)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:sid", s.handleGetSession)
		v1.POST("/sessions/:sid/region", s.handleSelectRegion)
		v1.POST("/sessions/:sid/subregion", s.handleSelectSubRegion)
		v1.POST("/sessions/:sid/classify", s.handleClassify)
		v1.POST("/sessions/:sid/category", s.handleSelectCategory)
		v1.POST("/sessions/:sid/promote", s.handlePromoteCause)

		v1.GET("/statistics", s.handleStatistics)
		v1.GET("/retraining", s.handleListRetraining)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if s.resolver.Degraded() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"sessions":  s.sessions.Len(),
		"patients":  len(s.ledger.List()),
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
