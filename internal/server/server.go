// Package server exposes the workbook pipeline over HTTP (REST endpoints
// and a JSON-RPC tool endpoint) and over stdio.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"torg12-server/internal/compression"
	"torg12-server/internal/service"
	"torg12-server/internal/session"
	"torg12-server/pkg/config"
)

const (
	serverName    = "torg12-server"
	serverVersion = "1.0.0"
)

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	service    *service.Service
	sessions   *session.Store
	compressor *compression.Manager
	tools      *ToolHandler
	echo       *echo.Echo
	startedAt  time.Time
}

func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	compressor := compression.NewManager(cfg.Workbook.CompressionLevel)

	sessions, err := session.NewStore(session.Options{
		MaxSessions:     cfg.Cache.MaxSessions,
		MaxMemory:       cfg.MaxCacheBytes(),
		TTL:             cfg.Cache.DefaultTTL,
		HotTTL:          cfg.Cache.HotDataTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, compressor, logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	svc, err := service.New(cfg, sessions, logger)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		service:    svc,
		sessions:   sessions,
		compressor: compressor,
		tools:      NewToolHandler(svc, cfg.MaxFileBytes()),
		startedAt:  time.Now(),
	}
	s.echo = s.routes()

	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		ExposeHeaders: []string{headerWarnings, headerWarningCount, echo.HeaderContentDisposition},
	}))
	// Multipart framing adds a little on top of the file itself.
	limit := (s.config.MaxFileBytes() + 64<<10 + 1023) / 1024
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", limit)))

	e.GET(s.config.Healthcheck.Endpoint, s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
	e.POST("/rpc", s.handleRPC)

	api := e.Group("/api")
	api.POST("/sessions", s.handleUpload)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/analysis", s.handleAnalysis)
	api.GET("/sessions/:id/cells", s.handleCells)
	api.POST("/sessions/:id/modify", s.handleModify)
	api.POST("/sessions/:id/validate", s.handleValidate)
	api.GET("/template", s.handleTemplate)

	return e
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting TORG-12 server",
		zap.String("address", s.config.Addr()),
		zap.String("version", serverVersion),
	)

	s.echo.Server.ReadTimeout = s.config.Server.RequestTimeout
	s.echo.Server.WriteTimeout = s.config.Server.RequestTimeout

	go s.startBackgroundServices(ctx)

	err := s.echo.Start(s.config.Addr())
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	defer s.sessions.Close()
	return s.echo.Shutdown(ctx)
}

// requestContext bounds a request by server.request_timeout.
func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.config.Server.RequestTimeout)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info("Handled request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	stats := s.sessions.Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   serverVersion,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"cache": map[string]interface{}{
			"memory_used":  stats.MemoryUsed,
			"memory_total": stats.MemoryLimit,
			"hit_ratio":    stats.HitRatio,
		},
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	stats := s.sessions.Stats()
	utilization := 0.0
	if stats.MemoryLimit > 0 {
		utilization = float64(stats.MemoryUsed) / float64(stats.MemoryLimit)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions":        stats.Sessions,
		"cache_stats":     stats.Cache,
		"cache_hit_ratio": stats.HitRatio,
		"memory_usage": map[string]interface{}{
			"used_bytes":  stats.MemoryUsed,
			"total_bytes": stats.MemoryLimit,
			"utilization": utilization,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) startBackgroundServices(ctx context.Context) {
	ticker := time.NewTicker(s.config.Cache.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.sessions.Stats()
			s.logger.Debug("Session cache status",
				zap.Int("sessions", stats.Sessions),
				zap.Int64("memory_used", stats.MemoryUsed),
				zap.Float64("hit_ratio", stats.HitRatio),
			)
		}
	}
}
