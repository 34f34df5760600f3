// Package http provides the ground-test HTTP surface: health, live state
// and Prometheus metrics. It is served over the engineering port on the
// bench and never over the radio.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flightd/internal/mission"
	"github.com/fyrsmithlabs/flightd/internal/telemetry"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes flightd state for bench tooling.
type Server struct {
	echo      *echo.Echo
	sequencer *mission.Sequencer
	board     *telemetry.Blackboard
	logger    *zap.Logger
	config    *Config
}

// NewServer creates the ground-test server.
func NewServer(sequencer *mission.Sequencer, board *telemetry.Blackboard, logger *zap.Logger, cfg *Config) (*Server, error) {
	if sequencer == nil {
		return nil, fmt.Errorf("sequencer cannot be nil")
	}
	if board == nil {
		return nil, fmt.Errorf("blackboard cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8420}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		sequencer: sequencer,
		board:     board,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/state", s.handleState)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StateResponse is the response body for GET /state.
type StateResponse struct {
	Mission   mission.Snapshot   `json:"mission"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, StateResponse{
		Mission:   s.sequencer.Snapshot(),
		Telemetry: s.board.Snapshot(),
	})
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("ground-test server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ground-test server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
