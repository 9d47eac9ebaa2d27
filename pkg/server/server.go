// Package server builds the echo HTTP server and its middleware chain
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/middleware"
)

// Config contains HTTP server settings
type Config struct {
	AppName      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps echo with the service middleware and a /metrics endpoint
type Server struct {
	echo   *echo.Echo
	config Config
	logger ectologger.Logger
	errCh  chan error
}

// New creates the server. Routes are added through Echo or Group before Start.
func New(config Config, logger ectologger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(config.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{
		echo:   e,
		config: config,
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// Echo returns the underlying echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Group returns a route group under prefix
func (s *Server) Group(prefix string) *echo.Group {
	return s.echo.Group(prefix)
}

// Start begins serving in the background. Errors after startup are
// reported on Errors.
func (s *Server) Start(_ context.Context) error {
	s.echo.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
	go func() {
		if err := s.echo.StartServer(s.echo.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server stopped unexpectedly")
			s.errCh <- err
		}
	}()
	return nil
}

// Errors reports a server that stopped on its own
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.echo.Shutdown(ctx)
}
