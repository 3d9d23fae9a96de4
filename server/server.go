// Package server assembles the HTTP surface: the v1 API, health and
// metrics endpoints, on one echo instance.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/deepsearch/ai/metrics"
	"github.com/hrygo/deepsearch/ai/tracing"
	"github.com/hrygo/deepsearch/internal/profile"
	"github.com/hrygo/deepsearch/internal/version"
	apiv1 "github.com/hrygo/deepsearch/server/router/api/v1"
	"github.com/hrygo/deepsearch/stream"
)

// Server is the process-level HTTP server. All dependencies are passed in
// explicitly; there are no package-level singletons.
type Server struct {
	echoServer *echo.Echo
	profile    *profile.Profile
	broker     *stream.Broker
	tracer     *tracing.Tracer
}

// NewServer wires routes and middleware. The api service carries the chat
// pipeline dependencies.
func NewServer(profile *profile.Profile, apiService *apiv1.APIV1Service, broker *stream.Broker, tracer *tracing.Tracer, exporter *metrics.PrometheusExporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.GetCurrentVersion(profile.Mode),
		})
	})
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.HTTPHandler()))
	}

	apiService.RegisterRoutes(e.Group("/api/v1"))

	return &Server{
		echoServer: e,
		profile:    profile,
		broker:     broker,
		tracer:     tracer,
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("server started",
		"address", address,
		"mode", s.profile.Mode,
		"version", version.GetCurrentVersion(s.profile.Mode),
	)
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections, stops the stream broker and flushes traces.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}

	s.broker.Close()

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.tracer.Shutdown(flushCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("server shut down")
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
