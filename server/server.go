// Package server hosts the memory HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/ai/memory"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/internal/profile"
	apiv1 "github.com/hrygo/mnemo/server/router/api/v1"
)

type Server struct {
	Profile *profile.Profile
	Runtime *memory.Runtime

	echoServer *echo.Echo
	listener   net.Listener
}

func NewServer(_ context.Context, profile *profile.Profile, rt *memory.Runtime) (*Server, error) {
	s := &Server{
		Profile: profile,
		Runtime: rt,
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestID())
	echoServer.Use(requestScopedLogger)
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logging.FromContext(c.Request().Context()).Debug("request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	echoServer.GET("/metrics", echo.WrapHandler(rt.Metrics.Handler()))

	apiv1.NewAPIV1Service(profile.JWTSecret, profile, rt).RegisterRoutes(echoServer)
	return s, nil
}

// requestScopedLogger stores a logger tagged with the request id in the
// request context. Services add its fields to their degradation reports.
func requestScopedLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		l := logging.Default().WithFields(map[string]any{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"route":      c.Path(),
		})
		req := c.Request()
		c.SetRequest(req.WithContext(logging.ToContext(req.Context(), l)))
		return next(c)
	}
}

// Handler exposes the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start begins serving and launches the background memory work. It returns
// once the listener is bound.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.listener = listener

	s.Runtime.Start()
	go func() {
		if err := s.echoServer.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to serve", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests, then drains the memory runtime.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	if err := s.Runtime.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown memory runtime", slog.String("error", err.Error()))
	}
	slog.Info("server stopped properly")
}
