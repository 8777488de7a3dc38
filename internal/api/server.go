// Package api exposes instances and their lifecycle over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distantorigin/craftlauncher/internal/channel"
	"github.com/distantorigin/craftlauncher/internal/launch"
	"github.com/distantorigin/craftlauncher/internal/store"
)

// Instances is the instance record surface the API needs
type Instances interface {
	Create(ctx context.Context, spec store.Spec) (*store.Instance, error)
	Get(ctx context.Context, id string) (*store.Instance, error)
	List(ctx context.Context) ([]*store.Instance, error)
	Remove(ctx context.Context, id string) error
}

// Versions lists the game versions of a channel
type Versions interface {
	Versions(ctx context.Context, ch channel.Channel) ([]string, error)
}

// Lifecycle drives instances through update and launch
type Lifecycle interface {
	State(id string) launch.Status
	Sync(ctx context.Context, id string) error
	Launch(ctx context.Context, id string) error
	Cancel(id string) error
}

// Server serves the HTTP API
type Server struct {
	instances Instances
	versions  Versions
	lifecycle Lifecycle
	channel   channel.Channel
	logger    *slog.Logger

	// sessions started over HTTP outlive the request that started them
	background context.Context

	echo *echo.Echo
}

// New creates a server. ch is the default channel for version listings.
func New(instances Instances, versions Versions, lifecycle Lifecycle, ch channel.Channel, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		instances:  instances,
		versions:   versions,
		lifecycle:  lifecycle,
		channel:    ch,
		logger:     logger.With("component", "api"),
		background: context.Background(),
		echo:       echo.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	api := e.Group("/api")
	api.GET("/instances", s.listInstances)
	api.POST("/instances", s.createInstance)
	api.GET("/instances/:id", s.getInstance)
	api.DELETE("/instances/:id", s.removeInstance)
	api.GET("/instances/:id/state", s.instanceState)
	api.POST("/instances/:id/sync", s.syncInstance)
	api.POST("/instances/:id/launch", s.launchInstance)
	api.POST("/instances/:id/cancel", s.cancelInstance)
	api.GET("/versions", s.listVersions)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// ServeHTTP lets the server be mounted or tested without a listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
