// Package api exposes the job queue over HTTP. The route table and the
// response conventions (201 on successful mutations, 404 with a
// message naming the id and the expected condition, 422 on validation
// failures) are the queue's public REST contract.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webcast-io/jobukyu"
)

// Server serves the REST API for a queue.
type Server struct {
	queue  *jobukyu.Queue
	logger jobukyu.Logger
	echo   *echo.Echo
	hub    *hub

	authUsername string
	authPassword string
}

// ServerOption is an options provider for Server.
type ServerOption func(*Server)

// SetLogger specifies the logger used for request and websocket errors.
func SetLogger(logger jobukyu.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// SetBasicAuth protects all routes with HTTP basic auth.
func SetBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		s.authUsername = username
		s.authPassword = password
	}
}

// New initializes a new Server for the given queue.
func New(queue *jobukyu.Queue, options ...ServerOption) *Server {
	s := &Server{
		queue:  queue,
		logger: jobukyu.NewStdLogger(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.hub = newHub(s.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if s.authUsername != "" {
		e.Use(middleware.BasicAuth(func(username, password string, c echo.Context) (bool, error) {
			nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.authUsername)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.authPassword)) == 1
			return nameOK && passOK, nil
		}))
	}

	e.GET("/jobs", s.index)
	e.POST("/jobs", s.create)
	e.GET("/jobs/search", s.search)
	e.GET("/jobs/new", s.listStatus(jobukyu.StatusNew))
	e.GET("/jobs/processing", s.listStatus(jobukyu.StatusProcessing))
	e.GET("/jobs/completed", s.listStatus(jobukyu.StatusCompleted))
	e.GET("/jobs/failed", s.listStatus(jobukyu.StatusFailed))
	e.GET("/jobs/:id", s.show)
	e.PUT("/jobs/:id", s.update)
	e.PUT("/jobs/:id/take", s.take)
	e.PUT("/jobs/:id/release", s.release)
	e.PUT("/jobs/:id/complete", s.complete)
	e.PUT("/jobs/:id/fail", s.fail)
	e.PUT("/jobs/:id/retry", s.retry)
	e.DELETE("/jobs/:id", s.delete)
	e.GET("/stats", s.stats)
	e.GET("/ws", s.serveWs)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo = e
	return s
}

// Handler returns the http.Handler serving the API. Useful for tests
// and for embedding into an existing server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve starts the web server at the given address and blocks until
// Shutdown is called. It also starts the websocket hub and the stats
// watcher feeding it.
func (s *Server) Serve(addr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run(ctx)
	go s.watch(ctx)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the web server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
