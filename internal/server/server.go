// Package server exposes the queue and catalog panels to the browser-side
// script over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go-arcenciel-browser/internal/api"
	"go-arcenciel-browser/internal/models"
	"go-arcenciel-browser/internal/paths"
	"go-arcenciel-browser/internal/preview"
	"go-arcenciel-browser/internal/queue"
	"go-arcenciel-browser/internal/render"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// Prefix is the path every route is mounted under.
const Prefix = "/arcenciel"

// Queue is the part of queue.Manager the routes drive.
type Queue interface {
	Enqueue(item models.DownloadItem) models.DownloadItem
	Start()
	CancelAll()
	Snapshot() queue.Snapshot
}

// Server holds the route dependencies. Previews may be nil, in which case
// search results carry no inline thumbnails.
type Server struct {
	client   *api.Client
	queue    Queue
	presets  *paths.Store
	previews *preview.Pool
	renderer *render.Renderer
	echo     *echo.Echo
}

// New wires the routes onto a fresh echo instance.
func New(client *api.Client, q Queue, presets *paths.Store, previews *preview.Pool) *Server {
	s := &Server{
		client:   client,
		queue:    q,
		presets:  presets,
		previews: previews,
		renderer: render.New(client),
		echo:     echo.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			log.Debugf("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	g := e.Group(Prefix)
	g.POST("/download_with_extension", s.handleDownload)
	g.GET("/ping", s.handlePing)
	g.GET("/model_details/:id", s.handleModelDetails)
	g.GET("/image_details/:id", s.handleImageDetails)
	g.GET("/queue", s.handleQueue)
	g.POST("/cancel_all", s.handleCancelAll)
	g.GET("/search", s.handleSearch)
	g.GET("/paths", s.handleGetPaths)
	g.POST("/paths", s.handleSetPaths)
}

// ServeHTTP lets the server be mounted or exercised directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on http://%s%s", addr, Prefix)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
