// Package statsapi serves pipeline counters over HTTP for local inspection
// and scraping.
package statsapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/visiona/retina/internal/session"
)

// StatsSource provides the current pipeline snapshot.
type StatsSource interface {
	Stats() session.Stats
}

// Server exposes /healthz and /stats.
type Server struct {
	echo   *echo.Echo
	source StatsSource
	listen string
}

// New builds the HTTP server around a stats source.
func New(listen string, source StatsSource) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, source: source, listen: listen}
	e.GET("/healthz", s.health)
	e.GET("/stats", s.stats)
	return s
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Stats())
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("stats server failed", "error", err, "listen", s.listen)
		}
	}()
	slog.Info("stats server listening", "addr", s.listen)
}

// Shutdown stops the server, waiting up to 2 seconds for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
