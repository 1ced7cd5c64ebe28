// Package statusapi serves live migration status over HTTP while a run is in
// flight: a health check, the progress ledger as JSON, and prometheus metrics.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/karacommerce/catalog-migrator/internal/metrics"
	"github.com/karacommerce/catalog-migrator/internal/migrate"
	"github.com/karacommerce/catalog-migrator/internal/staging"
)

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ProgressResponse is the live progress payload.
type ProgressResponse struct {
	RunID    string             `json:"run_id"`
	Elapsed  string             `json:"elapsed"`
	Entities []staging.Progress `json:"entities"`
}

// Server exposes the status endpoints during a migration run.
type Server struct {
	tracker *migrate.StatusTracker
	srv     *http.Server
	log     zerolog.Logger
}

// New creates the status server on the given port.
func New(port int, tracker *migrate.StatusTracker, m *metrics.Metrics, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		tracker: tracker,
		log:     log.With().Str("component", "status-api").Logger(),
	}

	engine.GET("/healthz", s.health)
	engine.GET("/progress", s.progress)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("Status API listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	response := HealthResponse{Status: "ok"}

	if staging.Pool() != nil {
		if err := staging.Status(c.Request.Context()); err != nil {
			response.Database = "disconnected"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response.Database = "connected"
	} else {
		response.Database = "not configured"
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) progress(c *gin.Context) {
	c.JSON(http.StatusOK, ProgressResponse{
		RunID:    s.tracker.RunID(),
		Elapsed:  s.tracker.Elapsed().String(),
		Entities: s.tracker.Snapshot(),
	})
}
