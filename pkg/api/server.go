// Package api is the local HTTP surface: event ingestion, the parent
// control endpoints, the read endpoints, and the SSE decision stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/watchit-dev/watchit/pkg/bus"
	"github.com/watchit-dev/watchit/pkg/guardian"
	"github.com/watchit-dev/watchit/pkg/pipeline"
	"github.com/watchit-dev/watchit/pkg/replicator"
	"github.com/watchit-dev/watchit/pkg/store"
)

// Server carries the handler dependencies.
type Server struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	bus      *bus.Bus
	guardian *guardian.Loop
	// replicator is nil when no mirror DSN is configured.
	replicator *replicator.Replicator
	parentPIN  string
}

// NewServer creates the API server. replicator may be nil.
func NewServer(st *store.Store, pl *pipeline.Pipeline, b *bus.Bus, gl *guardian.Loop, repl *replicator.Replicator, parentPIN string) *Server {
	return &Server{
		store:      st,
		pipeline:   pl,
		bus:        b,
		guardian:   gl,
		replicator: repl,
		parentPIN:  parentPIN,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/event", s.PostEvent)
		v1.POST("/event/upgrade", s.PostEventUpgrade)

		v1.POST("/control/pause", s.ControlPause)
		v1.POST("/control/resume", s.ControlResume)
		v1.POST("/control/override", s.ControlOverride)

		v1.GET("/events", s.ListEvents)
		v1.GET("/decisions", s.ListDecisions)
		v1.GET("/children", s.ListChildren)
		v1.PUT("/children/:id", s.UpdateChild)

		v1.GET("/stream/decisions", s.StreamDecisions)

		v1.POST("/sync", s.SyncNow)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
