package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mail-ingestor/internal/events"
	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/models"
)

const shutdownTimeout = 10 * time.Second

// Runner performs one sync run over accounts
type Runner interface {
	Run(ctx context.Context, accounts []models.Account, sink events.Sink) string
}

// AccountSource lists the accounts a triggered run covers
type AccountSource func(ctx context.Context) ([]models.Account, error)

type Server struct {
	engine   *gin.Engine
	runner   Runner
	accounts AccountSource
	sinks    []events.Sink
}

// NewServer wires the HTTP routes. Every run also feeds sinks besides the streaming client.
func NewServer(runner Runner, accounts AccountSource, sinks ...events.Sink) *Server {
	s := &Server{
		engine:   gin.New(),
		runner:   runner,
		accounts: accounts,
		sinks:    sinks,
	}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.POST("/sync", s.handleSync)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleSync runs every account and streams each event to the caller as a Server-Sent Event.
// Disconnecting cancels the run.
func (s *Server) handleSync(c *gin.Context) {
	ctx := c.Request.Context()

	accounts, err := s.accounts(ctx)
	if err != nil {
		logging.Log.Errorf("Error listing accounts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list accounts"})
		return
	}

	eventCh := make(chan models.SyncEvent)
	sink := events.MultiSink(append([]events.Sink{events.ChanSink{C: eventCh, Done: ctx.Done()}}, s.sinks...))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runner.Run(ctx, accounts, sink)
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-eventCh:
			data, err := events.Marshal(ev)
			if err != nil {
				logging.Log.Errorf("Error encoding event: %v", err)
				return true
			}
			c.SSEvent(ev.Type.String(), string(data))
			return ev.Type != models.EventAllComplete
		case <-ctx.Done():
			return false
		}
	})

	<-runDone
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("HTTP request")
	}
}
