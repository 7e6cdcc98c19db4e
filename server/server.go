// Package server exposes a geotrack.Tracker over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aadithya-v/geotrack"
	"github.com/aadithya-v/geotrack/source"
	"github.com/gin-gonic/gin"
)

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Tracker *geotrack.Tracker

	// Push receives fixes posted to /api/fixes. Nil disables the endpoint.
	Push *source.Push

	// GeoIP resolves the client address when a posted fix has no
	// coordinates. Nil disables the fallback.
	GeoIP *source.GeoIP

	Addr   string
	Logger *log.Logger
	Out    io.Writer
}

// Server serves the tracking API.
type Server struct {
	tracker *geotrack.Tracker
	push    *source.Push
	geoip   *source.GeoIP
	logger  *log.Logger
	router  *gin.Engine

	mu     sync.RWMutex
	device *DeviceInfo // last client that posted a fix
}

// New builds a Server and its routes.
func New(opts StartOpts) (*Server, error) {
	if opts.Tracker == nil {
		return nil, errors.New("server: tracker is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "server: ", log.LstdFlags)
	}

	s := &Server{
		tracker: opts.Tracker,
		push:    opts.Push,
		geoip:   opts.GeoIP,
		logger:  opts.Logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the HTTP server. It blocks until ctx is cancelled and
// in-flight requests have finished.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	s, err := New(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Open event streams never go idle.
			s.logger.Printf("shutdown: %v", err)
			srv.Close()
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "geotrack listening on %s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	// ListenAndServe returns as soon as Shutdown begins.
	<-stopped
	return nil
}

func (s *Server) recordDevice(d DeviceInfo) {
	s.mu.Lock()
	s.device = &d
	s.mu.Unlock()
}

func (s *Server) lastDevice() *DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.device == nil {
		return nil
	}
	d := *s.device
	return &d
}
