// Package preview serves the live camera preview and controller events on a
// loopback HTTP server.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signclip/internal/domain"
	"signclip/internal/ports"
)

// ErrNoVideoTrack is returned when binding a stream without video.
var ErrNoVideoTrack = errors.New("stream has no video track")

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Config controls the preview listener.
type Config struct {
	Addr string
}

// Server renders the bound stream as MJPEG and exposes the event hub. It
// implements ports.PreviewSurface.
type Server struct {
	cfg    Config
	hub    *EventHub
	engine *gin.Engine
	log    zerolog.Logger

	mu       sync.RWMutex
	stream   ports.MediaStream
	status   func() domain.Status
	listener net.Listener
	server   *http.Server
}

func NewServer(cfg Config, hub *EventHub, log zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		engine: gin.New(),
		log:    log.With().Str("component", "preview").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/api/health", s.handleHealth)
	s.engine.GET("/api/status", s.handleStatus)
	s.engine.GET("/api/events", gin.WrapH(s.hub))
	s.engine.GET("/preview.mjpeg", s.handlePreview)
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetStatusSource installs the snapshot served by /api/status.
func (s *Server) SetStatusSource(status func() domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Bind attaches a live stream to the preview.
func (s *Server) Bind(stream ports.MediaStream) error {
	if stream == nil {
		return errors.New("cannot bind a nil stream")
	}
	hasVideo := false
	for _, track := range stream.Tracks() {
		if track.Kind == "video" {
			hasVideo = true
		}
	}
	if !hasVideo {
		return ErrNoVideoTrack
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	s.log.Debug().Str("stream", stream.ID()).Msg("preview bound")
	return nil
}

// Unbind detaches the stream. Open preview responses end when the stream stops.
func (s *Server) Unbind() {
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("preview server stopped")
		}
	}()
	s.log.Info().Str("addr", listener.Addr().String()).Msg("preview server listening")
	return nil
}

// URL returns the base URL once started.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Shutdown stops the listener and disconnects event clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "controller not attached"})
		return
	}
	c.JSON(http.StatusOK, status())
}

func (s *Server) handlePreview(c *gin.Context) {
	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()
	if stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not ready"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	frames, cancel := stream.Subscribe()
	defer cancel()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	flusher.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	}
}
