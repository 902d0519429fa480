// Package web exposes the filter control API, still filtering and the
// websocket preview over HTTP.
package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"greenscreen-camera/camera"
	"greenscreen-camera/config"
	"greenscreen-camera/pipeline"
	"greenscreen-camera/preview"

	"go.uber.org/zap"
)

// Server represents the main web server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	listener   net.Listener

	handlers *Handlers
	hub      *PreviewHub
}

// NewServer creates a new web server for p
func NewServer(cfg *config.Config, p *pipeline.Pipeline, logger *zap.Logger) *Server {
	logger = logger.With(zap.String("component", "web"))
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: NewHandlers(cfg, p, logger),
		hub: NewPreviewHub(cfg.Preview.MaxClients, cfg.Buffers.ClientSendBuffer,
			time.Duration(cfg.Timeouts.ClientWriteTimeout)*time.Millisecond, logger),
	}
}

// SetCameraManager sets the camera manager
func (s *Server) SetCameraManager(manager *camera.Manager) {
	s.handlers.SetCameraManager(manager)
}

// SetPreview wires the preview encoder and RTP streamer into the stats
// endpoint. The websocket hub is subscribed to encoder by the caller.
func (s *Server) SetPreview(encoder *preview.Encoder, streamer *preview.Streamer) {
	s.handlers.SetPreview(encoder, streamer, s.hub)
}

// Hub returns the websocket preview hub
func (s *Server) Hub() *PreviewHub {
	return s.hub
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handlers.HandleHome)

	// Filter control
	mux.HandleFunc("/api/filter/enable", s.handlers.HandleFilterEnable)
	mux.HandleFunc("/api/filter/disable", s.handlers.HandleFilterDisable)
	mux.HandleFunc("/api/filter/parameters", s.handlers.HandleFilterParameters)
	mux.HandleFunc("/api/output-size", s.handlers.HandleOutputSize)

	// Still capture
	mux.HandleFunc("/api/still", s.handlers.HandleStill)
	mux.HandleFunc("/api/still/last", s.handlers.HandleStillLast)

	mux.HandleFunc("/api/stats", s.handlers.HandleAPIStats)
	mux.HandleFunc("/api/config", s.handlers.HandleAPIConfig)
	mux.HandleFunc("/health", s.handlers.HandleHealth)

	mux.HandleFunc("/ws/preview", s.hub.HandleWebSocket)

	return s.addMiddleware(mux)
}

// Start starts the web server
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Server.BindIP, fmt.Sprint(s.config.Server.WebPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started",
		zap.String("address", ln.Addr().String()),
		zap.String("url", fmt.Sprintf("http://%s:%d", s.config.Server.AdvertiseIP, s.config.Server.WebPort)))
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// addMiddleware adds CORS and request logging
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(lw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Stop closes preview clients and shuts the server down gracefully
func (s *Server) Stop() error {
	s.logger.Info("Stopping web server")

	if s.httpServer == nil {
		return nil
	}

	s.hub.Close()

	timeout := time.Duration(s.config.Timeouts.HTTPShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Web server stopped")
	return nil
}
