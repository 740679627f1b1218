package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/facepass/internal/config"
	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/database"
	"github.com/kozaktomas/facepass/internal/embedding"
	"github.com/kozaktomas/facepass/internal/enrollment"
	"github.com/kozaktomas/facepass/internal/events"
	"github.com/kozaktomas/facepass/internal/metrics"
	"github.com/kozaktomas/facepass/internal/recognition"
	"github.com/kozaktomas/facepass/internal/web/handlers"
	"github.com/kozaktomas/facepass/internal/web/middleware"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	Store     database.IdentityWriter
	Detector  embedding.Detector
	Publisher events.Publisher
	Gallery   handlers.GalleryFunc
	Camera    handlers.CameraFunc // nil when no camera is configured
	Registry  *prometheus.Registry
}

// Server represents the web server
type Server struct {
	config      *config.Config
	router      *chi.Mux
	httpServer  *http.Server
	deps        Deps
	coordinator *enrollment.Coordinator
	sessions    *recognition.Manager
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, host string, port int, deps Deps) *Server {
	r := chi.NewRouter()

	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	metrics.Register(deps.Registry)

	s := &Server{
		config: cfg,
		router: r,
		deps:   deps,
		coordinator: enrollment.NewCoordinator(deps.Store,
			enrollment.WithPublisher(deps.Publisher),
			enrollment.WithMaxSamples(cfg.Enrollment.MaxSamples),
		),
		sessions: recognition.NewManager(constants.SessionRetention, nil),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// SSE streams stay open for the whole recognition session
		WriteTimeout: cfg.Recognition.Timeout + cfg.Media.ReadyTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown cancels running recognition sessions and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	s.sessions.CancelAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
