package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/facepass/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	// Create handlers
	identitiesHandler := handlers.NewIdentitiesHandler(s.coordinator, s.deps.Store)
	samplesHandler := handlers.NewSamplesHandler(s.coordinator, s.deps.Store)
	recognitionHandler := handlers.NewRecognitionHandler(
		s.config, s.sessions, s.deps.Detector, s.deps.Gallery, s.deps.Camera, s.deps.Publisher,
	)

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(time.Minute))

			// Identities
			r.Post("/identities", identitiesHandler.Enroll)
			r.Get("/identities", identitiesHandler.List)
			r.Post("/identities/check", identitiesHandler.Check)
			r.Get("/identities/{id}/samples", identitiesHandler.ListSamples)

			// Samples
			r.Post("/samples", samplesHandler.Add)
			r.Get("/samples/{id}", samplesHandler.Image)

			// Recognition sessions
			r.Post("/recognition", recognitionHandler.Start)
			r.Get("/recognition/{id}", recognitionHandler.Status)
			r.Delete("/recognition/{id}", recognitionHandler.Cancel)
			r.Post("/recognition/{id}/frames", recognitionHandler.PushFrame)
		})

		// SSE streams outlive the request timeout
		r.Get("/recognition/{id}/events", recognitionHandler.Events)
	})
}
