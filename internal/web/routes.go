package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes(deps Deps) {
	healthHandler := handlers.NewHealthHandler(deps.Store)
	settingsHandler := handlers.NewSettingsHandler(deps.Settings)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	attendanceHandler := handlers.NewAttendanceHandler(deps.Attendance)

	s.router.Get("/api/v1/health", healthHandler.Check)
	s.router.Handle("/metrics", deps.Metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Outside the request timeout: starting builds the gallery and
		// events stream for the whole session.
		r.Post("/session/start", sessionHandler.Start)
		r.Get("/session/events", sessionHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)
			r.Post("/settings/reset", settingsHandler.Reset)
			r.Get("/settings/info", settingsHandler.Info)

			r.Post("/session/stop", sessionHandler.Stop)
			r.Get("/session", sessionHandler.Status)
			r.Get("/session/log", sessionHandler.Log)

			r.Get("/attendance/today", attendanceHandler.Today)
		})
	})
}
