package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nerrad567/gatekeeper/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsCfg.Enabled && s.collector != nil {
		r.Method(http.MethodGet, s.metricsPath(), s.collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/alive", s.handleAlive)
		r.Get("/public/alive", s.handleAlive)

		r.Route("/internal", func(r chi.Router) {
			r.Use(s.requireLevel(auth.LevelHigh))
			r.Get("/alive", s.handleAlive)
			r.Get("/metrics", s.handleMetrics)
			r.Put("/stop", s.handleStop)
			r.Put("/stop_now", s.handleStopNow)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/create_user", s.handlePublicCreateUser)

		r.Route("/manage", func(r chi.Router) {
			r.Use(s.requireLevel(auth.LevelLow))
			r.Put("/change_password", s.handleChangePassword)
			r.Put("/check_password", s.handleCheckPassword)
			r.Get("/check_password", s.handleCheckPassword)
			r.Put("/delete_user", s.handleDeleteSelf)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireLevel(auth.LevelHigh))
		r.Post("/create_user", s.handleInternalCreateUser)
		r.Put("/delete_user", s.handleDeleteUser)
		r.Put("/undo_delete_user", s.handleUndoDeleteUser)
		r.Put("/change_user_level", s.handleChangeUserLevel)
		r.Get("/audit", s.handleListAuditLogs)
	})

	return r
}

func (s *Server) metricsPath() string {
	if s.metricsCfg.Path != "" {
		return s.metricsCfg.Path
	}
	return "/metrics"
}
