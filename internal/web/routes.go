package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/web/handlers"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) {
	// Create handlers
	authHandler := handlers.NewAuthHandler(s.config, sessionManager)
	statsHandler := handlers.NewStatsHandler(s.services.Enrollment, s.services.Attendance, s.services.Index)
	studentsHandler := handlers.NewStudentsHandler(s.services.Enrollment, statsHandler)
	attendanceHandler := handlers.NewAttendanceHandler(s.services.Attendance, statsHandler)
	indexHandler := handlers.NewIndexHandler(s.services.Index, statsHandler)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// All other routes require a signed-in teacher
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionManager))

			// Students
			r.Get("/students", studentsHandler.List)
			r.Post("/students", studentsHandler.Create)
			r.Get("/students/{id}", studentsHandler.Get)
			r.Put("/students/{id}", studentsHandler.Update)
			r.Delete("/students/{id}", studentsHandler.Delete)
			r.Get("/students/{id}/photo", studentsHandler.Photo)

			// Attendance
			r.Post("/attendance/capture", attendanceHandler.Capture)
			r.Get("/attendance", attendanceHandler.List)
			r.Get("/attendance/export", attendanceHandler.Export)

			// Stats
			r.Get("/stats", statsHandler.Get)

			// Encoding index
			r.Post("/index/rebuild", indexHandler.Rebuild)
		})
	})

	s.router.Get("/", s.serveIndex)
}

// serveIndex returns a placeholder page pointing at the API
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Rollcall</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; }
        .container { text-align: center; }
        code { background: #eee; padding: 2px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Rollcall</h1>
        <p>Sign in with <code>POST /api/v1/auth/login</code>, then post captures to <code>/api/v1/attendance/capture</code>.</p>
        <p>Service status: <a href="/api/v1/health">/api/v1/health</a></p>
    </div>
</body>
</html>`))
}
