package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"comfyrelay/internal/http/handlers"
	"comfyrelay/internal/infra"
	"comfyrelay/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(middleware.NewOrigins(cfg.CORSAllowedOrigins)),
	)

	// Upload and generate share one budget per client.
	limit := middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)

	r.Get("/v1/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/workflows", app.ListWorkflows)
		r.Get("/sessions/{session}/archive", app.SessionArchive)
		r.With(limit).Post("/upload", app.Upload)
	})

	r.With(limit).Get("/ws/generate", app.Generate)
	r.Get("/images/{session}/{name}", app.ServeImage)

	return r
}
