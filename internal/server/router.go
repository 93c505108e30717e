package server

import (
	"net/http"

	"github.com/finsight-labs/filingrag/internal/api"
	"github.com/finsight-labs/filingrag/internal/api/handlers"
	"github.com/finsight-labs/filingrag/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	FilingHandler *handlers.FilingHandler

	// APIKeys enables bearer-token authentication when non-empty.
	APIKeys []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if len(cfg.APIKeys) > 0 {
			r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		}

		r.Post("/query", cfg.FilingHandler.Query)
		r.Get("/sections", cfg.FilingHandler.Sections)

		r.Route("/index", func(r chi.Router) {
			r.Post("/rebuild", cfg.FilingHandler.Rebuild)
			r.Delete("/{ticker}/{section}", cfg.FilingHandler.Clear)
		})
	})

	return r
}
