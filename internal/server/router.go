package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tessera-labs/tessera/internal/api"
	"github.com/tessera-labs/tessera/internal/api/handlers"
	"github.com/tessera-labs/tessera/internal/api/middleware"
)

type RouterConfig struct {
	QueryHandler     *handlers.QueryHandler
	DocumentsHandler *handlers.DocumentsHandler
	SystemHandler    *handlers.SystemHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", cfg.QueryHandler.Query)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentsHandler.Ingest)
			r.Get("/", cfg.DocumentsHandler.List)
			r.Delete("/*", cfg.DocumentsHandler.Delete)
		})

		r.Post("/sync", cfg.SystemHandler.Sync)
		r.Get("/status", cfg.SystemHandler.Status)
	})

	return r
}
