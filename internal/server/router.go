package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pipewrench-ai/pipewrench/internal/api/handlers"
	"github.com/pipewrench-ai/pipewrench/internal/api/middleware"
)

type RouterConfig struct {
	ChatHandler        *handlers.ChatHandler
	IngestHandler      *handlers.IngestHandler
	MaintenanceHandler *handlers.MaintenanceHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.MaintenanceHandler.Health)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", cfg.ChatHandler.Start)
		r.Get("/{id}", cfg.ChatHandler.History)
		r.Post("/{id}/messages", cfg.ChatHandler.Send)
		r.Delete("/{id}", cfg.ChatHandler.Close)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Put("/{id}", cfg.IngestHandler.Index)
		r.Delete("/{id}", cfg.IngestHandler.Delete)
	})

	r.Route("/maintenance", func(r chi.Router) {
		r.Post("/reindex", cfg.MaintenanceHandler.Reindex)
		r.Get("/review", cfg.MaintenanceHandler.Review)
	})

	return r
}
