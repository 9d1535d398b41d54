// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/handlers"
	"github.com/spherical-ai/spherical/libs/knowledge-base/cmd/knowledge-base-api/middleware"
)

// AppConfig holds router-level configuration.
type AppConfig struct {
	RequestTimeout time.Duration
	Auth           middleware.AuthConfig
}

// AppHandlers bundles the request handlers the router mounts.
type AppHandlers struct {
	Libraries *handlers.LibraryHandler
	Files     *handlers.FileHandler
	Uploads   *handlers.UploadHandler
	Search    *handlers.SearchHandler
	Chat      *handlers.ChatHandler
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(cfg AppConfig, h AppHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	// Health checks (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"knowledge-base"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))

		r.Route("/libraries", func(r chi.Router) {
			r.Post("/", h.Libraries.Create)
			r.Get("/", h.Libraries.List)

			r.Route("/{libraryID}", func(r chi.Router) {
				r.Get("/", h.Libraries.Get)
				r.Put("/", h.Libraries.Update)
				r.Delete("/", h.Libraries.Delete)
				r.Get("/permission", h.Libraries.Permission)

				r.Route("/permissions", func(r chi.Router) {
					r.Get("/", h.Libraries.ListPermissions)
					r.Put("/{userID}", h.Libraries.Grant)
					r.Delete("/{userID}", h.Libraries.Revoke)
				})

				r.Route("/files", func(r chi.Router) {
					r.Get("/", h.Files.List)
					r.Get("/{fileID}", h.Files.Get)
					r.Get("/{fileID}/download", h.Files.Download)
					r.Delete("/{fileID}", h.Files.Delete)
					r.Post("/{fileID}/reindex", h.Files.Reindex)
				})

				r.Post("/uploads", h.Uploads.Initiate)
				r.Post("/search", h.Search.Search)
				r.Post("/chat", h.Chat.Stream)
			})
		})

		r.Route("/uploads/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Uploads.Status)
			r.Put("/chunks/{chunkNumber}", h.Uploads.UploadChunk)
			r.Post("/complete", h.Uploads.Complete)
			r.Delete("/", h.Uploads.Cancel)
		})
	})

	return r
}
