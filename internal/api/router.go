package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdbook-plantuml/internal/diagramservice"
)

// NewRouter creates a chi router with all preview routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *diagramservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Post("/render", h.Render)
		r.Post("/render/upload", h.RenderUpload)

		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/artifacts/{name}/source", h.Source)
		r.Get("/search", h.Search)

		r.Get("/img/{name}", h.Image)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
