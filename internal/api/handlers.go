package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdbook-plantuml/internal/apperr"
	"github.com/starford/mdbook-plantuml/internal/diagramservice"
	"github.com/starford/mdbook-plantuml/internal/render"
)

const maxSourceBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *diagramservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *diagramservice.Service) *Handler {
	return &Handler{svc: svc}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.svc.ListArtifacts(r.Context(), 1, 0, ""); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("not ready"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Render handles POST /render.
//
//	@Summary		Render a PlantUML diagram
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderRequest	true	"Diagram source"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSourceBytes)
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("source is required"))
		return
	}
	res, err := h.svc.Render(r.Context(), req.Source, req.Format)
	if err != nil {
		writeServiceError(w, "render", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListArtifacts handles GET /artifacts.
//
//	@Summary		List rendered artifacts
//	@Tags			artifacts
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			format	query		string	false	"Filter by format"
//	@Success		200		{object}	ArtifactListResponse
//	@Security		BearerAuth
//	@Router			/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := h.svc.ListArtifacts(r.Context(), limit, offset, q.Get("format"))
	if err != nil {
		writeServiceError(w, "list artifacts", err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactListResponse{Artifacts: rows, Total: total})
}

// Source handles GET /artifacts/{name}/source.
func (h *Handler) Source(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, err := h.svc.ReadSource(r.Context(), name)
	if err != nil {
		writeServiceError(w, "read source", err)
		return
	}
	writeJSON(w, http.StatusOK, SourceResponse{File: name, Source: src})
}

// Search handles GET /search.
//
//	@Summary		Search diagram sources and chapters
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Image handles GET /img/{name}. Artifacts are content-addressed, so they
// are served as immutable.
func (h *Handler) Image(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, ct, err := h.svc.ReadImage(r.Context(), name)
	if err != nil {
		writeServiceError(w, "read image", err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	var rerr *render.Error
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrUnsupportedFormat),
		errors.Is(err, render.ErrUnsupportedFormat):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.As(err, &rerr):
		slog.Warn(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusUnprocessableEntity, renderErrorBody(rerr))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
