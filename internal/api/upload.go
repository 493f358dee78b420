package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

const maxUploadBytes = 5 << 20

var uploadExts = map[string]bool{".puml": true, ".plantuml": true, ".pu": true, ".iuml": true}

// RenderUpload handles POST /render/upload (multipart/form-data, field
// "file" holding a PlantUML source file; optional field "format").
func (h *Handler) RenderUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	if !uploadExts[strings.ToLower(filepath.Ext(header.Filename))] {
		writeJSON(w, http.StatusBadRequest, errorBody("file must be a PlantUML source (.puml, .plantuml, .pu, .iuml)"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}

	res, err := h.svc.Render(r.Context(), string(data), r.FormValue("format"))
	if err != nil {
		writeServiceError(w, "render upload", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
