package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/mdbook-plantuml/internal/render"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
	// Kind is set for PlantUML failures, e.g. "no_output".
	Kind string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func renderErrorBody(err *render.Error) errResponse {
	return errResponse{Error: err.Error(), Kind: err.Kind.String()}
}
