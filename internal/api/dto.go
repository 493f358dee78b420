package api

import (
	"github.com/starford/mdbook-plantuml/internal/diagramservice"
	"github.com/starford/mdbook-plantuml/internal/manifest"
)

// RenderRequest is the request body for rendering a diagram.
type RenderRequest struct {
	Source string `json:"source" example:"@startuml\nA -> B\n@enduml" validate:"required"`
	Format string `json:"format,omitempty" example:"svg"`
}

// RenderResponse is returned after a render (aliased from the domain layer).
type RenderResponse = diagramservice.RenderResult

// Artifact is one rendered artifact (aliased from the manifest).
type Artifact = manifest.Row

// ArtifactListResponse wraps paginated artifact listings.
type ArtifactListResponse struct {
	Artifacts []Artifact `json:"artifacts" validate:"required"`
	Total     int        `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []Artifact `json:"results" validate:"required"`
}

// SourceResponse carries the PlantUML source behind an artifact.
type SourceResponse struct {
	File   string `json:"file" validate:"required"`
	Source string `json:"source" validate:"required"`
}
