// Package storage defines the output-root file-system abstraction.
package storage

import "github.com/starford/mdbook-plantuml/internal/models"

// Store is the interface for artifact file operations. All paths are
// relative to the output root.
type Store interface {
	// Root returns the absolute output root.
	Root() string
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// List returns metadata for every artifact under the root.
	List() ([]models.Artifact, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Publish atomically copies the file at src (any absolute path) to path.
	Publish(path, src string) error
	// Delete removes the file at path.
	Delete(path string) error
}
