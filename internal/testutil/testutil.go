// Package testutil provides shared test helpers for setting up books,
// render pools and manifests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/mdbook-plantuml/internal/diagramservice"
	"github.com/starford/mdbook-plantuml/internal/manifest"
	"github.com/starford/mdbook-plantuml/internal/preprocessor"
	"github.com/starford/mdbook-plantuml/internal/render"
	"github.com/starford/mdbook-plantuml/internal/render/rendertest"
	"github.com/starford/mdbook-plantuml/internal/storage"
)

// Diagram is a minimal PlantUML source used across tests.
const Diagram = "@startuml\nA --|> B\n@enduml\n"

// TestDB creates a temporary manifest database that is automatically closed.
func TestDB(t *testing.T) *manifest.DB {
	t.Helper()
	db, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBook creates a temporary book source dir and its image output store.
func TestBook(t *testing.T) (string, storage.Store) {
	t.Helper()
	srcDir := filepath.Join(t.TempDir(), "src")
	store, err := storage.NewFS(filepath.Join(srcDir, preprocessor.DefaultImageDir))
	if err != nil {
		t.Fatal(err)
	}
	return srcDir, store
}

// TestPool creates a render pool of size backends writing to outputRoot and
// driven by runner.
func TestPool(t *testing.T, runner render.CommandRunner, outputRoot string, size int) *render.Pool {
	t.Helper()
	pool, err := render.NewPool(size, func() (*render.Backend, error) {
		return render.New(render.Config{Command: "plantuml", Format: "svg", OutputRoot: outputRoot}, render.WithRunner(runner))
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// TestService wires a diagram service over a temporary book, a manifest and
// a fake runner in the given mode.
func TestService(t *testing.T, mode rendertest.Mode) (*diagramservice.Service, *rendertest.Runner) {
	t.Helper()
	srcDir, store := TestBook(t)
	runner := rendertest.New(mode)
	pool := TestPool(t, runner, store.Root(), 1)
	db := TestDB(t)
	svc, err := diagramservice.NewService(diagramservice.Deps{
		Pool:         pool,
		Preprocessor: preprocessor.NewService(pool, preprocessor.Options{Format: "svg"}, preprocessor.WithManifest(db)),
		Store:        store,
		Manifest:     db,
		SourceDir:    srcDir,
		Format:       "svg",
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc, runner
}
