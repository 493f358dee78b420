package manifest

import (
	"log/slog"

	"github.com/starford/mdbook-plantuml/internal/storage"
)

// Sync drops rows whose artifact no longer exists under the output root.
// It returns the number of rows removed.
func Sync(db Index, store storage.Store, logger *slog.Logger) (int, error) {
	paths, err := db.AllPaths()
	if err != nil {
		return 0, err
	}

	removed := 0
	for p := range paths {
		if store.Exists(p) {
			continue
		}
		if err := db.DeleteArtifact(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		removed++
	}
	return removed, nil
}
