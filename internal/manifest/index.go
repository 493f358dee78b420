package manifest

// Index is the manifest surface consumers depend on.
type Index interface {
	UpsertArtifact(r Row) error
	GetArtifact(path string) (*Row, error)
	DeleteArtifact(path string) error
	ListArtifacts(limit, offset int, format string) ([]Row, int, error)
	Search(query string, limit int) ([]Row, error)
	AllPaths() (map[string]struct{}, error)
	Close() error
}

var _ Index = (*DB)(nil)
