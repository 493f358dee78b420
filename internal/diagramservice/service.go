// Package diagramservice exposes on-demand rendering and artifact lookup
// to the preview server and the MCP server.
package diagramservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/mdbook-plantuml/internal/apperr"
	"github.com/starford/mdbook-plantuml/internal/identity"
	"github.com/starford/mdbook-plantuml/internal/manifest"
	"github.com/starford/mdbook-plantuml/internal/parser"
	"github.com/starford/mdbook-plantuml/internal/preprocessor"
	"github.com/starford/mdbook-plantuml/internal/render"
	"github.com/starford/mdbook-plantuml/internal/storage"
)

// DefaultMemoSize bounds the source→artifact memo when Deps.MemoSize is 0.
const DefaultMemoSize = 512

// RenderResult describes one rendered diagram.
type RenderResult struct {
	File   string `json:"file"`
	Path   string `json:"path"`
	URL    string `json:"url"`
	Format string `json:"format"`
	Cached bool   `json:"cached"`
}

// Deps are the collaborators a Service needs. Manifest is optional.
type Deps struct {
	Pool         *render.Pool
	Preprocessor *preprocessor.Service
	Store        storage.Store
	Manifest     manifest.Index
	SourceDir    string
	Format       string
	MemoSize     int
	Logger       *slog.Logger
}

// Service coordinates the render pool, output store and manifest.
type Service struct {
	pool   *render.Pool
	pre    *preprocessor.Service
	store  storage.Store
	db     manifest.Index
	srcDir string
	format string
	memo   *lru.Cache[string, string]
	logger *slog.Logger
}

// NewService creates a new diagram service.
func NewService(d Deps) (*Service, error) {
	size := d.MemoSize
	if size <= 0 {
		size = DefaultMemoSize
	}
	memo, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("diagramservice: memo: %w", err)
	}
	format := d.Format
	if format == "" {
		format = "svg"
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		pool:   d.Pool,
		pre:    d.Preprocessor,
		store:  d.Store,
		db:     d.Manifest,
		srcDir: d.SourceDir,
		format: format,
		memo:   memo,
		logger: logger,
	}, nil
}

// Render renders source as format (the configured default when empty).
// Repeated requests for the same source are answered from the memo as
// long as the artifact still exists on disk.
func (s *Service) Render(ctx context.Context, source, format string) (*RenderResult, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("source is empty: %w", apperr.ErrInvalidInput)
	}
	if format == "" {
		format = parser.DefaultFormat(source, s.format)
	}
	format = strings.ToLower(format)
	if !identity.Supported(format) {
		return nil, fmt.Errorf("%q: %w", format, apperr.ErrUnsupportedFormat)
	}

	key := identity.Hash(source) + ":" + format
	if file, ok := s.memo.Get(key); ok {
		if s.store.Exists(file) {
			return s.result(file, format, true), nil
		}
		s.memo.Remove(key)
	}

	name := identity.Name(source, format)
	existed := s.store.Exists(name)
	err := s.pool.Do(ctx, func(be *render.Backend) error {
		_, err := be.RenderFormat(ctx, source, format)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.memo.Add(key, name)
	if s.db != nil && !existed {
		row := manifest.Row{Path: name, Hash: identity.Hash(source), Format: format, Source: source}
		if data, err := s.store.Read(name); err == nil {
			row.Size = int64(len(data))
		}
		if err := s.db.UpsertArtifact(row); err != nil {
			s.logger.Warn("manifest: record failed", slog.String("path", name), slog.String("error", err.Error()))
		}
	}
	return s.result(name, format, existed), nil
}

func (s *Service) result(file, format string, cached bool) *RenderResult {
	return &RenderResult{
		File:   file,
		Path:   filepath.Join(s.store.Root(), file),
		URL:    "/img/" + file,
		Format: format,
		Cached: cached,
	}
}

// RenderChapter renders every diagram in the chapter at rel (relative to
// the source dir) and returns how many diagrams it contains. The chapter
// file itself is not modified.
func (s *Service) RenderChapter(ctx context.Context, rel string) (int, error) {
	data, err := os.ReadFile(filepath.Join(s.srcDir, rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, apperr.ErrNotFound
		}
		return 0, err
	}
	content := string(data)
	n := len(parser.FindDiagrams(content))
	if n == 0 {
		return 0, nil
	}
	err = s.pool.Do(ctx, func(be *render.Backend) error {
		_, err := s.pre.ProcessMarkdown(ctx, be, filepath.ToSlash(rel), content)
		return err
	})
	return n, err
}

// ListArtifacts returns a page of artifacts and the total count. Without a
// manifest the output root is listed directly.
func (s *Service) ListArtifacts(_ context.Context, limit, offset int, format string) ([]manifest.Row, int, error) {
	if s.db != nil {
		rows, total, err := s.db.ListArtifacts(limit, offset, format)
		return nonNilSlice(rows), total, err
	}

	arts, err := s.store.List()
	if err != nil {
		return nil, 0, err
	}
	var rows []manifest.Row
	for _, a := range arts {
		if format != "" && a.Ext != identity.Extension(format) {
			continue
		}
		rows = append(rows, manifest.Row{Path: a.File, Hash: a.Hash, Format: a.Ext, Size: a.Size, RenderedAt: a.UpdatedAt})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RenderedAt.After(rows[j].RenderedAt) })

	total := len(rows)
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 || offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return nonNilSlice(rows[offset:end]), total, nil
}

// Search finds artifacts whose source or chapter matches query.
func (s *Service) Search(_ context.Context, query string, limit int) ([]manifest.Row, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty: %w", apperr.ErrInvalidInput)
	}
	if s.db == nil {
		return []manifest.Row{}, nil
	}
	rows, err := s.db.Search(query, limit)
	return nonNilSlice(rows), err
}

// ReadImage returns the bytes and content type of an artifact.
func (s *Service) ReadImage(_ context.Context, name string) ([]byte, string, error) {
	if !validName(name) {
		return nil, "", fmt.Errorf("%q: %w", name, apperr.ErrInvalidInput)
	}
	data, err := s.store.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", apperr.ErrNotFound
		}
		return nil, "", err
	}
	_, ext := identity.SplitName(name)
	return data, ContentType(ext), nil
}

// ReadSource returns the PlantUML source recorded for an artifact.
func (s *Service) ReadSource(_ context.Context, name string) (string, error) {
	if s.db == nil {
		return "", apperr.ErrNotFound
	}
	row, err := s.db.GetArtifact(name)
	if err != nil {
		return "", err
	}
	return row.Source, nil
}

// Clear deletes every artifact under the output root along with its
// manifest row and returns the number of files removed.
func (s *Service) Clear(_ context.Context) (int, error) {
	arts, err := s.store.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, a := range arts {
		if err := s.store.Delete(a.File); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		if s.db != nil {
			if err := s.db.DeleteArtifact(a.File); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if s.db != nil {
		if _, err := manifest.Sync(s.db, s.store, s.logger); err != nil {
			errs = append(errs, err)
		}
	}
	s.memo.Purge()
	return removed, errors.Join(errs...)
}

// ContentType maps an artifact extension to its MIME type.
func ContentType(ext string) string {
	switch ext {
	case "svg":
		return "image/svg+xml"
	case "png", "braille.png":
		return "image/png"
	case "atxt", "utxt", "tex", "scxml", "xmi":
		return "text/plain; charset=utf-8"
	case "eps":
		return "application/postscript"
	case "html":
		return "text/html; charset=utf-8"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func validName(name string) bool {
	hash, ext := identity.SplitName(name)
	if len(hash) != 64 || ext == "" || strings.ContainsAny(name, `/\`) {
		return false
	}
	for _, c := range hash {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
