// Package preprocessor rewrites mdBook chapters, replacing PlantUML code
// blocks with links to rendered images.
package preprocessor

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/mdbook-plantuml/internal/book"
	"github.com/starford/mdbook-plantuml/internal/identity"
	"github.com/starford/mdbook-plantuml/internal/manifest"
	"github.com/starford/mdbook-plantuml/internal/models"
	"github.com/starford/mdbook-plantuml/internal/parser"
	"github.com/starford/mdbook-plantuml/internal/render"
)

// DefaultImageDir is the directory under the book source that receives
// rendered images.
const DefaultImageDir = "mdbook-plantuml-img"

// Options controls how diagrams are rendered and linked.
type Options struct {
	ImageDir     string
	Format       string
	ClickableImg bool
	FailOnError  bool
	Workers      int
}

// Notifier receives render outcomes. kind is one of the models.Event*
// constants.
type Notifier func(kind, file, chapter string)

// Service processes chapters using a pool of render backends.
type Service struct {
	pool     *render.Pool
	opts     Options
	manifest manifest.Index
	logger   *slog.Logger
	notify   Notifier
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithManifest records every successful render in idx.
func WithManifest(idx manifest.Index) ServiceOption {
	return func(s *Service) { s.manifest = idx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithNotifier sets the callback invoked after each diagram and chapter.
func WithNotifier(fn Notifier) ServiceOption {
	return func(s *Service) { s.notify = fn }
}

// NewService creates a Service backed by pool.
func NewService(pool *render.Pool, opts Options, sopts ...ServiceOption) *Service {
	if opts.ImageDir == "" {
		opts.ImageDir = DefaultImageDir
	}
	if opts.Workers <= 0 {
		opts.Workers = pool.Size()
	}
	s := &Service{pool: pool, opts: opts}
	for _, o := range sopts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.notify == nil {
		s.notify = func(string, string, string) {}
	}
	return s
}

// Run rewrites every chapter of b in place. Chapters are processed
// concurrently, each holding one backend from the pool while it renders.
func (s *Service) Run(ctx context.Context, b *book.Book) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, ch := range b.Chapters() {
		if len(parser.FindDiagrams(ch.Content)) == 0 {
			continue
		}
		g.Go(func() error {
			return s.pool.Do(gctx, func(be *render.Backend) error {
				out, err := s.ProcessMarkdown(gctx, be, ch.ChapterPath(), ch.Content)
				if err != nil {
					return fmt.Errorf("chapter %q: %w", ch.Name, err)
				}
				ch.Content = out
				return nil
			})
		})
	}
	return g.Wait()
}

// ProcessMarkdown renders every diagram in content and returns the
// rewritten Markdown. chapterPath is relative to the book source dir and
// determines how image links climb back to the image dir.
func (s *Service) ProcessMarkdown(ctx context.Context, be *render.Backend, chapterPath, content string) (string, error) {
	diagrams := parser.FindDiagrams(content)
	if len(diagrams) == 0 {
		return content, nil
	}
	prefix := relativePrefix(chapterPath)

	out, err := parser.Replace(content, diagrams, func(d parser.Diagram) (string, error) {
		format := strings.ToLower(d.Format)
		if format == "" {
			format = parser.DefaultFormat(d.Source, s.opts.Format)
		}

		target, err := be.RenderFormat(ctx, d.Source, format)
		if err != nil {
			s.notify(models.EventFailed, "", chapterPath)
			if s.opts.FailOnError {
				return "", err
			}
			s.logger.Warn("diagram render failed",
				slog.String("chapter", chapterPath),
				slog.String("error", err.Error()))
			return errorNotice(err), nil
		}

		file := filepath.Base(target)
		s.record(be, file, format, chapterPath, d.Source)
		s.notify(models.EventRendered, file, chapterPath)

		if identity.IsText(format) {
			data, err := be.Store().Read(file)
			if err != nil {
				return "", fmt.Errorf("read text diagram %s: %w", file, err)
			}
			return textBlock(string(data)), nil
		}
		return imageLink(prefix+path.Join(s.opts.ImageDir, file), s.opts.ClickableImg), nil
	})
	if err != nil {
		return "", err
	}
	s.notify(models.EventChapterRendered, "", chapterPath)
	return out, nil
}

func (s *Service) record(be *render.Backend, file, format, chapter, source string) {
	if s.manifest == nil {
		return
	}
	hash, _ := identity.SplitName(file)
	var size int64
	if data, err := be.Store().Read(file); err == nil {
		size = int64(len(data))
	}
	row := manifest.Row{
		Path:       file,
		Hash:       hash,
		Format:     format,
		Chapter:    chapter,
		Source:     source,
		Size:       size,
		RenderedAt: time.Now().UTC(),
	}
	if err := s.manifest.UpsertArtifact(row); err != nil {
		s.logger.Warn("manifest: record failed", slog.String("path", file), slog.String("error", err.Error()))
	}
}

// relativePrefix returns "../" once per directory level of chapterPath.
func relativePrefix(chapterPath string) string {
	dir := path.Dir(filepath.ToSlash(chapterPath))
	if dir == "." || dir == "/" || dir == "" {
		return ""
	}
	return strings.Repeat("../", strings.Count(dir, "/")+1)
}

func imageLink(url string, clickable bool) string {
	img := "![](" + url + ")"
	if clickable {
		return "[" + img + "](" + url + ")"
	}
	return img
}

func textBlock(text string) string {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return "```txt\n" + text + "```"
}

func errorNotice(err error) string {
	return textBlock("PlantUML rendering error:\n" + err.Error())
}
