// Package render turns diagram source text into content-addressed image
// files by driving an external PlantUML command.
//
// A Backend owns a private working directory in which it stages the source
// and collects the tool's output before publishing it under the shared
// output root. A Backend serves one caller at a time; use a Pool (or one
// Backend per goroutine) for concurrent rendering.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/starford/mdbook-plantuml/internal/identity"
	"github.com/starford/mdbook-plantuml/internal/storage"
)

// SourceExt is the extension of staged diagram sources.
const SourceExt = "puml"

// Config configures a Backend.
type Config struct {
	// Command is the external tool invocation, e.g. "plantuml" or
	// "java -jar plantuml.jar -charset UTF-8".
	Command string
	// Format is the default PlantUML -t token.
	Format string
	// OutputRoot is where final artifacts are cached.
	OutputRoot string
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithRunner substitutes the command runner.
func WithRunner(r CommandRunner) Option {
	return func(b *Backend) {
		b.runner = r
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// WithWorkDir uses dir as the working directory instead of a fresh temp dir.
// The directory is still removed by Close.
func WithWorkDir(dir string) Option {
	return func(b *Backend) {
		b.workDir = dir
	}
}

// Stats counts cache hits and misses over a backend's lifetime.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Backend renders diagrams with an external command.
type Backend struct {
	command string
	format  string
	store   storage.Store
	workDir string
	runner  CommandRunner
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New creates a Backend and its private working directory.
func New(cfg Config, opts ...Option) (*Backend, error) {
	store, err := storage.NewFS(cfg.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("render: output root: %w", err)
	}

	b := &Backend{
		command: cfg.Command,
		format:  strings.ToLower(cfg.Format),
		store:   store,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.format == "" {
		b.format = "svg"
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	if b.runner == nil {
		b.runner = NewShellRunner(b.logger)
	}
	if b.workDir == "" {
		dir, err := os.MkdirTemp("", "mdbook-plantuml-*")
		if err != nil {
			return nil, fmt.Errorf("render: create working dir: %w", err)
		}
		b.workDir = dir
	} else if err := os.MkdirAll(b.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("render: create working dir: %w", err)
	}
	return b, nil
}

// OutputRoot returns the absolute artifact directory.
func (b *Backend) OutputRoot() string { return b.store.Root() }

// Store returns the output root store artifacts are published to.
func (b *Backend) Store() storage.Store { return b.store }

// WorkDir returns the private working directory.
func (b *Backend) WorkDir() string { return b.workDir }

// Format returns the default output format.
func (b *Backend) Format() string { return b.format }

// Stats returns cache hit/miss counters.
func (b *Backend) Stats() Stats {
	return Stats{Hits: b.hits.Load(), Misses: b.misses.Load()}
}

// Render renders source with the configured format and returns the final
// artifact path.
func (b *Backend) Render(ctx context.Context, source string) (string, error) {
	return b.RenderFormat(ctx, source, b.format)
}

// RenderFormat renders source as format. An existing artifact is returned
// without invoking the command. The format is matched case-insensitively
// and must be one of identity.Formats, since it ends up on the command line.
func (b *Backend) RenderFormat(ctx context.Context, source, format string) (string, error) {
	if format == "" {
		format = b.format
	}
	format = strings.ToLower(format)
	if !identity.Supported(format) {
		return "", &Error{Kind: KindUnsupportedFormat, Format: format}
	}
	name := identity.Name(source, format)
	target := filepath.Join(b.store.Root(), name)

	if b.store.Exists(name) {
		b.hits.Add(1)
		b.logger.Info("skipping diagram, it already exists", slog.String("path", target))
		return target, nil
	}
	b.misses.Add(1)

	src, out := b.scratchPaths(name)
	if err := os.WriteFile(src, []byte(source), 0o644); err != nil {
		return "", &Error{Kind: KindScratchWrite, Path: src, Err: err}
	}

	// PlantUML writes <base>.<ext> next to the source.
	args := Args(b.command, src, format)
	line := strings.Join(args, " ")
	if err := b.runner.Execute(ctx, args); err != nil {
		return "", &Error{Kind: KindCommandFailed, Path: src, Command: line, Err: err}
	}

	if info, err := os.Stat(out); err != nil || !info.Mode().IsRegular() {
		return "", &Error{Kind: KindNoOutput, Path: out, Command: line, Err: err}
	}

	if err := b.store.Publish(name, out); err != nil {
		return "", &Error{Kind: KindCopyFailed, Path: out, Target: target, Err: err}
	}

	b.logger.Debug("diagram rendered",
		slog.String("path", target),
		slog.String("format", format))
	return target, nil
}

// scratchPaths returns the staged source and expected output paths for an
// artifact name.
func (b *Backend) scratchPaths(name string) (src, out string) {
	hash, _ := identity.SplitName(name)
	return filepath.Join(b.workDir, hash+"."+SourceExt), filepath.Join(b.workDir, name)
}

// Close removes the working directory and every scratch file in it.
// Artifacts under the output root are untouched.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if err := os.RemoveAll(b.workDir); err != nil {
			b.closeErr = fmt.Errorf("render: remove working dir: %w", err)
		}
	})
	return b.closeErr
}

// Args builds the PlantUML argument vector for rendering file as format.
func Args(command, file, format string) []string {
	return []string{command, "-t" + format, "-nometadata", file}
}
