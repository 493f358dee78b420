// Package internal provides the application initialization and runtime logic
// behind each CLI command.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mdbook-plantuml/internal/api"
	"github.com/starford/mdbook-plantuml/internal/book"
	"github.com/starford/mdbook-plantuml/internal/diagramservice"
	"github.com/starford/mdbook-plantuml/internal/manifest"
	"github.com/starford/mdbook-plantuml/internal/mcpserver"
	"github.com/starford/mdbook-plantuml/internal/parser"
	"github.com/starford/mdbook-plantuml/internal/preprocessor"
	"github.com/starford/mdbook-plantuml/internal/render"
	"github.com/starford/mdbook-plantuml/internal/sse"
	"github.com/starford/mdbook-plantuml/internal/storage"
	"github.com/starford/mdbook-plantuml/internal/watch"
	pkgconfig "github.com/starford/mdbook-plantuml/pkg/config"
)

// Version is reported to MCP clients. It is overridden at link time.
var Version = "dev"

// PreprocessorName is the key of this preprocessor in book.toml.
const PreprocessorName = "plantuml"

func newApplication(opts []Option) *application {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		app.config = NewDefaultConfig()
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.bookRoot == "" {
		app.bookRoot = "."
	}
	return app
}

// openLogger returns the injected logger or builds one from cfg.
func (a *application) openLogger(cfg *Config, base string, interactive bool) (*slog.Logger, io.Closer, error) {
	if a.logger != nil {
		return a.logger, io.NopCloser(nil), nil
	}
	lc, err := resolveLogConfig(cfg, base, interactive)
	if err != nil {
		return nil, nil, err
	}
	return newLogger(lc)
}

func (a *application) newPool(cfg *Config, outputRoot string, logger *slog.Logger) (*render.Pool, error) {
	size := cfg.PlantUML.Workers
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return render.NewPool(size, func() (*render.Backend, error) {
		opts := []render.Option{render.WithLogger(logger)}
		if a.runner != nil {
			opts = append(opts, render.WithRunner(a.runner))
		}
		return render.New(render.Config{
			Command:    cfg.PlantUML.Command,
			Format:     cfg.PlantUML.Format,
			OutputRoot: outputRoot,
		}, opts...)
	})
}

// openManifest opens the manifest when enabled. A manifest that cannot be
// opened is logged and skipped; rendering does not depend on it.
func openManifest(cfg *Config, bookRoot string, logger *slog.Logger) *manifest.DB {
	if !cfg.Manifest.Enabled {
		return nil
	}
	path := cfg.Manifest.Resolve(bookRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("manifest: create dir failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	db, err := manifest.Open(path)
	if err != nil {
		logger.Warn("manifest: open failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return db
}

// Preprocess runs one mdBook preprocessor pass: it reads [context, book]
// from stdin, renders every diagram and writes the book to stdout.
func Preprocess(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)

	bctx, b, err := book.ParseInput(app.stdin)
	if err != nil {
		return err
	}

	cfg := *app.config
	if raw := bctx.PreprocessorConfig(PreprocessorName); raw != nil {
		if err := json.Unmarshal(raw, &cfg.PlantUML); err != nil {
			return fmt.Errorf("preprocessor.%s: %w", PreprocessorName, err)
		}
	}
	if err := cfg.PlantUML.Validate(); err != nil {
		return fmt.Errorf("preprocessor.%s: %w", PreprocessorName, err)
	}

	logger, logCloser, err := app.openLogger(&cfg, bctx.Root, false)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := bctx.CheckVersion(); err != nil {
		logger.Warn("mdbook version mismatch", slog.String("error", err.Error()))
	}

	if !cfg.PlantUML.Supports(bctx.Renderer) {
		logger.Info("renderer not supported, passing book through", slog.String("renderer", bctx.Renderer))
		return book.WriteBook(app.stdout, b)
	}

	outputRoot := filepath.Join(bctx.SourceDir(), cfg.PlantUML.ImageDir)
	pool, err := app.newPool(&cfg, outputRoot, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	sopts := []preprocessor.ServiceOption{preprocessor.WithLogger(logger)}
	if db := openManifest(&cfg, bctx.Root, logger); db != nil {
		defer db.Close()
		sopts = append(sopts, preprocessor.WithManifest(db))
	}
	pre := preprocessor.NewService(pool, cfg.PlantUML.PreprocessorOptions(), sopts...)

	start := time.Now()
	if err := pre.Run(ctx, b); err != nil {
		logger.Error("preprocessing failed", slog.String("error", err.Error()))
		return err
	}
	stats := pool.Stats()
	logger.Info("book preprocessed",
		slog.String("output_root", outputRoot),
		slog.Int64("rendered", stats.Misses),
		slog.Int64("cached", stats.Hits),
		slog.Duration("elapsed", time.Since(start)))

	return book.WriteBook(app.stdout, b)
}

// LoadBookConfig overlays the [preprocessor.plantuml] table of
// <bookRoot>/book.toml onto cfg and returns the chapter source directory.
func LoadBookConfig(bookRoot string, cfg *Config) (string, error) {
	tomlPath := filepath.Join(bookRoot, "book.toml")
	if _, err := pkgconfig.DecodeTOMLSection(tomlPath, "preprocessor."+PreprocessorName, &cfg.PlantUML); err != nil {
		return "", err
	}
	var bk struct {
		Src string `toml:"src"`
	}
	if _, err := pkgconfig.DecodeTOMLSection(tomlPath, "book", &bk); err != nil {
		return "", err
	}
	if err := cfg.PlantUML.Validate(); err != nil {
		return "", fmt.Errorf("preprocessor.%s: %w", PreprocessorName, err)
	}
	src := bk.Src
	if src == "" {
		src = "src"
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(bookRoot, src)
	}
	return filepath.Abs(src)
}

// Supports reports whether the preprocessor handles renderer for the book
// at the configured root.
func Supports(renderer string, opts ...Option) (bool, error) {
	app := newApplication(opts)
	cfg := *app.config
	if _, err := LoadBookConfig(app.bookRoot, &cfg); err != nil {
		return false, err
	}
	return cfg.PlantUML.Supports(renderer), nil
}

// RenderFiles renders standalone diagram files into outDir and returns the
// artifact paths. .puml/.plantuml/.pu files render whole; Markdown files
// render each diagram block. An empty format uses the configured one.
func RenderFiles(ctx context.Context, files []string, outDir, format string, opts ...Option) ([]string, error) {
	app := newApplication(opts)
	cfg := *app.config
	if format != "" {
		cfg.PlantUML.Format = strings.ToLower(format)
	}
	if err := cfg.PlantUML.Validate(); err != nil {
		return nil, err
	}

	logger, logCloser, err := app.openLogger(&cfg, ".", true)
	if err != nil {
		return nil, err
	}
	defer logCloser.Close()

	cfg.PlantUML.Workers = 1
	pool, err := app.newPool(&cfg, outDir, logger)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	var out []string
	err = pool.Do(ctx, func(be *render.Backend) error {
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			if strings.EqualFold(filepath.Ext(f), ".md") {
				for _, d := range parser.FindDiagrams(string(data)) {
					fmtName := d.Format
					if fmtName == "" {
						fmtName = parser.DefaultFormat(d.Source, cfg.PlantUML.Format)
					}
					target, err := be.RenderFormat(ctx, d.Source, fmtName)
					if err != nil {
						return fmt.Errorf("%s: %w", f, err)
					}
					out = append(out, target)
				}
				continue
			}
			source := string(data)
			target, err := be.RenderFormat(ctx, source, parser.DefaultFormat(source, cfg.PlantUML.Format))
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			out = append(out, target)
		}
		return nil
	})
	return out, err
}

// workspace is a book opened for the long-running and cache commands.
type workspace struct {
	cfg    Config
	logger *slog.Logger
	srcDir string
	store  *storage.FS
	pool   *render.Pool
	db     *manifest.DB
	pre    *preprocessor.Service
	svc    *diagramservice.Service

	closers []io.Closer
}

func (a *application) openWorkspace(interactive bool, notify preprocessor.Notifier) (*workspace, error) {
	ws := &workspace{cfg: *a.config}
	srcDir, err := LoadBookConfig(a.bookRoot, &ws.cfg)
	if err != nil {
		return nil, err
	}
	ws.srcDir = srcDir

	logger, logCloser, err := a.openLogger(&ws.cfg, a.bookRoot, interactive)
	if err != nil {
		return nil, err
	}
	ws.logger = logger
	ws.closers = append(ws.closers, logCloser)

	ws.store, err = storage.NewFS(filepath.Join(srcDir, ws.cfg.PlantUML.ImageDir))
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	ws.pool, err = a.newPool(&ws.cfg, ws.store.Root(), logger)
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.closers = append(ws.closers, ws.pool)

	var idx manifest.Index
	sopts := []preprocessor.ServiceOption{preprocessor.WithLogger(logger)}
	if notify != nil {
		sopts = append(sopts, preprocessor.WithNotifier(notify))
	}
	if ws.db = openManifest(&ws.cfg, a.bookRoot, logger); ws.db != nil {
		ws.closers = append(ws.closers, ws.db)
		idx = ws.db
		sopts = append(sopts, preprocessor.WithManifest(ws.db))
		if removed, err := manifest.Sync(ws.db, ws.store, logger); err != nil {
			logger.Warn("manifest: sync failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			logger.Info("manifest: pruned stale rows", slog.Int("removed", removed))
		}
	}
	ws.pre = preprocessor.NewService(ws.pool, ws.cfg.PlantUML.PreprocessorOptions(), sopts...)

	ws.svc, err = diagramservice.NewService(diagramservice.Deps{
		Pool:         ws.pool,
		Preprocessor: ws.pre,
		Store:        ws.store,
		Manifest:     idx,
		SourceDir:    srcDir,
		Format:       ws.cfg.PlantUML.Format,
		MemoSize:     ws.cfg.HTTP.MemoSize,
		Logger:       logger,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// Close releases resources in reverse order of acquisition.
func (ws *workspace) Close() {
	for i := len(ws.closers) - 1; i >= 0; i-- {
		_ = ws.closers[i].Close()
	}
	ws.closers = nil
}

// renderAll renders the diagrams of every chapter file under the source
// dir. Failures are logged, never returned.
func (ws *workspace) renderAll(ctx context.Context) {
	imageDir := ws.store.Root()
	var chapters []string
	_ = filepath.WalkDir(ws.srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p == imageDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(p, ".md") {
			if rel, relErr := filepath.Rel(ws.srcDir, p); relErr == nil {
				chapters = append(chapters, rel)
			}
		}
		return nil
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ws.pool.Size())
	for _, rel := range chapters {
		g.Go(func() error {
			ws.renderChapter(gCtx, rel)
			return nil
		})
	}
	_ = g.Wait()
	stats := ws.pool.Stats()
	ws.logger.Info("initial render complete",
		slog.Int("chapters", len(chapters)),
		slog.Int64("rendered", stats.Misses),
		slog.Int64("cached", stats.Hits))
}

func (ws *workspace) renderChapter(ctx context.Context, rel string) {
	n, err := ws.svc.RenderChapter(ctx, rel)
	if err != nil {
		ws.logger.Warn("chapter render failed", slog.String("chapter", rel), slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		ws.logger.Debug("chapter rendered", slog.String("chapter", rel), slog.Int("diagrams", n))
	}
}

// Serve runs the live preview server for the book at the configured root:
// it renders every chapter, re-renders chapters as they change and serves
// artifacts and render events over HTTP.
func Serve(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	ws, err := app.openWorkspace(true, broker.PublishRenderEvent)
	if err != nil {
		return err
	}
	defer ws.Close()
	cfg := &ws.cfg
	if err := cfg.HTTP.Validate(); err != nil {
		return err
	}
	if err := cfg.Auth.Validate(); err != nil {
		return err
	}
	logger := ws.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.HTTP.Address()),
		slog.String("source_dir", ws.srcDir),
		slog.String("output_root", ws.store.Root()),
		slog.String("plantuml_cmd", cfg.PlantUML.Command),
		slog.String("format", cfg.PlantUML.Format),
		slog.Bool("manifest", ws.db != nil))

	ws.renderAll(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", api.NewRouter(ws.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watch.Watch(gCtx, ws.srcDir, watch.DefaultDebounce, logger, func(kind, rel string) {
			if kind == watch.Deleted {
				logger.Info("chapter removed", slog.String("chapter", rel))
				return
			}
			ws.renderChapter(gCtx, rel)
		})
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Stops the watcher once the server is down.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP exposes the book's diagram tools over MCP on stdin/stdout.
func ServeMCP(_ context.Context, opts ...Option) error {
	app := newApplication(opts)
	ws, err := app.openWorkspace(true, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ws.logger.Info("MCP server starting", slog.String("source_dir", ws.srcDir))
	return mcpserver.New(ws.svc, Version).ServeStdio()
}

// CachePath returns the output root of the book at the configured root.
func CachePath(opts ...Option) (string, error) {
	app := newApplication(opts)
	cfg := *app.config
	srcDir, err := LoadBookConfig(app.bookRoot, &cfg)
	if err != nil {
		return "", err
	}
	return filepath.Abs(filepath.Join(srcDir, cfg.PlantUML.ImageDir))
}

// CacheList returns every artifact of the book, newest first.
func CacheList(ctx context.Context, opts ...Option) ([]manifest.Row, error) {
	app := newApplication(opts)
	ws, err := app.openWorkspace(false, nil)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	const page = 200
	var all []manifest.Row
	for offset := 0; ; offset += page {
		rows, total, err := ws.svc.ListArtifacts(ctx, page, offset, "")
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) == 0 || offset+len(rows) >= total {
			break
		}
	}
	return all, nil
}

// CacheClear deletes every artifact of the book and returns how many files
// were removed.
func CacheClear(ctx context.Context, opts ...Option) (int, error) {
	app := newApplication(opts)
	ws, err := app.openWorkspace(false, nil)
	if err != nil {
		return 0, err
	}
	defer ws.Close()

	n, err := ws.svc.Clear(ctx)
	ws.logger.Info("cache cleared", slog.Int("removed", n))
	return n, err
}
