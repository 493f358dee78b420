package internal

import (
	"io"
	"log/slog"

	"github.com/starford/mdbook-plantuml/internal/render"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	logger   *slog.Logger
	runner   render.CommandRunner
	stdin    io.Reader
	stdout   io.Writer
	bookRoot string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithRunner substitutes the PlantUML command runner.
func WithRunner(r render.CommandRunner) Option {
	return func(a *application) {
		a.runner = r
	}
}

// WithIO sets the streams the preprocessor protocol is spoken over.
func WithIO(stdin io.Reader, stdout io.Writer) Option {
	return func(a *application) {
		a.stdin = stdin
		a.stdout = stdout
	}
}

// WithBookRoot sets the directory holding book.toml.
func WithBookRoot(dir string) Option {
	return func(a *application) {
		a.bookRoot = dir
	}
}
