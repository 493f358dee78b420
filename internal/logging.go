package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	pkgconfig "github.com/starford/mdbook-plantuml/pkg/config"
)

// LoggingError reports a broken logging setup. The CLI exits with code 2
// for it.
type LoggingError struct {
	Err error
}

func (e *LoggingError) Error() string { return "logging: " + e.Err.Error() }

func (e *LoggingError) Unwrap() error { return e.Err }

// resolveLogConfig applies the plantuml logging keys on top of cfg.App.Log.
// Relative paths are taken from base. interactive turns on stderr logging
// for commands that do not own stdout's protocol.
func resolveLogConfig(cfg *Config, base string, interactive bool) (LogConfig, error) {
	lc := cfg.App.Log
	if cfg.PlantUML.LoggingEnabled {
		lc.Enabled = true
	}
	if path := cfg.PlantUML.LoggingConfig; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		if err := pkgconfig.Load(path, &lc); err != nil {
			return lc, &LoggingError{Err: err}
		}
		lc.Enabled = true
	}
	if !lc.Enabled && interactive {
		lc.Enabled = true
		lc.File = "-"
	}
	if lc.File != "" && lc.File != "-" && !filepath.IsAbs(lc.File) {
		lc.File = filepath.Join(base, lc.File)
	}
	return lc, nil
}

// newLogger builds the structured logger described by lc. The returned
// closer releases the log file, if any. Logs never go to stdout.
func newLogger(lc LogConfig) (*slog.Logger, io.Closer, error) {
	if !lc.Enabled {
		return slog.New(slog.DiscardHandler), io.NopCloser(nil), nil
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	file := lc.File
	if file == "" {
		file = DefaultLogFile
	}
	if file != "-" {
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, &LoggingError{Err: err}
			}
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, &LoggingError{Err: fmt.Errorf("open %s: %w", file, err)}
		}
		w, closer = f, f
	}

	hopts := &slog.HandlerOptions{Level: lc.Level}
	var h slog.Handler
	if lc.Format == LogFormatText {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(h), closer, nil
}
