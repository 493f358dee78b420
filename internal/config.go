package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mdbook-plantuml/internal/identity"
	"github.com/starford/mdbook-plantuml/internal/preprocessor"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log output formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// DefaultLogFile is where logs go when logging is enabled without a file.
const DefaultLogFile = "output.log"

// DefaultManifestPath is relative to the book root.
const DefaultManifestPath = ".mdbook-plantuml/manifest.db"

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	PlantUML PlantUMLConfig    `yaml:"plantuml"`
	Manifest ManifestConfig    `yaml:"manifest"`
	HTTP     HTTPConfig        `yaml:"http"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.PlantUML.Validate(); err != nil {
		return err
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	Log LogConfig `yaml:"log"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.Log.Validate()
}

// LogConfig controls the structured logger. Standard output is reserved for
// the mdBook protocol, so File "-" selects stderr.
type LogConfig struct {
	Enabled bool       `yaml:"enabled"`
	Level   slog.Level `yaml:"level"`
	Format  string     `yaml:"format"`
	File    string     `yaml:"file"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.In(LogFormatJSON, LogFormatText)),
	)
}

// PlantUMLConfig mirrors the [preprocessor.plantuml] table of book.toml.
// The same keys are accepted from YAML, from mdBook's JSON context and
// from TOML.
type PlantUMLConfig struct {
	Command              string   `yaml:"plantuml-cmd" json:"plantuml-cmd" toml:"plantuml-cmd"`
	Format               string   `yaml:"format" json:"format" toml:"format"`
	ClickableImg         bool     `yaml:"clickable-img" json:"clickable-img" toml:"clickable-img"`
	ImageDir             string   `yaml:"image-dir" json:"image-dir" toml:"image-dir"`
	Workers              int      `yaml:"workers" json:"workers" toml:"workers"`
	FailOnError          bool     `yaml:"fail-on-error" json:"fail-on-error" toml:"fail-on-error"`
	UnsupportedRenderers []string `yaml:"unsupported-renderers" json:"unsupported-renderers" toml:"unsupported-renderers"`
	LoggingEnabled       bool     `yaml:"logging-enabled" json:"logging-enabled" toml:"logging-enabled"`
	LoggingConfig        string   `yaml:"logging-config" json:"logging-config" toml:"logging-config"`
}

// Validate validates the PlantUML configuration.
func (c *PlantUMLConfig) Validate() error {
	formats := make([]interface{}, len(identity.Formats))
	for i, f := range identity.Formats {
		formats[i] = f
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Command, validation.Required),
		validation.Field(&c.Format, validation.Required, validation.In(formats...).Error("unsupported output format")),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
		validation.Field(&c.ImageDir, validation.By(relativeDir)),
	)
}

// Supports reports whether the preprocessor should run for renderer.
func (c *PlantUMLConfig) Supports(renderer string) bool {
	for _, r := range c.UnsupportedRenderers {
		if strings.EqualFold(r, renderer) {
			return false
		}
	}
	return true
}

// PreprocessorOptions converts the configuration for the preprocessor.
func (c *PlantUMLConfig) PreprocessorOptions() preprocessor.Options {
	return preprocessor.Options{
		ImageDir:     c.ImageDir,
		Format:       c.Format,
		ClickableImg: c.ClickableImg,
		FailOnError:  c.FailOnError,
		Workers:      c.Workers,
	}
}

func relativeDir(value interface{}) error {
	dir, _ := value.(string)
	if dir == "" {
		return nil
	}
	clean := filepath.ToSlash(filepath.Clean(dir))
	if filepath.IsAbs(dir) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("must be a directory inside the book source")
	}
	return nil
}

// ManifestConfig holds the SQLite artifact manifest configuration.
type ManifestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Resolve returns the manifest path, joined with bookRoot when relative.
func (c *ManifestConfig) Resolve(bookRoot string) string {
	p := c.Path
	if p == "" {
		p = DefaultManifestPath
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(bookRoot, p)
}

// HTTPConfig holds preview server configuration.
type HTTPConfig struct {
	Port     int `yaml:"port"`
	MemoSize int `yaml:"memo-size"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.MemoSize, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local preview.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			Log: LogConfig{
				Level:  slog.LevelInfo,
				Format: LogFormatJSON,
				File:   DefaultLogFile,
			},
		},
		PlantUML: PlantUMLConfig{
			Command:  "plantuml",
			Format:   "svg",
			ImageDir: preprocessor.DefaultImageDir,
		},
		Manifest: ManifestConfig{
			Enabled: true,
			Path:    DefaultManifestPath,
		},
		HTTP: HTTPConfig{
			Port:     3100,
			MemoSize: 512,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
