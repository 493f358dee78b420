package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.PlantUML.Command != "plantuml" || cfg.PlantUML.Format != "svg" {
		t.Errorf("defaults = %+v", cfg.PlantUML)
	}
	if cfg.App.Log.Enabled {
		t.Error("logging should be off by default")
	}
}

func TestPlantUMLConfig_Format(t *testing.T) {
	for _, f := range []string{"svg", "png", "txt", "latex:nopreamble", "braille"} {
		cfg := NewDefaultConfig().PlantUML
		cfg.Format = f
		if err := cfg.Validate(); err != nil {
			t.Errorf("format %q should be valid: %v", f, err)
		}
	}
	cfg := NewDefaultConfig().PlantUML
	cfg.Format = "gif"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("gif: err = %v", err)
	}
}

func TestPlantUMLConfig_ImageDir(t *testing.T) {
	cases := map[string]bool{
		"img":            true,
		"assets/diagram": true,
		"../outside":     false,
		"..":             false,
		"/abs/dir":       false,
	}
	for dir, ok := range cases {
		cfg := NewDefaultConfig().PlantUML
		cfg.ImageDir = dir
		err := cfg.Validate()
		if ok && err != nil {
			t.Errorf("%q: unexpected error %v", dir, err)
		}
		if !ok && err == nil {
			t.Errorf("%q: expected error", dir)
		}
	}
}

func TestPlantUMLConfig_EmptyCommand(t *testing.T) {
	cfg := NewDefaultConfig().PlantUML
	cfg.Command = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty plantuml-cmd should fail")
	}
}

func TestPlantUMLConfig_Supports(t *testing.T) {
	cfg := PlantUMLConfig{UnsupportedRenderers: []string{"epub"}}
	if !cfg.Supports("html") {
		t.Error("html should be supported")
	}
	if cfg.Supports("EPUB") {
		t.Error("epub should not be supported")
	}
	if !(&PlantUMLConfig{}).Supports("anything") {
		t.Error("empty list supports every renderer")
	}
}

func TestLogConfig_Format(t *testing.T) {
	cfg := LogConfig{Format: "xml"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("xml log format should fail")
	}
}

func TestManifestConfig_Resolve(t *testing.T) {
	cfg := ManifestConfig{}
	if got := cfg.Resolve("/book"); got != "/book/.mdbook-plantuml/manifest.db" {
		t.Errorf("default = %q", got)
	}
	cfg.Path = "/var/m.db"
	if got := cfg.Resolve("/book"); got != "/var/m.db" {
		t.Errorf("absolute = %q", got)
	}
}
