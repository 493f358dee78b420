package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name    string `yaml:"name" toml:"name"`
	Workers int    `yaml:"workers" toml:"workers"`
	Flag    bool   `yaml:"flag" toml:"flag-on"`
}

func (s *sample) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := writeFile(t, "c.yaml", "name: ${SAMPLE_NAME}\nworkers: 3\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "from-env" || s.Workers != 3 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_Validates(t *testing.T) {
	p := writeFile(t, "c.yaml", "workers: 3\n")
	var s sample
	if err := Load(p, &s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	s := sample{Name: "default"}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "default" {
		t.Errorf("target changed: %+v", s)
	}
	if err := LoadOptional("", &sample{}); err == nil {
		t.Error("defaults are still validated")
	}
}

func TestDecodeTOMLSection(t *testing.T) {
	p := writeFile(t, "book.toml", `
[book]
title = "Example"

[preprocessor.plantuml]
name = "plantuml"
flag-on = true
`)
	s := sample{Workers: 4}
	found, err := DecodeTOMLSection(p, "preprocessor.plantuml", &s)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("section not found")
	}
	if s.Name != "plantuml" || !s.Flag || s.Workers != 4 {
		t.Errorf("got %+v", s)
	}
}

func TestDecodeTOMLSection_Missing(t *testing.T) {
	p := writeFile(t, "book.toml", "[book]\ntitle = \"x\"\n")
	var s sample
	found, err := DecodeTOMLSection(p, "preprocessor.plantuml", &s)
	if err != nil || found {
		t.Errorf("found=%v err=%v", found, err)
	}

	found, err = DecodeTOMLSection(filepath.Join(t.TempDir(), "book.toml"), "book", &s)
	if err != nil || found {
		t.Errorf("missing file: found=%v err=%v", found, err)
	}
}

func TestDecodeTOMLSection_NotATable(t *testing.T) {
	p := writeFile(t, "book.toml", "[book]\nsrc = \"docs\"\n")
	var s sample
	if _, err := DecodeTOMLSection(p, "book.src", &s); err == nil {
		t.Fatal("expected error for scalar section")
	}
}
