package book

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

const input = `[
  {
    "root": "/books/demo",
    "config": {
      "book": {"authors": ["me"], "src": "content"},
      "preprocessor": {"plantuml": {"plantuml-cmd": "plantuml.jar", "format": "png"}}
    },
    "renderer": "html",
    "mdbook_version": "0.4.37"
  },
  {
    "sections": [
      {"Chapter": {
        "name": "Intro",
        "content": "# Intro",
        "number": [1],
        "sub_items": [
          {"Chapter": {
            "name": "Nested",
            "content": "nested",
            "number": [1, 1],
            "sub_items": [],
            "path": "intro/nested.md",
            "source_path": "intro/nested.md",
            "parent_names": ["Intro"]
          }}
        ],
        "path": "intro.md",
        "source_path": "intro.md",
        "parent_names": [],
        "custom_key": {"keep": true}
      }},
      "Separator",
      {"PartTitle": "Reference"},
      {"Chapter": {
        "name": "Draft",
        "content": "",
        "number": null,
        "sub_items": [],
        "path": null,
        "source_path": null,
        "parent_names": []
      }}
    ],
    "__non_exhaustive": null
  }
]`

func TestParseInput(t *testing.T) {
	ctx, b, err := ParseInput(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseInput: %v", err)
	}
	if ctx.Renderer != "html" || ctx.Root != "/books/demo" {
		t.Errorf("context = %+v", ctx)
	}
	if len(b.Sections) != 4 {
		t.Fatalf("sections = %d, want 4", len(b.Sections))
	}
	if !b.Sections[1].Separator {
		t.Error("second item should be a separator")
	}
	if b.Sections[2].PartTitle != "Reference" {
		t.Errorf("part title = %q", b.Sections[2].PartTitle)
	}
	chs := b.Chapters()
	if len(chs) != 3 {
		t.Fatalf("chapters = %d, want 3", len(chs))
	}
	if chs[1].Name != "Nested" || chs[1].ChapterPath() != "intro/nested.md" {
		t.Errorf("depth-first order broken: %+v", chs[1])
	}
	if chs[2].ChapterPath() != "" {
		t.Error("draft chapter should have no path")
	}
}

func TestParseInput_Invalid(t *testing.T) {
	for _, in := range []string{`{}`, `[{}]`, `not json`, `[{}, {"sections": ["Bogus"]}]`} {
		if _, _, err := ParseInput(strings.NewReader(in)); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestRoundTrip_PreservesUnknownKeys(t *testing.T) {
	_, b, err := ParseInput(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	b.Chapters()[0].Content = "rewritten"

	var buf bytes.Buffer
	if err := WriteBook(&buf, b); err != nil {
		t.Fatalf("WriteBook: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not an object: %v", err)
	}
	if _, ok := out["__non_exhaustive"]; !ok {
		t.Error("book-level unknown key dropped")
	}
	s := buf.String()
	if !strings.Contains(s, `"custom_key":{"keep":true}`) {
		t.Errorf("chapter unknown key dropped: %s", s)
	}
	if !strings.Contains(s, `"content":"rewritten"`) {
		t.Error("content change not written")
	}
	if strings.Contains(s, `"parent_names":null`) || strings.Contains(s, `"sub_items":null`) {
		t.Error("lists must encode as [] not null")
	}
	if !strings.Contains(s, `"Separator"`) || !strings.Contains(s, `{"PartTitle":"Reference"}`) {
		t.Errorf("non-chapter items lost: %s", s)
	}
}

func TestChapter_MarshalJSON(t *testing.T) {
	p := "a.md"
	c := Chapter{
		Name:    "A",
		Content: "A -> B",
		Path:    &p,
		extra: map[string]json.RawMessage{
			"custom":  json.RawMessage(`[1,2]`),
			"content": json.RawMessage(`"stale"`),
		},
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("not an object: %v (%s)", err, data)
	}
	want := map[string]string{
		"name":         `"A"`,
		"path":         `"a.md"`,
		"source_path":  `null`,
		"number":       `null`,
		"sub_items":    `[]`,
		"parent_names": `[]`,
		"custom":       `[1,2]`,
	}
	for k, v := range want {
		if string(got[k]) != v {
			t.Errorf("%s = %s, want %s", k, got[k], v)
		}
	}
	var content string
	if err := json.Unmarshal(got["content"], &content); err != nil || content != "A -> B" {
		t.Errorf("content = %s, known fields must win over extra keys", got["content"])
	}
}

func TestItemsKey(t *testing.T) {
	in := `[{"root": "/b", "config": {}, "renderer": "html", "mdbook_version": "0.5.0"},
	        {"items": [{"Chapter": {"name": "A", "content": "", "sub_items": [], "parent_names": []}}]}]`
	_, b, err := ParseInput(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Chapters()) != 1 {
		t.Fatalf("chapters = %d", len(b.Chapters()))
	}
	var buf bytes.Buffer
	_ = WriteBook(&buf, b)
	if !strings.Contains(buf.String(), `"items":[`) {
		t.Errorf("items key not preserved: %s", buf.String())
	}
}

func TestContext_PreprocessorConfig(t *testing.T) {
	ctx, _, err := ParseInput(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	raw := ctx.PreprocessorConfig("plantuml")
	var cfg map[string]string
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("config not decodable: %v", err)
	}
	if cfg["plantuml-cmd"] != "plantuml.jar" {
		t.Errorf("plantuml-cmd = %q", cfg["plantuml-cmd"])
	}
	if ctx.PreprocessorConfig("katex") != nil {
		t.Error("unconfigured preprocessor should be nil")
	}
}

func TestContext_SourceDir(t *testing.T) {
	ctx := &Context{Root: "/b"}
	if got := ctx.SourceDir(); got != filepath.Join("/b", "src") {
		t.Errorf("default = %q", got)
	}
	ctx.Config = map[string]json.RawMessage{"book": json.RawMessage(`{"src":"content"}`)}
	if got := ctx.SourceDir(); got != filepath.Join("/b", "content") {
		t.Errorf("configured = %q", got)
	}
}

func TestContext_CheckVersion(t *testing.T) {
	if err := (&Context{MdbookVersion: "0.4.1"}).CheckVersion(); err != nil {
		t.Errorf("same minor: %v", err)
	}
	if err := (&Context{MdbookVersion: "0.5.0"}).CheckVersion(); err == nil {
		t.Error("different minor should report")
	}
	if err := (&Context{}).CheckVersion(); err != nil {
		t.Errorf("missing version: %v", err)
	}
}
