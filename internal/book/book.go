// Package book implements the mdBook preprocessor wire protocol: a JSON
// array of [context, book] on stdin and the rewritten book on stdout.
package book

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MdbookVersion is the mdBook release the protocol types follow.
const MdbookVersion = "0.4.40"

// Context is the first element of the preprocessor input.
type Context struct {
	Root          string                     `json:"root"`
	Config        map[string]json.RawMessage `json:"config"`
	Renderer      string                     `json:"renderer"`
	MdbookVersion string                     `json:"mdbook_version"`
}

// PreprocessorConfig returns the raw JSON table for preprocessor.<name>,
// or nil when the book does not configure it.
func (c *Context) PreprocessorConfig(name string) json.RawMessage {
	raw, ok := c.Config["preprocessor"]
	if !ok {
		return nil
	}
	var tables map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tables); err != nil {
		return nil
	}
	return tables[name]
}

// SourceDir returns the absolute chapter source directory (book.src,
// "src" by default).
func (c *Context) SourceDir() string {
	src := "src"
	if raw, ok := c.Config["book"]; ok {
		var b struct {
			Src string `json:"src"`
		}
		if err := json.Unmarshal(raw, &b); err == nil && b.Src != "" {
			src = b.Src
		}
	}
	if filepath.IsAbs(src) {
		return src
	}
	return filepath.Join(c.Root, src)
}

// CheckVersion reports an error when mdBook's major.minor differs from
// MdbookVersion. Callers treat it as a warning.
func (c *Context) CheckVersion() error {
	if c.MdbookVersion == "" || majorMinor(c.MdbookVersion) == majorMinor(MdbookVersion) {
		return nil
	}
	return fmt.Errorf("built against mdbook %s, but called from mdbook %s", MdbookVersion, c.MdbookVersion)
}

func majorMinor(v string) string {
	parts := strings.SplitN(strings.TrimPrefix(v, "v"), ".", 3)
	if len(parts) < 2 {
		return v
	}
	return parts[0] + "." + parts[1]
}

// ParseInput decodes the [context, book] pair mdBook writes to stdin.
func ParseInput(r io.Reader) (*Context, *Book, error) {
	var pair []json.RawMessage
	if err := json.NewDecoder(r).Decode(&pair); err != nil {
		return nil, nil, fmt.Errorf("book: decode input: %w", err)
	}
	if len(pair) != 2 {
		return nil, nil, fmt.Errorf("book: expected [context, book], got %d elements", len(pair))
	}
	var ctx Context
	if err := json.Unmarshal(pair[0], &ctx); err != nil {
		return nil, nil, fmt.Errorf("book: decode context: %w", err)
	}
	var b Book
	if err := json.Unmarshal(pair[1], &b); err != nil {
		return nil, nil, fmt.Errorf("book: decode book: %w", err)
	}
	return &ctx, &b, nil
}

// WriteBook encodes b in the form mdBook expects back on stdout.
func WriteBook(w io.Writer, b *Book) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("book: encode: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Book is the second element of the preprocessor input. mdBook 0.4 names
// the item list "sections", 0.5 names it "items"; the original key is
// kept on output.
type Book struct {
	Sections []BookItem

	itemsKey string
	extra    map[string]json.RawMessage
}

// Chapters returns every chapter depth-first, sub-chapters after their
// parent.
func (b *Book) Chapters() []*Chapter {
	var out []*Chapter
	var walk func(items []BookItem)
	walk = func(items []BookItem) {
		for i := range items {
			if ch := items[i].Chapter; ch != nil {
				out = append(out, ch)
				walk(ch.SubItems)
			}
		}
	}
	walk(b.Sections)
	return out
}

func (b *Book) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	b.itemsKey = "sections"
	if _, ok := m["sections"]; !ok {
		if _, ok := m["items"]; ok {
			b.itemsKey = "items"
		}
	}
	if raw, ok := m[b.itemsKey]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &b.Sections); err != nil {
			return err
		}
	}
	delete(m, b.itemsKey)
	b.extra = m
	return nil
}

func (b Book) MarshalJSON() ([]byte, error) {
	key := b.itemsKey
	if key == "" {
		key = "sections"
	}
	items := b.Sections
	if items == nil {
		items = []BookItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return marshalWithExtra(b.extra, map[string]json.RawMessage{key: raw})
}

// BookItem is one of a chapter, a separator or a part title.
type BookItem struct {
	Chapter   *Chapter
	Separator bool
	PartTitle string
}

func (it *BookItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "Separator" {
			return fmt.Errorf("book: unknown item %q", s)
		}
		it.Separator = true
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["Chapter"]; ok {
		it.Chapter = &Chapter{}
		return json.Unmarshal(raw, it.Chapter)
	}
	if raw, ok := m["PartTitle"]; ok {
		return json.Unmarshal(raw, &it.PartTitle)
	}
	return fmt.Errorf("book: unknown item %s", data)
}

func (it BookItem) MarshalJSON() ([]byte, error) {
	switch {
	case it.Chapter != nil:
		return json.Marshal(map[string]*Chapter{"Chapter": it.Chapter})
	case it.Separator:
		return []byte(`"Separator"`), nil
	default:
		return json.Marshal(map[string]string{"PartTitle": it.PartTitle})
	}
}

// Chapter is a single page of the book. Keys this package does not know
// about survive a decode/encode round trip.
type Chapter struct {
	Name        string
	Content     string
	Number      []int
	SubItems    []BookItem
	Path        *string
	SourcePath  *string
	ParentNames []string

	extra map[string]json.RawMessage
}

type chapterFields struct {
	Name        string     `json:"name"`
	Content     string     `json:"content"`
	Number      []int      `json:"number"`
	SubItems    []BookItem `json:"sub_items"`
	Path        *string    `json:"path"`
	SourcePath  *string    `json:"source_path"`
	ParentNames []string   `json:"parent_names"`
}

var chapterKeys = []string{"name", "content", "number", "sub_items", "path", "source_path", "parent_names"}

func (c *Chapter) UnmarshalJSON(data []byte) error {
	var f chapterFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for _, k := range chapterKeys {
		delete(m, k)
	}
	*c = Chapter{
		Name:        f.Name,
		Content:     f.Content,
		Number:      f.Number,
		SubItems:    f.SubItems,
		Path:        f.Path,
		SourcePath:  f.SourcePath,
		ParentNames: f.ParentNames,
		extra:       m,
	}
	return nil
}

func (c Chapter) MarshalJSON() ([]byte, error) {
	f := chapterFields{
		Name:        c.Name,
		Content:     c.Content,
		Number:      c.Number,
		SubItems:    c.SubItems,
		Path:        c.Path,
		SourcePath:  c.SourcePath,
		ParentNames: c.ParentNames,
	}
	if f.SubItems == nil {
		f.SubItems = []BookItem{}
	}
	if f.ParentNames == nil {
		f.ParentNames = []string{}
	}
	known, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(known, &m); err != nil {
		return nil, err
	}
	return marshalWithExtra(c.extra, m)
}

// ChapterPath returns the chapter's path relative to the source dir, or ""
// for draft chapters.
func (c *Chapter) ChapterPath() string {
	if c.Path == nil {
		return ""
	}
	return *c.Path
}

func marshalWithExtra(extra, known map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		out[k] = v
	}
	return json.Marshal(out)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
