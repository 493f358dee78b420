// Package parser locates PlantUML fenced code blocks in Markdown and
// rewrites them.
package parser

import (
	"strings"
)

// Diagram is one fenced PlantUML block. Start and End are byte offsets in
// the original Markdown covering the opening fence through the closing
// fence, excluding the closing line's newline. An unclosed block extends to
// the end of the document.
type Diagram struct {
	Start   int
	End     int
	Lang    string
	Format  string
	Options map[string]string
	Source  string
}

type fence struct {
	char   byte
	length int
	indent int
}

type line struct {
	start int
	text  string // without the line terminator
}

// FindDiagrams returns every plantuml/puml fenced block in markdown in
// document order. Fenced blocks in other languages are skipped as a whole,
// so diagrams quoted inside them are not reported.
func FindDiagrams(markdown string) []Diagram {
	lines := splitLines(markdown)
	var out []Diagram

	for i := 0; i < len(lines); i++ {
		f, info, ok := openingFence(lines[i].text)
		if !ok {
			continue
		}

		j := i + 1
		for j < len(lines) && !isClosingFence(lines[j].text, f) {
			j++
		}

		lang, opts := parseInfo(info)
		if isDiagramLang(lang) {
			var src strings.Builder
			for _, l := range lines[i+1 : j] {
				src.WriteString(stripIndent(l.text, f.indent))
				src.WriteByte('\n')
			}
			end := len(markdown)
			if j < len(lines) {
				end = lines[j].start + len(lines[j].text)
			}
			out = append(out, Diagram{
				Start:   lines[i].start,
				End:     end,
				Lang:    lang,
				Format:  opts["format"],
				Options: opts,
				Source:  src.String(),
			})
		}
		i = j
	}
	return out
}

// Replace rebuilds markdown with each diagram substituted by fn's result.
// diagrams must come from FindDiagrams on the same text. The first error
// returned by fn aborts the rewrite.
func Replace(markdown string, diagrams []Diagram, fn func(Diagram) (string, error)) (string, error) {
	if len(diagrams) == 0 {
		return markdown, nil
	}
	var b strings.Builder
	b.Grow(len(markdown))
	prev := 0
	for _, d := range diagrams {
		b.WriteString(markdown[prev:d.Start])
		repl, err := fn(d)
		if err != nil {
			return "", err
		}
		b.WriteString(repl)
		prev = d.End
	}
	b.WriteString(markdown[prev:])
	return b.String(), nil
}

// DefaultFormat picks the output format for a diagram without an explicit
// format option. Ditaa cannot produce SVG, so ditaa sources become png.
func DefaultFormat(source, fallback string) string {
	if strings.Contains(strings.ToLower(source), "@startditaa") {
		return "png"
	}
	return fallback
}

func splitLines(s string) []line {
	var out []line
	start := 0
	for start < len(s) {
		idx := strings.IndexByte(s[start:], '\n')
		if idx < 0 {
			out = append(out, line{start: start, text: strings.TrimSuffix(s[start:], "\r")})
			break
		}
		out = append(out, line{start: start, text: strings.TrimSuffix(s[start:start+idx], "\r")})
		start += idx + 1
	}
	return out
}

// openingFence recognises a CommonMark fence opener: up to three spaces of
// indentation followed by at least three backticks or tildes.
func openingFence(text string) (fence, string, bool) {
	indent := leadingSpaces(text)
	if indent > 3 {
		return fence{}, "", false
	}
	rest := text[indent:]
	if len(rest) < 3 || (rest[0] != '`' && rest[0] != '~') {
		return fence{}, "", false
	}
	c := rest[0]
	n := 0
	for n < len(rest) && rest[n] == c {
		n++
	}
	if n < 3 {
		return fence{}, "", false
	}
	info := strings.TrimSpace(rest[n:])
	if c == '`' && strings.Contains(info, "`") {
		return fence{}, "", false
	}
	return fence{char: c, length: n, indent: indent}, info, true
}

func isClosingFence(text string, f fence) bool {
	indent := leadingSpaces(text)
	if indent > 3 {
		return false
	}
	rest := text[indent:]
	n := 0
	for n < len(rest) && rest[n] == f.char {
		n++
	}
	return n >= f.length && strings.TrimSpace(rest[n:]) == ""
}

// parseInfo splits an info string such as "plantuml,format=png" or
// "puml format=utxt" into the language and its key=value options.
func parseInfo(info string) (string, map[string]string) {
	fields := strings.FieldsFunc(info, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return "", nil
	}
	opts := make(map[string]string)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			opts[strings.ToLower(f)] = ""
			continue
		}
		opts[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return strings.ToLower(fields[0]), opts
}

func isDiagramLang(lang string) bool {
	return lang == "plantuml" || lang == "puml"
}

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n
}

func stripIndent(s string, n int) string {
	i := 0
	for i < n && i < len(s) && s[i] == ' ' {
		i++
	}
	return s[i:]
}
