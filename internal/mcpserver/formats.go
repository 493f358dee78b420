package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/mdbook-plantuml/internal/identity"
)

// FormatsDocument describes every output format and the artifact extension
// it produces.
func FormatsDocument() string {
	var b strings.Builder
	b.WriteString("# PlantUML Output Formats\n\n")
	b.WriteString("Artifacts are named `<sha256 of source>.<extension>`.\n\n")
	b.WriteString("| format | extension |\n|---|---|\n")
	for _, f := range identity.Formats {
		fmt.Fprintf(&b, "| `%s` | `%s` |\n", f, identity.Extension(f))
	}
	b.WriteString(`
## Notes

- ` + "`svg`" + ` is the default.
- Ditaa diagrams (` + "`@startditaa`" + `) cannot produce SVG and default to ` + "`png`" + `.
- ` + "`txt`" + ` and ` + "`utxt`" + ` produce ASCII art; in a book they are inlined as text blocks.
`)
	return b.String()
}
