// Package identity derives content-addressed artifact names for diagram sources.
//
// The name of a rendered image is fully determined by the bytes of its
// source text and the requested output format, so the existence of the file
// under the output root is enough to know the diagram is already rendered.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// extensions maps PlantUML -t tokens whose output file extension differs
// from the token itself.
var extensions = map[string]string{
	"txt":              "atxt",
	"latex":            "tex",
	"latex:nopreamble": "tex",
	"braille":          "braille.png",
}

// Formats lists the output formats PlantUML can produce from a source file.
var Formats = []string{
	"svg", "png", "txt", "utxt", "eps", "pdf", "vdx", "xmi", "scxml",
	"html", "latex", "latex:nopreamble", "braille",
}

// Hash returns the hex-encoded SHA-256 digest of source.
func Hash(source string) string {
	h := sha256.Sum256([]byte(source))
	return hex.EncodeToString(h[:])
}

// Extension returns the file extension PlantUML writes for format.
// Unknown tokens are returned unchanged.
func Extension(format string) string {
	if ext, ok := extensions[strings.ToLower(format)]; ok {
		return ext
	}
	return format
}

// Name returns the artifact file name for source rendered as format.
func Name(source, format string) string {
	return Hash(source) + "." + Extension(format)
}

// Compute joins the artifact name for source and format with outputRoot.
// It performs no I/O.
func Compute(outputRoot, source, format string) string {
	return filepath.Join(outputRoot, Name(source, format))
}

// Supported reports whether format is one of Formats.
func Supported(format string) bool {
	f := strings.ToLower(format)
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// IsText reports whether format produces plain text rather than an image.
func IsText(format string) bool {
	switch strings.ToLower(format) {
	case "txt", "utxt":
		return true
	}
	return false
}

// SplitName splits an artifact file name into its hash and extension.
func SplitName(name string) (hash, ext string) {
	hash, ext, _ = strings.Cut(filepath.Base(name), ".")
	return hash, ext
}
