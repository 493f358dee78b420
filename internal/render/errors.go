package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/mdbook-plantuml/internal/identity"
)

// Kind classifies a render failure.
type Kind int

const (
	// KindScratchWrite means the diagram source could not be staged in the
	// working directory.
	KindScratchWrite Kind = iota + 1
	// KindCommandFailed means the external tool could not be launched or
	// exited unsuccessfully.
	KindCommandFailed
	// KindNoOutput means the tool exited cleanly but wrote no image.
	KindNoOutput
	// KindCopyFailed means the rendered image could not be placed under
	// the output root.
	KindCopyFailed
	// KindUnsupportedFormat means the requested output format is not one
	// PlantUML can produce. Nothing is run.
	KindUnsupportedFormat
)

// Sentinel errors matched by errors.Is against an *Error of the same kind.
var (
	ErrScratchWrite  = errors.New("render: scratch write failed")
	ErrCommandFailed = errors.New("render: command failed")
	ErrNoOutput      = errors.New("render: no output produced")
	ErrCopyFailed    = errors.New("render: copy failed")

	ErrUnsupportedFormat = errors.New("render: unsupported format")
)

func (k Kind) String() string {
	switch k {
	case KindScratchWrite:
		return "scratch_write"
	case KindCommandFailed:
		return "command_failed"
	case KindNoOutput:
		return "no_output"
	case KindCopyFailed:
		return "copy_failed"
	case KindUnsupportedFormat:
		return "unsupported_format"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindScratchWrite:
		return ErrScratchWrite
	case KindCommandFailed:
		return ErrCommandFailed
	case KindNoOutput:
		return ErrNoOutput
	case KindCopyFailed:
		return ErrCopyFailed
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	}
	return nil
}

// Error is returned by Backend.Render. A render either yields an artifact
// path or exactly one *Error.
type Error struct {
	Kind    Kind
	Path    string // scratch file involved, if any
	Target  string // final artifact path, for KindCopyFailed
	Command string // joined command line, for KindCommandFailed and KindNoOutput
	Format  string // rejected format, for KindUnsupportedFormat
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindScratchWrite:
		return fmt.Sprintf("failed to create temp file for inline diagram (%v)", e.Err)
	case KindCommandFailed:
		return fmt.Sprintf("failed to render inline diagram (%v)", e.Err)
	case KindNoOutput:
		return fmt.Sprintf("PlantUML did not generate an image, did you forget the @startuml, @enduml block (%s)?", e.Command)
	case KindCopyFailed:
		return fmt.Sprintf("error copying the generated PlantUML image %s to %s (%v)", e.Path, e.Target, e.Err)
	case KindUnsupportedFormat:
		return fmt.Sprintf("unsupported PlantUML output format %q (supported: %s)", e.Format, strings.Join(identity.Formats, ", "))
	}
	return fmt.Sprintf("render: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNoOutput) and friends work.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// ExecError reports an unsuccessful external command.
type ExecError struct {
	Command  string
	ExitCode int // -1 when the process could not be started or was killed
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to start PlantUML application: %v", e.Err)
	}
	return fmt.Sprintf("Failed to generate PlantUML diagrams, PlantUML exited with code %d (%s).",
		e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *ExecError) Unwrap() error { return e.Err }
