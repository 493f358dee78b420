// Package rendertest provides a substitute CommandRunner that fabricates
// PlantUML results without running any external program.
package rendertest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/starford/mdbook-plantuml/internal/identity"
)

// Mode selects how the Runner behaves.
type Mode int

const (
	// CopySource succeeds and copies the staged source into the output file
	// PlantUML would have written.
	CopySource Mode = iota
	// NoOutput succeeds without writing any file.
	NoOutput
	// Fail returns an error.
	Fail
)

// ErrFake is returned in Fail mode when Runner.Err is nil.
var ErrFake = errors.New("whoops")

// Runner is a call-counting fake CommandRunner.
type Runner struct {
	Mode Mode
	Err  error

	calls atomic.Int64
	mu    sync.Mutex
	args  [][]string
}

// New returns a runner in the given mode.
func New(mode Mode) *Runner {
	return &Runner{Mode: mode}
}

// Execute fabricates a PlantUML invocation. The last argument is taken as
// the source file and the -t flag selects the output extension.
func (r *Runner) Execute(_ context.Context, args []string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.args = append(r.args, append([]string(nil), args...))
	r.mu.Unlock()

	switch r.Mode {
	case Fail:
		if r.Err != nil {
			return r.Err
		}
		return ErrFake
	case NoOutput:
		return nil
	}

	if len(args) == 0 {
		return errors.New("rendertest: no arguments")
	}
	src := args[len(args)-1]
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	format := "svg"
	for _, a := range args[1 : len(args)-1] {
		if strings.HasPrefix(a, "-t") {
			format = strings.TrimPrefix(a, "-t")
		}
	}
	out := strings.TrimSuffix(src, filepath.Ext(src)) + "." + identity.Extension(format)
	return os.WriteFile(out, data, 0o644)
}

// Calls returns the number of Execute calls.
func (r *Runner) Calls() int {
	return int(r.calls.Load())
}

// Args returns a copy of every recorded argument vector.
func (r *Runner) Args() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.args))
	copy(out, r.args)
	return out
}
