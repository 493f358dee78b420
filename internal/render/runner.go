package render

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CommandRunner runs one external command and interprets its result.
// Implementations receive the full argument vector, program first.
type CommandRunner interface {
	Execute(ctx context.Context, args []string) error
}

// ShellRunner executes commands through the platform command interpreter.
// The arguments are joined into a single command line so that flags embedded
// in the configured command string are honoured by the shell.
type ShellRunner struct {
	logger *slog.Logger
}

var _ CommandRunner = (*ShellRunner)(nil)

// NewShellRunner creates a runner that logs to logger (nil discards).
func NewShellRunner(logger *slog.Logger) *ShellRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ShellRunner{logger: logger}
}

// Execute runs `sh -c "<args...>"` (or `cmd /C` on Windows) and returns an
// *ExecError when the command cannot start or exits non-zero.
func (r *ShellRunner) Execute(ctx context.Context, args []string) error {
	line := strings.Join(args, " ")
	shell, flag := interpreter()

	// sh -c only treats its first operand as the script, so the whole line
	// must be passed as one argument.
	cmd := exec.CommandContext(ctx, shell, flag, line)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("executing command",
		slog.String("command", line),
		slog.String("source_dir", sourceDir(args)))

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return &ExecError{Command: line, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &ExecError{Command: line, ExitCode: -1, Stderr: stderr.String(), Err: err}
	}

	r.logger.Info("generated PlantUML diagram", slog.String("command", line))
	r.logger.Debug("command output",
		slog.String("stdout", stdout.String()),
		slog.String("stderr", stderr.String()))
	return nil
}

// sourceDir is the directory of the staged source, the last argument.
func sourceDir(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return filepath.Dir(args[len(args)-1])
}

func interpreter() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}
