// Package runner executes external tools.
//
// Search and orchestration code never touches os/exec directly; it is handed
// a Runner so tests can substitute a fake and so the process mechanics
// (captured vs. inherited output, launcher prefixes) stay in one place.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external process invocation.
type Command struct {
	Path string
	Args []string

	// Stdout receives the process output when set; otherwise stdout is
	// captured into Result.Stdout.
	Stdout io.Writer

	// Inherit streams stdout and stderr to the terminal so the user can
	// watch long-running tools. Stderr is still captured for diagnostics.
	Inherit bool
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, a := range c.Args {
		if strings.ContainsAny(a, " \t\"") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result holds the outcome of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, cmd Command) (*Result, error)

// Run calls f(ctx, cmd).
func (f Func) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a Runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command and waits for it. A launch failure or non-zero
// exit status is returned as an error that includes the tail of stderr.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	switch {
	case c.Stdout != nil:
		cmd.Stdout = c.Stdout
	case c.Inherit:
		cmd.Stdout = os.Stdout
	default:
		cmd.Stdout = &stdoutBuf
	}
	if c.Inherit {
		cmd.Stderr = io.MultiWriter(&stderrBuf, os.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()
	res := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("%s exited with status %d: %s", c.Path, exitErr.ExitCode(), LastLines(res.Stderr, 3))
		}
		return res, fmt.Errorf("starting %s: %w", c.Path, err)
	}
	return res, nil
}

// Wrap returns a command that runs path through a launcher prefix, e.g.
// ["arch.exe", "runp"]. An empty prefix runs path directly.
func Wrap(prefix []string, path string, args ...string) Command {
	if len(prefix) == 0 {
		return Command{Path: path, Args: args}
	}
	full := make([]string, 0, len(prefix)-1+1+len(args))
	full = append(full, prefix[1:]...)
	full = append(full, path)
	full = append(full, args...)
	return Command{Path: prefix[0], Args: full}
}

// LastLines returns the last n non-empty lines from output
func LastLines(output string, n int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
