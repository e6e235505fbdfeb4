// Package cmake plans and runs the CMake configure/build/install workflow.
package cmake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/qiniu/x/log"
)

// tailSize bounds the diagnostic output kept from a failed invocation.
const tailSize = 16 << 10

// RunError reports a cmake invocation that exited unsuccessfully.
type RunError struct {
	Args     []string
	ExitCode int    // -1 when the process did not exit normally
	Output   string // tail of the process's stderr
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("cmake %s: %v", strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Executor runs plans with the cmake executable.
type Executor struct {
	cmake  string
	stdout io.Writer
	stderr io.Writer
}

// Option configures an Executor.
type Option func(*Executor)

// WithCMakePath sets a custom cmake executable path.
func WithCMakePath(path string) Option {
	return func(e *Executor) {
		if path != "" {
			e.cmake = path
		}
	}
}

// WithOutput sets where the build tool's output is streamed.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// NewExecutor returns an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{cmake: "cmake", stdout: io.Discard, stderr: io.Discard}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configure runs the configure step of p, creating its build directory.
func (e *Executor) Configure(ctx context.Context, p *Plan) error {
	if err := os.MkdirAll(p.BuildDir, 0o755); err != nil {
		return err
	}
	return e.run(ctx, p.ConfigureArgs())
}

// Build runs the build step of p.
func (e *Executor) Build(ctx context.Context, p *Plan) error {
	return e.run(ctx, p.BuildArgs())
}

// Install runs the install step of p.
func (e *Executor) Install(ctx context.Context, p *Plan) error {
	return e.run(ctx, p.InstallArgs())
}

func (e *Executor) run(ctx context.Context, args []string) error {
	log.Debugf("%s %s", e.cmake, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.cmake, args...)
	tail := &tailBuffer{max: tailSize}
	cmd.Stdout = e.stdout
	cmd.Stderr = io.MultiWriter(e.stderr, tail)
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &RunError{Args: args, ExitCode: code, Output: tail.String(), Err: err}
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > t.max {
		p = p[len(p)-t.max:]
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
