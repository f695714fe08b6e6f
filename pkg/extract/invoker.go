// Package extract runs the external document extraction tool.
//
// The tool is opaque: it is invoked as `command args... <input> <outputDir>`,
// writes HTML files into the output directory and reports failure through a
// non-zero exit status with diagnostics on stderr.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Defaults for the bundled Java extraction tool.
const (
	DefaultCommand   = "java"
	DefaultJar       = "libs/lib_dat.jar"
	DefaultTimeout   = 5 * time.Minute
	DefaultKillGrace = 5 * time.Second

	// JarPlaceholder in an argument is replaced with the resolved jar path.
	JarPlaceholder = "{jar}"
)

// DefaultArgs starts the JVM with a 512MB minimum heap and runs the jar.
var DefaultArgs = []string{"-Xms512m", "-jar", JarPlaceholder}

// Invoker produces raw HTML files for an input document in outputDir.
type Invoker interface {
	Invoke(ctx context.Context, inputPath, outputDir string) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, inputPath, outputDir string) error

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, inputPath, outputDir string) error {
	return f(ctx, inputPath, outputDir)
}

// ExtractionError reports a failed or timed-out tool invocation.
type ExtractionError struct {
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExtractionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("extraction timed out: %v", e.Err)
	case e.Stderr != "":
		return fmt.Sprintf("extraction failed (exit %d): %s", e.ExitCode, strings.TrimSpace(e.Stderr))
	default:
		return fmt.Sprintf("extraction failed (exit %d): %v", e.ExitCode, e.Err)
	}
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ExecInvoker runs the extraction tool as a child process.
type ExecInvoker struct {
	Command string
	Args    []string
	// Jar replaces JarPlaceholder in Args. Ignored when Bundle is set.
	Jar    string
	Bundle *Bundle
	// Timeout bounds a single invocation; zero means DefaultTimeout.
	Timeout time.Duration
	Runner  Runner
}

// ExecOption configures an ExecInvoker.
type ExecOption func(*ExecInvoker)

// WithCommand sets the executable and its leading arguments.
func WithCommand(command string, args ...string) ExecOption {
	return func(e *ExecInvoker) {
		e.Command = command
		e.Args = args
	}
}

// WithJar sets the jar path substituted for JarPlaceholder.
func WithJar(path string) ExecOption {
	return func(e *ExecInvoker) {
		e.Jar = path
	}
}

// WithBundle resolves the jar by unpacking it from a zip bundle on first use.
func WithBundle(b *Bundle) ExecOption {
	return func(e *ExecInvoker) {
		e.Bundle = b
	}
}

// WithTimeout bounds each invocation.
func WithTimeout(d time.Duration) ExecOption {
	return func(e *ExecInvoker) {
		e.Timeout = d
	}
}

// WithRunner replaces process execution.
func WithRunner(r Runner) ExecOption {
	return func(e *ExecInvoker) {
		e.Runner = r
	}
}

// NewExecInvoker creates an invoker for the default Java tool, adjusted by opts.
func NewExecInvoker(opts ...ExecOption) *ExecInvoker {
	e := &ExecInvoker{
		Command: DefaultCommand,
		Args:    append([]string(nil), DefaultArgs...),
		Jar:     DefaultJar,
		Timeout: DefaultTimeout,
		Runner:  ExecRunner{KillGrace: DefaultKillGrace},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invoke runs the tool for inputPath, creating outputDir first.
func (e *ExecInvoker) Invoke(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	jar := e.Jar
	if e.Bundle != nil {
		var err error
		if jar, err = e.Bundle.Resolve(); err != nil {
			return err
		}
	}

	args := make([]string, 0, len(e.Args)+2)
	for _, a := range e.Args {
		args = append(args, strings.ReplaceAll(a, JarPlaceholder, jar))
	}
	args = append(args, inputPath, outputDir)

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := e.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	_, stderr, err := runner.Run(runCtx, e.Command, args...)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &ExtractionError{
			ExitCode: -1,
			Stderr:   string(stderr),
			TimedOut: true,
			Err:      fmt.Errorf("no exit after %s", timeout),
		}
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &ExtractionError{
		ExitCode: exitCode,
		Stderr:   string(stderr),
		Err:      err,
	}
}
