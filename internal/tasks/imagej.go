package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"stackanalyser/internal/config"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, stdout io.Writer) error
}

// ProcessError reports a failed launch or a non-zero exit of the analysis tool.
type ProcessError struct {
	// ExitCode is -1 when the process could not be started.
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("execution failed: %v", e.Err)
	}
	return fmt.Sprintf("execution failed with code: %d", e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ImageJ runs macros through a headless ImageJ JVM.
type ImageJ struct {
	java      string
	classpath []string
	path      string
	jvmArgs   []string
	exec      Executor
	log       *slog.Logger
}

// ImageJOption configures the runner.
type ImageJOption func(*ImageJ)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(e Executor) ImageJOption {
	return func(ij *ImageJ) {
		if e != nil {
			ij.exec = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ImageJOption {
	return func(ij *ImageJ) {
		if l != nil {
			ij.log = l
		}
	}
}

// NewImageJ builds a runner from the imagej config section.
func NewImageJ(cfg config.ImageJ, opts ...ImageJOption) *ImageJ {
	java := strings.TrimSpace(cfg.Java)
	if java == "" {
		java = "java"
	}
	ij := &ImageJ{
		java:      java,
		classpath: cfg.Classpath,
		path:      cfg.Path,
		jvmArgs:   cfg.JVMArgs,
		exec:      commandExecutor{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(ij)
	}
	return ij
}

// Args returns the JVM command line for a macro, without the binary.
func (ij *ImageJ) Args(macroPath string) []string {
	args := []string{"-cp", strings.Join(ij.classpath, string(os.PathListSeparator))}
	args = append(args, ij.jvmArgs...)
	args = append(args, "-Djava.awt.headless=true", "ij.ImageJ", "-ijpath", ij.path, "-batch", macroPath)
	return args
}

// Run executes the macro and writes the tool's standard output to
// capturePath. The call blocks until the JVM exits. Any failure is returned
// as a *ProcessError and the capture must not be used.
func (ij *ImageJ) Run(ctx context.Context, macroPath, capturePath string) error {
	out, err := os.Create(capturePath)
	if err != nil {
		return &ProcessError{ExitCode: -1, Err: fmt.Errorf("create capture: %w", err)}
	}
	defer out.Close()

	args := ij.Args(macroPath)
	ij.log.Info("script command", "command", ij.java+" "+strings.Join(args, " "), "capture", filepath.Base(capturePath))

	if err := ij.exec.Run(ctx, ij.java, args, out); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ProcessError{ExitCode: exitErr.ExitCode(), Err: err}
		}
		var perr *ProcessError
		if errors.As(err, &perr) {
			return perr
		}
		return &ProcessError{ExitCode: -1, Err: err}
	}
	return out.Sync()
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
