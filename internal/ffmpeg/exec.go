package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// defaultRunGraceful executes FFmpeg with graceful shutdown on context
// cancellation. When ctx is canceled, it sends 'q' to stdin to allow FFmpeg
// to finalize the file properly (write headers, close container), then waits
// up to timeout before killing. This approach works cross-platform
// (Windows/macOS/Linux) unlike SIGTERM.
func defaultRunGraceful(ctx context.Context, ffmpegPath string, args []string, timeout time.Duration) error {
	cmd := exec.Command(ffmpegPath, args...)

	// Create stdin pipe for graceful shutdown via 'q' command.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	// Capture stderr for error messages (FFmpeg writes most output to stderr).
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close() // Clean up pipe on start failure
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Channel to receive the result of cmd.Wait().
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		// FFmpeg completed normally (or with error).
		if err != nil {
			return fmt.Errorf("ffmpeg: %w\nOutput: %s", err, stderr.String())
		}
		return nil

	case <-ctx.Done():
		// Context canceled - initiate graceful shutdown.
		// Send 'q' to FFmpeg stdin to request graceful exit.
		_, _ = io.WriteString(stdin, "q")
		_ = stdin.Close()

		// Wait for FFmpeg to exit gracefully or timeout.
		select {
		case err := <-done:
			// Exit code != 0 is expected when interrupted; the file should
			// still be valid because FFmpeg finalized the container.
			_ = err
			return nil

		case <-time.After(timeout):
			// Timeout reached - force kill.
			_ = cmd.Process.Kill()
			<-done // Wait for process to be reaped.
			return fmt.Errorf("%w: killed after %v", ErrTimeout, timeout)
		}
	}
}

// ---------------------------------------------------------------------------
// Executor - testable FFmpeg execution with dependency injection
// ---------------------------------------------------------------------------

// RunOutputFn is the function type for running a command and capturing output.
type RunOutputFn func(ctx context.Context, path string, args []string) (string, error)

// RunGracefulFn is the function type for running a long encode with the
// stdin-'q' shutdown protocol.
type RunGracefulFn func(ctx context.Context, path string, args []string, timeout time.Duration) error

// Executor runs FFmpeg commands with injectable dependencies.
type Executor struct {
	runOutput   RunOutputFn
	runGraceful RunGracefulFn
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRunOutput sets a custom runOutput function (for testing). The graceful
// path is routed through the same function so one fake observes every
// invocation.
func WithRunOutput(fn RunOutputFn) ExecutorOption {
	return func(e *Executor) {
		e.runOutput = fn
		e.runGraceful = func(ctx context.Context, path string, args []string, _ time.Duration) error {
			output, err := fn(ctx, path, args)
			if err != nil {
				return fmt.Errorf("ffmpeg %v: %w\nOutput: %s", args, err, output)
			}
			return nil
		}
	}
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		runOutput:   defaultRunOutput,
		runGraceful: defaultRunGraceful,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOutput executes FFmpeg and captures its stderr output.
// FFmpeg writes most diagnostic output (including probe info) to stderr.
func (e *Executor) RunOutput(ctx context.Context, ffmpegPath string, args []string) (string, error) {
	return e.runOutput(ctx, ffmpegPath, args)
}

// RunGraceful executes a long encode. On context cancellation FFmpeg is asked
// to quit via stdin so the container is finalized instead of torn, and the
// process is killed only after timeout.
func (e *Executor) RunGraceful(ctx context.Context, ffmpegPath string, args []string, timeout time.Duration) error {
	return e.runGraceful(ctx, ffmpegPath, args, timeout)
}

// Run executes FFmpeg and fails on a non-zero exit, returning stderr in the error.
// Use this for short commands that must succeed (chunk cuts), as opposed to
// probe-style commands where a non-zero exit still carries useful output.
func (e *Executor) Run(ctx context.Context, ffmpegPath string, args []string) error {
	output, err := e.runOutput(ctx, ffmpegPath, args)
	if err != nil {
		return fmt.Errorf("ffmpeg %v: %w\nOutput: %s", args, err, output)
	}
	return nil
}

// defaultRunOutput is the production implementation.
// Returns stderr output even when the command fails, since FFmpeg often returns
// non-zero exit codes for valid operations (e.g. probing with -f null).
func defaultRunOutput(ctx context.Context, ffmpegPath string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Return stderr output regardless of error - it contains the useful data.
	return stderr.String(), err
}
