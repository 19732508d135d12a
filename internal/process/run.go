package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for inherited pipes to close after
// the process itself has exited or been killed. Tools that fork a daemon
// (adb starting its server) can otherwise hold stdout open indefinitely.
const waitDelay = 2 * time.Second

// Command describes a single short-lived invocation.
type Command struct {
	// Binary is the executable name or path.
	Binary string

	// Args are the arguments passed to Binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// Dir is the working directory. Empty inherits from the parent.
	Dir string

	// Timeout bounds the whole invocation. Zero means only ctx applies.
	Timeout time.Duration
}

// Result is the captured outcome of Run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Run executes cmd to completion and captures its output.
//
// The returned error, if any, wraps exactly one of ErrStart (the binary
// could not be launched), ErrTimeout (the deadline passed and the process
// was killed), or ErrNonZeroExit. The Result is populated as far as the
// process got, so stderr is available on ErrNonZeroExit.
func Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Binary == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: empty binary", ErrStart)
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec // Binary comes from operator configuration
	c.WaitDelay = waitDelay
	if cmd.Env != nil {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	started := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: time.Since(started),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	if err == nil || (errors.Is(err, exec.ErrWaitDelay) && res.ExitCode == 0) {
		return res, nil
	}

	// A deadline or cancellation wins over whatever signal-induced exit
	// status the killed process reported.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s: %w", ErrTimeout, res.Duration.Round(time.Millisecond), ctxErr)
		}
		return res, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, fmt.Errorf("%w: exit status %d", ErrNonZeroExit, res.ExitCode)
	}

	if c.Process == nil {
		return res, fmt.Errorf("%w: %w", ErrStart, err)
	}
	return res, fmt.Errorf("%w: %w", ErrNonZeroExit, err)
}
