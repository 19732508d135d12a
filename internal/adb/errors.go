package adb

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds carried by BridgeError. Check with errors.Is.
var (
	// ErrLaunch means the adb binary could not be started.
	ErrLaunch = errors.New("adb: launch failed")

	// ErrExit means adb ran and exited with a non-zero status.
	ErrExit = errors.New("adb: non-zero exit")

	// ErrTimeout means adb did not finish before its deadline, or the
	// caller gave up on it.
	ErrTimeout = errors.New("adb: timed out")

	// ErrEmptyCommand is returned when a command has no tokens after the
	// optional "adb" keyword is removed.
	ErrEmptyCommand = errors.New("adb: empty command")
)

// BridgeError describes a failed adb invocation.
type BridgeError struct {
	// Op names what was being attempted ("devices", "exec").
	Op string

	// Args are the arguments adb was invoked with.
	Args []string

	// Serial is the target device, empty for host commands.
	Serial string

	// ExitCode is the process exit status, -1 if it never exited normally.
	ExitCode int

	// Stderr is adb's trimmed standard error output.
	Stderr string

	// Kind is one of ErrLaunch, ErrExit or ErrTimeout.
	Kind error

	// Err is the underlying cause.
	Err error
}

func (e *BridgeError) Error() string {
	var b strings.Builder
	b.WriteString("adb ")
	b.WriteString(e.Op)
	if e.Serial != "" {
		fmt.Fprintf(&b, " on %s", e.Serial)
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(strings.TrimPrefix(e.Kind.Error(), "adb: "))
	}
	switch {
	case e.Stderr != "":
		b.WriteString(": ")
		b.WriteString(e.Stderr)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *BridgeError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
