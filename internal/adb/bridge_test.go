package adb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeADB writes a shell script that stands in for the adb binary.
//
// It echoes its arguments, prints a device report for "devices -l", fails
// with stderr for "fail", and sleeps for "hang".
func fakeADB(t *testing.T) string {
	t.Helper()

	script := `#!/bin/sh
case "$*" in
  *"devices -l"*)
    printf 'List of devices attached\r\r\n'
    printf 'abcde12345 device product:P model:M device:D\r\r\n'
    printf 'xyz99 unauthorized\r\r\n\r\r\n'
    ;;
  *fail*)
    echo "error: device 'xyz99' not found" >&2
    exit 1
    ;;
  *hang*)
    sleep 10
    ;;
  *)
    echo "args: $*"
    ;;
esac
`
	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake adb: %v", err)
	}
	return path
}

func TestBridge_Defaults(t *testing.T) {
	b := NewBridge(Config{})
	if b.Binary() != DefaultBinary {
		t.Errorf("Binary() = %q, want %q", b.Binary(), DefaultBinary)
	}
	if b.cfg.ListTimeout != DefaultListTimeout {
		t.Errorf("ListTimeout = %v, want %v", b.cfg.ListTimeout, DefaultListTimeout)
	}
	if b.cfg.CommandTimeout != DefaultCommandTimeout {
		t.Errorf("CommandTimeout = %v, want %v", b.cfg.CommandTimeout, DefaultCommandTimeout)
	}
}

func TestBridge_ListDevices(t *testing.T) {
	b := NewBridge(Config{Binary: fakeADB(t)})

	out, err := b.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if strings.Contains(out, "\r") {
		t.Errorf("ListDevices() kept carriage returns: %q", out)
	}
	if !strings.Contains(out, "abcde12345 device product:P model:M device:D\n") {
		t.Errorf("ListDevices() = %q", out)
	}
}

func TestBridge_Exec(t *testing.T) {
	b := NewBridge(Config{Binary: fakeADB(t)})

	out, err := b.Exec(context.Background(), "adb shell getprop ro.product.model", "abcde12345")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	want := "args: -s abcde12345 shell getprop ro.product.model\n"
	if out != want {
		t.Errorf("Exec() = %q, want %q", out, want)
	}
}

func TestBridge_ServerPort(t *testing.T) {
	b := NewBridge(Config{Binary: fakeADB(t), ServerPort: 5038})

	out, err := b.Run(context.Background(), []string{"get-state"}, "xyz99")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := "args: -P 5038 -s xyz99 get-state\n"
	if out != want {
		t.Errorf("Run() = %q, want %q", out, want)
	}
}

func TestBridge_EmptyCommand(t *testing.T) {
	b := NewBridge(Config{Binary: fakeADB(t)})

	if _, err := b.Exec(context.Background(), "  adb  ", ""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Exec() error = %v, want ErrEmptyCommand", err)
	}
	if _, err := b.Run(context.Background(), nil, ""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Run() error = %v, want ErrEmptyCommand", err)
	}
}

func TestBridge_NonZeroExit(t *testing.T) {
	b := NewBridge(Config{Binary: fakeADB(t)})

	_, err := b.Exec(context.Background(), "fail", "xyz99")
	if !errors.Is(err, ErrExit) {
		t.Fatalf("Exec() error = %v, want ErrExit", err)
	}

	var berr *BridgeError
	if !errors.As(err, &berr) {
		t.Fatalf("Exec() error is %T, want *BridgeError", err)
	}
	if berr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", berr.ExitCode)
	}
	if berr.Stderr != "error: device 'xyz99' not found" {
		t.Errorf("Stderr = %q", berr.Stderr)
	}
	if berr.Serial != "xyz99" {
		t.Errorf("Serial = %q, want %q", berr.Serial, "xyz99")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Error() = %q, want stderr included", err.Error())
	}
}

func TestBridge_LaunchFailure(t *testing.T) {
	b := NewBridge(Config{Binary: filepath.Join(t.TempDir(), "missing-adb")})

	_, err := b.ListDevices(context.Background())
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("ListDevices() error = %v, want ErrLaunch", err)
	}
	if errors.Is(err, ErrExit) || errors.Is(err, ErrTimeout) {
		t.Errorf("error %v matches more than one kind", err)
	}
}

func TestBridge_Timeout(t *testing.T) {
	b := NewBridge(Config{Binary: fakeADB(t), CommandTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := b.Exec(context.Background(), "hang", "")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Exec() error = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timed out command was not killed promptly")
	}
}

func TestBridgeError_Error(t *testing.T) {
	err := &BridgeError{Op: "devices", Kind: ErrLaunch, Err: errors.New("exec: \"adb\": executable file not found in $PATH")}
	want := "adb devices: launch failed: exec: \"adb\": executable file not found in $PATH"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
