package adb

import (
	"strings"
	"testing"
)

func TestSanitizeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"adb install app.apk", "install app.apk"},
		{"install app.apk", "install app.apk"},
		{"  adb   shell ls  ", "shell ls"},
		{"adb\tshell ls", "shell ls"},
		{"adb", ""},
		{"adbd restart", "adbd restart"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeCommand(tt.in); got != tt.want {
				t.Errorf("SanitizeCommand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		serial  string
		want    []string
	}{
		{"host command", "adb devices", "", []string{"devices"}},
		{"device command", "adb install app.apk", "abcde12345", []string{"-s", "abcde12345", "install", "app.apk"}},
		{"no keyword", "shell  getprop   ro.product.model", "emulator-5554", []string{"-s", "emulator-5554", "shell", "getprop", "ro.product.model"}},
		{"quotes are not interpreted", `shell "echo hi"`, "", []string{"shell", `"echo`, `hi"`}},
		{"empty", "adb", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := withSerial(splitCommand(tt.command), tt.serial)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("withSerial(splitCommand(%q)) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestCleanOutput(t *testing.T) {
	got := CleanOutput([]byte("List of devices attached\r\r\nabcde12345\tdevice\r\r\n"))
	want := "List of devices attached\nabcde12345\tdevice\n"
	if got != want {
		t.Errorf("CleanOutput() = %q, want %q", got, want)
	}
}
