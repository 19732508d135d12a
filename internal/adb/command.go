package adb

import (
	"strings"
	"unicode"
)

// keyword is the optional program name users may leave at the start of a
// command, as in "adb install app.apk".
const keyword = "adb"

// SanitizeCommand removes a leading "adb" keyword and surrounding
// whitespace from a user command.
func SanitizeCommand(command string) string {
	command = strings.TrimSpace(command)
	rest, ok := strings.CutPrefix(command, keyword)
	if ok && (rest == "" || unicode.IsSpace(rune(rest[0]))) {
		return strings.TrimSpace(rest)
	}
	return command
}

// splitCommand turns a user command into adb arguments. Arguments are split
// on whitespace only; no shell quoting is interpreted.
func splitCommand(command string) []string {
	return strings.Fields(SanitizeCommand(command))
}

func withSerial(tokens []string, serial string) []string {
	if serial == "" {
		return tokens
	}
	args := make([]string, 0, len(tokens)+2)
	args = append(args, "-s", serial)
	return append(args, tokens...)
}

// CleanOutput drops the carriage returns adb emits on some platforms so
// output lines end in a single "\n".
func CleanOutput(out []byte) string {
	return strings.ReplaceAll(string(out), "\r", "")
}
