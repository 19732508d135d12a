// Package console renders device listings and per-device command output
// for the adbmux command line.
package console
