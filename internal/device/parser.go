package device

import (
	"strings"
)

// minIDLength is the shortest device id adb is expected to report.
const minIDLength = 5

// Descriptive keys that populate a Record. Other key:value tokens adb prints
// (usb:, transport_id:) are accepted and ignored.
const (
	keyProduct = "product"
	keyModel   = "model"
	keyDevice  = "device"
)

// descriptiveKeys is the order adb prints the descriptive triple in.
var descriptiveKeys = [...]string{keyProduct, keyModel, keyDevice}

// ParseSkip describes a line of the device report that did not match the
// device-line grammar. It is a diagnostic, never an error.
type ParseSkip struct {
	// Line is the 1-based line number within the report.
	Line int
	// Text is the offending line with carriage returns removed.
	Text string
}

// ParseDeviceList turns the output of `adb devices -l` into a Snapshot.
//
// The first line is a header and is discarded, as are blank lines. Every
// other line must look like
//
//	<id> <status> [product:<p> model:<m> device:<d>]
//
// where id is at least five letters, digits or hyphens and status is one of
// the recognised tokens. The triple is optional, but when any of its keys
// appears all three must, in that order. Lines that do not match are returned as skips and
// parsing continues. When an id repeats, the later line wins.
//
// ParseDeviceList performs no I/O.
func ParseDeviceList(text string) (Snapshot, []ParseSkip) {
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")

	var (
		records []Record
		skips   []ParseSkip
	)

	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, ok := parseDeviceLine(line)
		if !ok {
			skips = append(skips, ParseSkip{Line: i + 1, Text: line})
			continue
		}
		records = append(records, rec)
	}

	return NewSnapshot(records...), skips
}

// parseDeviceLine parses a single device line.
func parseDeviceLine(line string) (Record, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, false
	}

	id := fields[0]
	if !isValidID(id) {
		return Record{}, false
	}

	status, rest := splitStatus(fields[1:])
	if !status.IsKnown() {
		return Record{}, false
	}

	rec := Record{ID: id, Status: status}
	triple := [...]*string{&rec.Product, &rec.Model, &rec.Device}
	var seen int // descriptive keys matched so far, in triple order
	for _, tok := range rest {
		key, value, found := strings.Cut(tok, ":")
		if !found || key == "" {
			return Record{}, false
		}
		switch key {
		case keyProduct, keyModel, keyDevice:
			if seen == len(descriptiveKeys) || key != descriptiveKeys[seen] {
				return Record{}, false
			}
			*triple[seen] = value
			seen++
		}
	}

	// The triple is all or nothing.
	if seen != 0 && seen != len(descriptiveKeys) {
		return Record{}, false
	}
	return rec, true
}

// splitStatus extracts the status token, joining the two-word "no device".
func splitStatus(fields []string) (Status, []string) {
	if len(fields) >= 2 && fields[0] == "no" && fields[1] == "device" {
		return StatusNoDevice, fields[2:]
	}
	return Status(fields[0]), fields[1:]
}

// isValidID reports whether id is at least minIDLength characters drawn from
// [A-Za-z0-9-].
func isValidID(id string) bool {
	if len(id) < minIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
