package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/runner"
)

// banner frames the output of each device.
const banner = "========================================"

// Colours used for terminal output.
const (
	colorGreen  = lipgloss.Color("2")
	colorRed    = lipgloss.Color("1")
	colorCyan   = lipgloss.Color("6")
	colorYellow = lipgloss.Color("3")
)

type styles struct {
	online  lipgloss.Style
	offline lipgloss.Style
	output  lipgloss.Style
	changed lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return styles{
		online:  base.Foreground(colorGreen),
		offline: base.Foreground(colorRed),
		output:  base.Foreground(colorCyan),
		changed: base.Foreground(colorYellow),
	}
}

// Printer writes device listings and command results for a terminal user.
//
// Regular output goes to out and problems to errOut. Each method writes one
// complete block under a lock, so results from parallel runs never
// interleave. Printer is safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	color  bool
	styles styles
}

// NewPrinter creates a Printer. With color false, output is plain text.
// Colour is also dropped automatically when out is not a terminal.
func NewPrinter(out, errOut io.Writer, color bool) *Printer {
	return &Printer{
		out:    out,
		errOut: errOut,
		color:  color,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

// FormatDeviceList renders one "- <id> (<model>)" line per device.
func FormatDeviceList(devices []device.Record) string {
	var b strings.Builder
	for _, d := range devices {
		b.WriteString("- ")
		b.WriteString(d.StatusString())
		b.WriteByte('\n')
	}
	return b.String()
}

// Devices prints the online devices a command is about to run on.
func (p *Printer) Devices(devices []device.Record) {
	p.write(p.out, "devices detected:\n"+p.paint(p.styles.online, FormatDeviceList(devices)))
}

// Offline prints the devices that were found but cannot run commands.
func (p *Printer) Offline(devices []device.Record) {
	p.write(p.out, "offline devices detected:\n"+p.paint(p.styles.offline, FormatDeviceList(devices)))
}

// NoDevices reports that adb sees no devices at all.
func (p *Printer) NoDevices() {
	p.write(p.errOut, p.paint(p.styles.offline, "no devices detected")+"\n")
}

// Result prints one device's output framed by a banner naming the device.
// It has the runner.Reporter signature.
func (p *Printer) Result(res runner.Result) {
	var b strings.Builder
	b.WriteString("\n" + banner + "\n")
	fmt.Fprintf(&b, "Result for %s (%s)\n", res.Device.ID, res.Device.Model)
	b.WriteString(banner + "\n")

	if res.Err != nil {
		b.WriteString(p.paint(p.styles.offline, "error: "+res.Err.Error()))
	} else {
		b.WriteString(p.paint(p.styles.output, res.Output))
	}
	if !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
	p.write(p.out, b.String())
}

// Changeset prints one line per device that connected, disconnected or
// changed state while watching.
func (p *Printer) Changeset(cs device.Changeset) {
	var b strings.Builder
	for _, d := range cs.Added {
		b.WriteString(p.paint(p.styles.online, "+ "+d.StatusString()) + "\n")
	}
	for _, d := range cs.Changed {
		b.WriteString(p.paint(p.styles.changed, "~ "+d.StatusString()) + "\n")
	}
	for _, d := range cs.Removed {
		b.WriteString(p.paint(p.styles.offline, "- "+d.StatusString()) + "\n")
	}
	if b.Len() > 0 {
		p.write(p.out, b.String())
	}
}

// Error prints err to the error stream.
func (p *Printer) Error(err error) {
	p.write(p.errOut, p.paint(p.styles.offline, "error: "+err.Error())+"\n")
}

// Outcome reports the "no usable devices" errors of runner.ExecuteOnline.
// It returns true when err is nil or was reported, and false when the
// caller still has to deal with err.
func (p *Printer) Outcome(err error) bool {
	var offline *runner.OfflineError
	switch {
	case err == nil:
		return true
	case errors.As(err, &offline):
		p.Offline(offline.Devices)
		return true
	case errors.Is(err, runner.ErrNoDevices):
		p.NoDevices()
		return true
	default:
		return false
	}
}

// paint applies style line by line so multi-line text is not padded into
// a block and newlines stay uncoloured.
func (p *Printer) paint(style lipgloss.Style, text string) string {
	if !p.color || text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Printer) write(w io.Writer, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(w, s) //nolint:errcheck // terminal output is best effort
}
