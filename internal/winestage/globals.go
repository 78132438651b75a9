package winestage

import (
	"io"
	"os"

	"github.com/gookit/color"
)

var (
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// DefaultConfigFile is the system-wide configuration file.
	DefaultConfigFile = "/etc/winestage.conf"
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// Console bundles operator output so components never print to globals directly.
// A nil *Console is valid and writes to stdout.
type Console struct {
	Out   io.Writer
	Debug bool
}

// NewConsole returns a console writing to w.
func NewConsole(w io.Writer, debug bool) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{Out: w, Debug: debug}
}

func (c *Console) writer() io.Writer {
	if c == nil || c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// Step prints "-> msg" in the success style.
func (c *Console) Step(format string, a ...any) {
	w := c.writer()
	io.WriteString(w, colArrow.Sprint("-> "))
	io.WriteString(w, colSuccess.Sprintf(format, a...)+"\n")
}

// Warn prints "-> msg" in the warning style.
func (c *Console) Warn(format string, a ...any) {
	w := c.writer()
	io.WriteString(w, colArrow.Sprint("-> "))
	io.WriteString(w, colWarn.Sprintf(format, a...)+"\n")
}

// Error prints "-> msg" in the error style.
func (c *Console) Error(format string, a ...any) {
	w := c.writer()
	io.WriteString(w, colArrow.Sprint("-> "))
	io.WriteString(w, colError.Sprintf(format, a...)+"\n")
}

// Note prints an indented informational line.
func (c *Console) Note(format string, a ...any) {
	io.WriteString(c.writer(), colNote.Sprintf("   "+format, a...)+"\n")
}

// Debugf prints only when debug output is enabled.
func (c *Console) Debugf(format string, a ...any) {
	if c == nil || !c.Debug {
		return
	}
	io.WriteString(c.writer(), colInfo.Sprintf(format, a...))
}
