package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Guillaume29200/esport-cms/internal/state"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorBold   = "\033[1m"
)

// printer writes status lines, colored only when the writer is a terminal.
type printer struct {
	w        io.Writer
	colorize bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, colorize: isTerminal(w)}
}

func (p *printer) paint(text, color string) string {
	if !p.colorize || color == "" {
		return text
	}
	return color + text + ColorReset
}

func (p *printer) Success(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint("✓", ColorGreen), fmt.Sprintf(format, args...))
}

func (p *printer) Warning(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint("⚠", ColorYellow), fmt.Sprintf(format, args...))
}

func (p *printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint("ℹ", ColorBlue), fmt.Sprintf(format, args...))
}

func statusColor(s state.Status) string {
	switch s {
	case state.StatusRunning:
		return ColorGreen
	case state.StatusFailed, state.StatusSkipped:
		return ColorRed
	case state.StatusDisabled, state.StatusStopped:
		return ColorYellow
	default:
		return ""
	}
}

// isTerminal checks if w is a character device
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// formatAge formats how long ago t was, for display
func formatAge(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	d := now.Sub(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
