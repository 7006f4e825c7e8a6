// Package cli provides terminal output helpers for the storefront command:
// status lines, a spinner for long-running operations and aligned tables.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// Printer writes status messages, colorized when attached to a terminal.
type Printer struct {
	w        io.Writer
	colorize bool
}

// NewPrinter returns a printer for w. Color is enabled only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, colorize: isTerminal(w)}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Colorize returns text wrapped in color when output is a terminal.
func (p *Printer) Colorize(text, color string) string {
	if !p.colorize {
		return text
	}
	return color + text + ColorReset
}

func (p *Printer) status(symbol, color, message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize(symbol, color), message)
}

// Success prints a success message
func (p *Printer) Success(format string, args ...interface{}) {
	p.status("✓", ColorGreen, fmt.Sprintf(format, args...))
}

// Error prints an error message
func (p *Printer) Error(format string, args ...interface{}) {
	p.status("✗", ColorRed, fmt.Sprintf(format, args...))
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("⚠", ColorYellow, fmt.Sprintf(format, args...))
}

// Info prints an info message
func (p *Printer) Info(format string, args ...interface{}) {
	p.status("ℹ", ColorBlue, fmt.Sprintf(format, args...))
}

// Table writes rows aligned in columns under a bold header.
func (p *Printer) Table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, p.Colorize(strings.Join(header, "\t"), ColorBold))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Spinner represents a loading spinner
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	mu       sync.Mutex
	printer  *Printer
	started  time.Time
	active   bool
	colorize bool
	done     chan struct{}
	stopped  chan struct{}
}

// NewSpinner creates a spinner that animates only on terminals; elsewhere it
// prints nothing until it finishes.
func (p *Printer) NewSpinner(prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		printer:  p,
		colorize: p.colorize,
	}
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.started = time.Now()
	if !s.colorize {
		return
	}
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.render()
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner and returns how long it ran.
func (s *Spinner) Stop() time.Duration {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0
	}
	s.active = false
	done, stopped := s.done, s.stopped
	s.mu.Unlock()

	if done != nil {
		close(done)
		<-stopped
		// Clear the line
		fmt.Fprint(s.printer.w, "\r"+strings.Repeat(" ", 80)+"\r")
	}
	return time.Since(s.started)
}

// Success stops the spinner and shows a success message with the elapsed time.
func (s *Spinner) Success(message string) {
	elapsed := s.Stop()
	s.printer.Success("%s (%s)", message, FormatDuration(elapsed))
}

// Error stops the spinner and shows an error message
func (s *Spinner) Error(message string) {
	s.Stop()
	s.printer.Error("%s", message)
}

// render renders the spinner
func (s *Spinner) render() {
	frame := s.printer.Colorize(s.frames[s.current], ColorCyan)
	fmt.Fprintf(s.printer.w, "\r%s %s", frame, s.prefix)
}

// isTerminal checks if w is a terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
