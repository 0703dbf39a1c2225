package output

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Exchange is one request/response pair as seen by the harness.
type Exchange struct {
	RequestID  string
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	BodySize   int
	Duration   time.Duration
	Err        error
}

// formatValue truncates long values for display
func formatValue(v string, maxLen int) string {
	if len(v) > maxLen {
		return v[:maxLen] + "..."
	}
	return v
}

// ConsoleFormatter writes exchanges to a terminal. It is safe for concurrent use.
type ConsoleFormatter struct {
	mu      sync.Mutex
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) paint(attrs ...color.Attribute) func(a ...interface{}) string {
	c := color.New(attrs...)
	if f.noColor {
		c.DisableColor()
	}
	return c.SprintFunc()
}

// FormatExchange prints a single exchange.
func (f *ConsoleFormatter) FormatExchange(ex Exchange) {
	green := f.paint(color.FgGreen)
	red := f.paint(color.FgRed)
	yellow := f.paint(color.FgYellow)
	cyan := f.paint(color.FgCyan)
	bold := f.paint(color.Bold)

	f.mu.Lock()
	defer f.mu.Unlock()

	line := bold(ex.Method) + " " + ex.URL
	if ex.Err != nil {
		fmt.Fprintf(f.writer, "  %s %s %s\n", red("x"), line, red(fmt.Sprintf("(%v)", ex.Err)))
		return
	}

	status := fmt.Sprintf("%d", ex.StatusCode)
	switch {
	case ex.StatusCode >= 500:
		status = red(status)
	case ex.StatusCode >= 400:
		status = yellow(status)
	default:
		status = green(status)
	}

	fmt.Fprintf(f.writer, "  %s %s %s %s\n", status, line,
		cyan(fmt.Sprintf("(%dms)", ex.Duration.Milliseconds())),
		fmt.Sprintf("%dB", ex.BodySize))

	if !f.verbose {
		return
	}
	if ex.RequestID != "" {
		fmt.Fprintf(f.writer, "    Request-ID: %s\n", ex.RequestID)
	}
	names := make([]string, 0, len(ex.Header))
	for name := range ex.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(f.writer, "    %s: %s\n", name, formatValue(strings.Join(ex.Header[name], ", "), 100))
	}
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := f.paint(color.FgRed)

	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}
