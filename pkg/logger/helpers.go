package logger

import (
	"fmt"
	"io"
	"strings"
)

// Icons and symbols for different log types
const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconRocket  = "🚀"
	IconConfig  = "⚙️"
	IconRefresh = "🔄"
	IconDrone   = "🛸"
	IconDot     = "•"
	IconArrow   = "→"
)

// Success logs a success message with a green checkmark
func Success(args ...interface{}) {
	defaultLogger.Info(IconSuccess + " " + fmt.Sprint(args...))
}

// Successf logs a formatted success message
func Successf(format string, args ...interface{}) {
	Success(fmt.Sprintf(format, args...))
}

// Progress logs a progress message with a refresh icon
func Progress(args ...interface{}) {
	defaultLogger.Info(IconRefresh + " " + fmt.Sprint(args...))
}

// Progressf logs a formatted progress message
func Progressf(format string, args ...interface{}) {
	Progress(fmt.Sprintf(format, args...))
}

func defaultOutput() (io.Writer, bool) {
	if l, ok := defaultLogger.(*logger); ok {
		l.out.mu.Lock()
		defer l.out.mu.Unlock()
		return l.out.writer, l.out.noColor
	}
	return io.Discard, true
}

// LogSection creates a visual section separator
func LogSection(title string) {
	w, noColor := defaultOutput()
	line := strings.Repeat("=", 50)

	if noColor {
		fmt.Fprintf(w, "%s\n%s\n%s\n", line, title, line)
		return
	}
	fmt.Fprintln(w, colorPrefix.Sprint(line))
	fmt.Fprintln(w, colorTitle.Sprint(title))
	fmt.Fprintln(w, colorPrefix.Sprint(line))
}

// LogSubSection creates a visual subsection separator
func LogSubSection(title string) {
	w, noColor := defaultOutput()
	line := strings.Repeat("-", 40)

	if noColor {
		fmt.Fprintf(w, "%s\n%s\n%s\n", line, title, line)
		return
	}
	fmt.Fprintln(w, colorTime.Sprint(line))
	fmt.Fprintln(w, colorTime.Sprint(title))
	fmt.Fprintln(w, colorTime.Sprint(line))
}

// LogList logs a list of items with bullets
func LogList(title string, items []string) {
	Info(title)
	w, _ := defaultOutput()
	for _, item := range items {
		fmt.Fprintf(w, "  %s %s\n", IconDot, item)
	}
}

// LogKeyValue logs a key-value pair with nice formatting
func LogKeyValue(key string, value interface{}) {
	w, noColor := defaultOutput()
	if noColor {
		fmt.Fprintf(w, "%s: %v\n", key, value)
		return
	}
	fmt.Fprintf(w, "%s %v\n", colorPrefix.Sprint(key+":"), value)
}

// Table represents a simple table for logging
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a new table
func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(values ...string) {
	t.rows = append(t.rows, values)
}

// Print prints the table to the default logger's output
func (t *Table) Print() {
	w, _ := defaultOutput()
	t.Fprint(w)
}

// Fprint writes the table to w
func (t *Table) Fprint(w io.Writer) {
	if len(t.headers) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range t.headers {
		fmt.Fprintf(w, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(w, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(w)
	}
}
