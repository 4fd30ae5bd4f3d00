package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar renders step progress on a single terminal line
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	current int
	width   int
	message string
	noColor bool
}

// NewProgressBar creates a progress bar on the default logger's output
func NewProgressBar(total int, message string) *ProgressBar {
	w, noColor := defaultOutput()
	return &ProgressBar{
		w:       w,
		total:   total,
		width:   40,
		message: message,
		noColor: noColor,
	}
}

// Update sets the current value and redraws
func (p *ProgressBar) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.draw()
}

// Increment increments the progress bar by 1
func (p *ProgressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	p.draw()
}

// Finish draws the final state and ends the line
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draw()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) draw() {
	if p.total <= 0 {
		return
	}
	current := p.current
	if current > p.total {
		current = p.total
	}
	percent := float64(current) / float64(p.total)
	filled := int(percent * float64(p.width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)

	if p.noColor {
		fmt.Fprintf(p.w, "\r%s: [%s] %d/%d", p.message, bar, current, p.total)
		return
	}
	fmt.Fprintf(p.w, "\r%s: %s %d/%d", p.message, colorBar.Sprint(bar), current, p.total)
}
