package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ProgressBar redraws a single line as work completes
type ProgressBar struct {
	writer  io.Writer
	total   int
	current int
	width   int
	message string
	noColor bool
}

// NewProgressBar creates a bar over total steps
func NewProgressBar(w io.Writer, total int, message string, noColor bool) *ProgressBar {
	return &ProgressBar{writer: w, total: total, width: 30, message: message, noColor: noColor}
}

// Step advances the bar by one and shows label next to it
func (p *ProgressBar) Step(label string) {
	if p.current < p.total {
		p.current++
	}
	p.render(label)
}

// Finish completes the bar and prints a success line
func (p *ProgressBar) Finish(message string) {
	p.current = p.total
	p.render("")
	fmt.Fprintln(p.writer)
	WriteSuccess(p.writer, message, p.noColor)
}

func (p *ProgressBar) render(label string) {
	if p.total == 0 {
		return
	}
	filled := p.width * p.current / p.total

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if p.noColor {
		cyan.DisableColor()
		gray.DisableColor()
	}
	var bar strings.Builder
	bar.WriteString("[")
	cyan.Fprint(&bar, strings.Repeat("█", filled))
	gray.Fprint(&bar, strings.Repeat("░", p.width-filled))
	bar.WriteString("]")

	line := fmt.Sprintf("\r%s %d/%d %s", bar.String(), p.current, p.total, p.message)
	if label != "" {
		line += " " + label
	}
	fmt.Fprint(p.writer, line)
}
