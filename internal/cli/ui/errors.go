package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	werrors "github.com/scottag99/glowroot/internal/weaving/errors"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Details      []string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

func levelColors(level ErrorLevel, noColor bool) (header, body *color.Color, symbol string) {
	switch level {
	case ErrorLevelWarning:
		header, body, symbol = color.New(color.FgYellow, color.Bold), color.New(color.FgYellow), "⚠️"
	case ErrorLevelInfo:
		header, body, symbol = color.New(color.FgCyan, color.Bold), color.New(color.FgCyan), "ℹ️"
	default:
		header, body, symbol = color.New(color.FgRed, color.Bold), color.New(color.FgRed), "❌"
	}
	if noColor {
		header.DisableColor()
		body.DisableColor()
	}
	return header, body, symbol
}

// FormatError renders a message with optional details, suggestions and
// help commands
//
// Example output:
//
//	❌ TYPE NOT FOUND: app.Sevice
//
//	   Did you mean: app.Service?
//
//	   → List units: glowroot inspect --list
func FormatError(opts ErrorOptions) string {
	var b strings.Builder
	header, body, symbol := levelColors(opts.Level, opts.NoColor)

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}
	for _, d := range opts.Details {
		body.Fprintf(&b, "   %s\n", d)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow := color.New(color.FgYellow)
		if opts.NoColor {
			yellow.DisableColor()
		}
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// WriteError writes a formatted message to w
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// TypeNotFoundError reports a unit missing from the classpath
func TypeNotFoundError(name string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelError,
		Context:     "TYPE NOT FOUND",
		Problem:     name,
		Suggestions: suggestions,
		HelpCommands: []string{
			"List units: glowroot inspect --list",
		},
		NoColor: noColor,
	})
}

// ConfigError reports an unusable configuration
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelError,
		Context: "CONFIGURATION ERROR",
		Problem: message,
		HelpCommands: []string{
			"View config: cat glowroot.yaml",
			"Get help: glowroot --help",
		},
		NoColor: noColor,
	})
}

// Warning creates a warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: message, NoColor: noColor})
}

func severityLevel(s werrors.Severity) ErrorLevel {
	switch s {
	case werrors.SeverityError:
		return ErrorLevelError
	case werrors.SeverityWarning:
		return ErrorLevelWarning
	default:
		return ErrorLevelInfo
	}
}

// FormatDiagnostic renders one weaving diagnostic
func FormatDiagnostic(d *werrors.Diagnostic, noColor bool) string {
	problem := d.Message
	if d.Subject != "" {
		problem = d.Subject + ": " + problem
	}
	opts := ErrorOptions{
		Level:   severityLevel(d.Severity),
		Context: string(d.Code),
		Problem: problem,
		NoColor: noColor,
	}
	if d.Source != "" {
		opts.Details = append(opts.Details, "in "+d.Source)
	}
	if d.Suggestion != "" {
		opts.HelpCommands = []string{d.Suggestion}
	}
	return FormatError(opts)
}

// WriteDiagnostics writes every diagnostic of l followed by a summary line.
// Nothing is written for an empty list.
func WriteDiagnostics(w io.Writer, l werrors.List, noColor bool) {
	if len(l) == 0 {
		return
	}
	for _, d := range l {
		fmt.Fprint(w, FormatDiagnostic(d, noColor))
	}
	errs, warns, infos := l.Count()
	gray := color.New(color.FgHiBlack)
	if noColor {
		gray.DisableColor()
	}
	gray.Fprintf(w, "%d error(s), %d warning(s), %d info\n", errs, warns, infos)
}
