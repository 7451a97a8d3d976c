package errors

import (
	"fmt"
	"strings"
)

// FormatDiagnostic returns a human-readable message for terminal output
func FormatDiagnostic(d *Diagnostic) string {
	var b strings.Builder

	source := d.Source
	if source == "" {
		source = "<config>"
	}

	fmt.Fprintf(&b, "%s %s [%s] in %s\n", severityIcon(d.Severity), categoryDisplayName(d.Category), d.Code, source)
	if d.Subject != "" {
		fmt.Fprintf(&b, "  %s: %s\n", d.Subject, d.Message)
	} else {
		fmt.Fprintf(&b, "  %s\n", d.Message)
	}

	if d.Expected != "" || d.Actual != "" {
		b.WriteString("\n")
		if d.Expected != "" {
			fmt.Fprintf(&b, "  Expected: %s\n", d.Expected)
		}
		if d.Actual != "" {
			fmt.Fprintf(&b, "  Actual:   %s\n", d.Actual)
		}
	}

	if d.Suggestion != "" {
		fmt.Fprintf(&b, "\n💡 %s\n", d.Suggestion)
	}

	return b.String()
}

// FormatList returns a formatted string of all diagnostics
func FormatList(l List) string {
	if len(l) == 0 {
		return "no diagnostics"
	}

	var b strings.Builder

	errCount, warnCount, infoCount := l.Count()
	fmt.Fprintf(&b, "%d error(s), %d warning(s), %d info\n\n", errCount, warnCount, infoCount)

	for i, d := range l {
		if i > 0 {
			b.WriteString("\n" + strings.Repeat("-", 80) + "\n\n")
		}
		b.WriteString(d.Format())
	}

	return b.String()
}

// FormatCompact returns a compact one-line format
func FormatCompact(d *Diagnostic) string {
	subject := d.Subject
	if subject == "" {
		subject = "<unknown>"
	}
	if d.Source != "" {
		subject = d.Source + ":" + subject
	}
	return fmt.Sprintf("%s: %s: %s [%s]", subject, d.Severity, d.Message, d.Code)
}

func severityIcon(severity Severity) string {
	switch severity {
	case SeverityError:
		return "❌"
	case SeverityWarning:
		return "⚠️ "
	case SeverityInfo:
		return "ℹ️ "
	default:
		return "❓"
	}
}

func categoryDisplayName(category Category) string {
	switch category {
	case CategoryCatalog:
		return "Pointcut Error"
	case CategoryHierarchy:
		return "Hierarchy Warning"
	case CategoryWeave:
		return "Weaving Warning"
	case CategoryBinding:
		return "Binding Warning"
	default:
		return "Weaving Diagnostic"
	}
}
