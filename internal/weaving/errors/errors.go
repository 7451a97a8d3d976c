// Package errors provides structured diagnostics for the weaving engine.
// It defines diagnostic codes, categories, and formatting for both
// human-readable terminal output and machine-parseable JSON.
package errors

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Code represents a unique diagnostic code
type Code string

// Category represents the category of a diagnostic
type Category string

const (
	// CategoryCatalog represents pointcut declaration errors (CAT100-199)
	CategoryCatalog Category = "catalog"
	// CategoryHierarchy represents ancestor resolution gaps (HIE200-299)
	CategoryHierarchy Category = "hierarchy"
	// CategoryWeave represents per-method weaving limitations (WEV300-399)
	CategoryWeave Category = "weave"
	// CategoryBinding represents advice binding shape mismatches (BND400-499)
	CategoryBinding Category = "binding"
)

// Severity indicates the severity level of a diagnostic
type Severity string

const (
	// SeverityError drops the declaration or unit it applies to
	SeverityError Severity = "error"
	// SeverityWarning indicates weaving proceeded in a degraded way
	SeverityWarning Severity = "warning"
	// SeverityInfo indicates informational messages
	SeverityInfo Severity = "info"
)

// Diagnostic is a structured report about one declaration, type or method.
type Diagnostic struct {
	// Code is the unique diagnostic code (e.g., "CAT103", "BND401")
	Code Code `json:"code"`
	// Type is a machine-readable diagnostic type identifier
	Type string `json:"type"`
	// Category is the diagnostic category
	Category Category `json:"category"`
	// Severity is the diagnostic severity level
	Severity Severity `json:"severity"`
	// Message is the primary message
	Message string `json:"message"`
	// Subject names what the diagnostic is about (declaration, type or method)
	Subject string `json:"subject,omitempty"`
	// Source is the file the subject was declared in (optional)
	Source string `json:"source,omitempty"`
	// Expected describes what was expected (optional)
	Expected string `json:"expected,omitempty"`
	// Actual describes what was actually found (optional)
	Actual string `json:"actual,omitempty"`
	// Suggestion provides a hint for fixing the problem (optional)
	Suggestion string `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (d *Diagnostic) Error() string {
	return FormatCompact(d)
}

// Format returns a human-readable message for terminal output
func (d *Diagnostic) Format() string {
	return FormatDiagnostic(d)
}

// ToJSON returns the diagnostic as a JSON string
func (d *Diagnostic) ToJSON() (string, error) {
	bytes, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// WithSource sets the file the subject was declared in
func (d *Diagnostic) WithSource(source string) *Diagnostic {
	d.Source = source
	return d
}

// WithExpected sets the expected value
func (d *Diagnostic) WithExpected(expected string) *Diagnostic {
	d.Expected = expected
	return d
}

// WithActual sets the actual value
func (d *Diagnostic) WithActual(actual string) *Diagnostic {
	d.Actual = actual
	return d
}

// WithSuggestion sets a suggestion for fixing the problem
func (d *Diagnostic) WithSuggestion(suggestion string) *Diagnostic {
	d.Suggestion = suggestion
	return d
}

// Log writes the diagnostic to logger at a level matching its severity.
func (d *Diagnostic) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("code", string(d.Code)),
		zap.String("category", string(d.Category)),
	}
	if d.Subject != "" {
		fields = append(fields, zap.String("subject", d.Subject))
	}
	if d.Source != "" {
		fields = append(fields, zap.String("source", d.Source))
	}
	if d.Expected != "" {
		fields = append(fields, zap.String("expected", d.Expected))
	}
	if d.Actual != "" {
		fields = append(fields, zap.String("actual", d.Actual))
	}
	switch d.Severity {
	case SeverityError:
		logger.Error(d.Message, fields...)
	case SeverityWarning:
		logger.Warn(d.Message, fields...)
	default:
		logger.Info(d.Message, fields...)
	}
}

// List is a collection of diagnostics
type List []*Diagnostic

// Error implements the error interface
func (l List) Error() string {
	if len(l) == 0 {
		return "no diagnostics"
	}
	return FormatList(l)
}

// HasErrors returns true if the list contains any errors (excludes warnings/info)
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if the list contains any warnings
func (l List) HasWarnings() bool {
	for _, d := range l {
		if d.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// ToJSON returns all diagnostics as a JSON array
func (l List) ToJSON() (string, error) {
	bytes, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Count returns the number of diagnostics by severity
func (l List) Count() (errors, warnings, info int) {
	for _, d := range l {
		switch d.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		case SeverityInfo:
			info++
		}
	}
	return
}

// WithCode returns the diagnostics carrying the given code
func (l List) WithCode(code Code) List {
	var out List
	for _, d := range l {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

func newDiagnostic(
	code Code,
	typ string,
	category Category,
	severity Severity,
	message string,
	subject string,
) *Diagnostic {
	return &Diagnostic{
		Code:     code,
		Type:     typ,
		Category: category,
		Severity: severity,
		Message:  message,
		Subject:  subject,
	}
}
