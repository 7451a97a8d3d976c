package errors

import "fmt"

// Catalog error codes (CAT100-199). Each drops one declaration.
const (
	// ErrInvalidDeclaration indicates a declaration failed field validation.
	ErrInvalidDeclaration Code = "CAT101"
	// ErrInvalidPattern indicates a type, method or argument pattern cannot be compiled.
	ErrInvalidPattern Code = "CAT102"
	// ErrUnsupportedBinding indicates a hook declares a binding kind it cannot receive.
	ErrUnsupportedBinding Code = "CAT103"
	// ErrBindingPosition indicates a RETURN, OPTIONAL_RETURN or THROWABLE binding is not first.
	ErrBindingPosition Code = "CAT104"
	// ErrDuplicateBinding indicates a hook binds the return value or throwable twice.
	ErrDuplicateBinding Code = "CAT105"
	// ErrNoHooks indicates an advice declares no hook at all.
	ErrNoHooks Code = "CAT106"
	// ErrNegativeArgIndex indicates a METHOD_ARG binding with a negative index.
	ErrNegativeArgIndex Code = "CAT107"
	// ErrUnknownBinding indicates an unrecognized binding kind.
	ErrUnknownBinding Code = "CAT108"
	// ErrUnknownModifier indicates an unrecognized method modifier.
	ErrUnknownModifier Code = "CAT109"
	// ErrInvalidMixin indicates a mixin declaration failed validation.
	ErrInvalidMixin Code = "CAT110"
)

// NewInvalidDeclaration creates a CAT101 error
func NewInvalidDeclaration(subject, field, rule string) *Diagnostic {
	return newDiagnostic(
		ErrInvalidDeclaration,
		"invalid_declaration",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Field %s failed validation rule %q", field, rule),
		subject,
	)
}

// NewInvalidPattern creates a CAT102 error
func NewInvalidPattern(subject, pattern string, cause error) *Diagnostic {
	return newDiagnostic(
		ErrInvalidPattern,
		"invalid_pattern",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Pattern %q cannot be compiled: %v", pattern, cause),
		subject,
	)
}

// NewUnsupportedBinding creates a CAT103 error
func NewUnsupportedBinding(subject, hook, kind string) *Diagnostic {
	return newDiagnostic(
		ErrUnsupportedBinding,
		"unsupported_binding",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Hook %s cannot bind %s", hook, kind),
		subject,
	).WithActual(kind)
}

// NewBindingPosition creates a CAT104 error
func NewBindingPosition(subject, hook, kind string, position int) *Diagnostic {
	return newDiagnostic(
		ErrBindingPosition,
		"binding_position",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Hook %s binds %s at position %d", hook, kind, position),
		subject,
	).WithExpected("position 0").
		WithSuggestion(fmt.Sprintf("Declare %s as the first parameter of %s", kind, hook))
}

// NewDuplicateBinding creates a CAT105 error
func NewDuplicateBinding(subject, hook, kind string) *Diagnostic {
	return newDiagnostic(
		ErrDuplicateBinding,
		"duplicate_binding",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Hook %s binds %s more than once", hook, kind),
		subject,
	)
}

// NewNoHooks creates a CAT106 error
func NewNoHooks(subject string) *Diagnostic {
	return newDiagnostic(
		ErrNoHooks,
		"no_hooks",
		CategoryCatalog,
		SeverityError,
		"Advice declares no hooks",
		subject,
	).WithSuggestion("Declare at least one of isEnabled, onBefore, onReturn, onThrow, onAfter")
}

// NewNegativeArgIndex creates a CAT107 error
func NewNegativeArgIndex(subject, hook string, index int) *Diagnostic {
	return newDiagnostic(
		ErrNegativeArgIndex,
		"negative_arg_index",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Hook %s binds METHOD_ARG with index %d", hook, index),
		subject,
	).WithExpected("index >= 0")
}

// NewUnknownBinding creates a CAT108 error
func NewUnknownBinding(subject, hook, kind string) *Diagnostic {
	return newDiagnostic(
		ErrUnknownBinding,
		"unknown_binding",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Hook %s declares unknown binding %q", hook, kind),
		subject,
	).WithExpected("TARGET, METHOD_ARG, METHOD_ARG_ARRAY, METHOD_NAME, RETURN, OPTIONAL_RETURN, TRAVELER or THROWABLE")
}

// NewUnknownModifier creates a CAT109 error
func NewUnknownModifier(subject, modifier string) *Diagnostic {
	return newDiagnostic(
		ErrUnknownModifier,
		"unknown_modifier",
		CategoryCatalog,
		SeverityError,
		fmt.Sprintf("Unknown method modifier %q", modifier),
		subject,
	)
}

// NewInvalidMixin creates a CAT110 error
func NewInvalidMixin(subject, reason string) *Diagnostic {
	return newDiagnostic(
		ErrInvalidMixin,
		"invalid_mixin",
		CategoryCatalog,
		SeverityError,
		reason,
		subject,
	)
}
