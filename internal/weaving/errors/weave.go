package errors

import "fmt"

// Hierarchy warning codes (HIE200-299)
const (
	// ErrAncestorNotFound indicates an ancestor unit could not be located.
	ErrAncestorNotFound Code = "HIE201"
	// ErrAncestorRestricted indicates an ancestor unit is not visible to the loader.
	ErrAncestorRestricted Code = "HIE202"
	// ErrAncestorMalformed indicates an ancestor unit could not be decoded.
	ErrAncestorMalformed Code = "HIE203"
)

// Weave warning codes (WEV300-399)
const (
	// ErrFinalInheritedMethod indicates an inherited method fulfilling an
	// interface cannot be overridden and is left unwoven.
	ErrFinalInheritedMethod Code = "WEV301"
	// ErrConstructorMetricWrapper indicates metric wrapper methods were
	// requested for a constructor.
	ErrConstructorMetricWrapper Code = "WEV302"
	// ErrMixinImplementation indicates a mixin implementation unit could not be loaded.
	ErrMixinImplementation Code = "WEV303"
	// ErrMixinMemberConflict indicates a mixin member collides with a member of the target.
	ErrMixinMemberConflict Code = "WEV304"
)

// Binding warning codes (BND400-499). Each substitutes a default value.
const (
	// ErrReturnOnVoid indicates a RETURN binding on a method returning nothing.
	ErrReturnOnVoid Code = "BND401"
	// ErrArgIndexOutOfRange indicates a METHOD_ARG index beyond the method's arguments.
	ErrArgIndexOutOfRange Code = "BND402"
	// ErrTravelerWithoutOnBefore indicates a TRAVELER binding without a traveler-producing onBefore.
	ErrTravelerWithoutOnBefore Code = "BND403"
)

// NewAncestorGap creates a HIE201, HIE202 or HIE203 warning
func NewAncestorGap(code Code, subject, ancestor string, cause error) *Diagnostic {
	typ := "ancestor_not_found"
	switch code {
	case ErrAncestorRestricted:
		typ = "ancestor_restricted"
	case ErrAncestorMalformed:
		typ = "ancestor_malformed"
	}
	return newDiagnostic(
		code,
		typ,
		CategoryHierarchy,
		SeverityWarning,
		fmt.Sprintf("Ancestor %s could not be resolved: %v", ancestor, cause),
		subject,
	).WithSuggestion("Matching proceeds with a partial ancestor chain")
}

// NewFinalInheritedMethod creates a WEV301 warning
func NewFinalInheritedMethod(subject, method, owner string) *Diagnostic {
	return newDiagnostic(
		ErrFinalInheritedMethod,
		"final_inherited_method",
		CategoryWeave,
		SeverityWarning,
		fmt.Sprintf("Inherited method %s of %s is final and cannot be woven through interface fulfillment", method, owner),
		subject,
	)
}

// NewConstructorMetricWrapper creates a WEV302 warning
func NewConstructorMetricWrapper(subject string) *Diagnostic {
	return newDiagnostic(
		ErrConstructorMetricWrapper,
		"constructor_metric_wrapper",
		CategoryWeave,
		SeverityWarning,
		"Metric wrapper methods are not generated for constructors",
		subject,
	)
}

// NewMixinImplementation creates a WEV303 warning
func NewMixinImplementation(subject, impl string, cause error) *Diagnostic {
	return newDiagnostic(
		ErrMixinImplementation,
		"mixin_implementation",
		CategoryWeave,
		SeverityWarning,
		fmt.Sprintf("Mixin implementation %s could not be loaded: %v", impl, cause),
		subject,
	)
}

// NewMixinMemberConflict creates a WEV304 warning
func NewMixinMemberConflict(subject, member string) *Diagnostic {
	return newDiagnostic(
		ErrMixinMemberConflict,
		"mixin_member_conflict",
		CategoryWeave,
		SeverityWarning,
		fmt.Sprintf("Mixin member %s already exists on the target and was skipped", member),
		subject,
	)
}

// NewReturnOnVoid creates a BND401 warning
func NewReturnOnVoid(subject, hook string) *Diagnostic {
	return newDiagnostic(
		ErrReturnOnVoid,
		"return_on_void",
		CategoryBinding,
		SeverityWarning,
		fmt.Sprintf("Hook %s binds RETURN but the method returns void; null is passed", hook),
		subject,
	).WithSuggestion("Bind OPTIONAL_RETURN to receive void and non-void returns uniformly")
}

// NewArgIndexOutOfRange creates a BND402 warning
func NewArgIndexOutOfRange(subject, hook string, index, argc int) *Diagnostic {
	return newDiagnostic(
		ErrArgIndexOutOfRange,
		"arg_index_out_of_range",
		CategoryBinding,
		SeverityWarning,
		fmt.Sprintf("Hook %s binds METHOD_ARG %d but the method has %d argument(s); a default is passed", hook, index, argc),
		subject,
	)
}

// NewTravelerWithoutOnBefore creates a BND403 warning
func NewTravelerWithoutOnBefore(subject, hook string) *Diagnostic {
	return newDiagnostic(
		ErrTravelerWithoutOnBefore,
		"traveler_without_on_before",
		CategoryBinding,
		SeverityWarning,
		fmt.Sprintf("Hook %s binds TRAVELER but onBefore returns nothing; null is passed", hook),
		subject,
	)
}
