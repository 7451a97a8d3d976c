package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestCodeUniqueness(t *testing.T) {
	codes := make(map[Code]bool)
	all := []Code{
		ErrInvalidDeclaration, ErrInvalidPattern, ErrUnsupportedBinding,
		ErrBindingPosition, ErrDuplicateBinding, ErrNoHooks,
		ErrNegativeArgIndex, ErrUnknownBinding, ErrUnknownModifier, ErrInvalidMixin,
		ErrAncestorNotFound, ErrAncestorRestricted, ErrAncestorMalformed,
		ErrFinalInheritedMethod, ErrConstructorMetricWrapper,
		ErrMixinImplementation, ErrMixinMemberConflict,
		ErrReturnOnVoid, ErrArgIndexOutOfRange, ErrTravelerWithoutOnBefore,
	}
	for _, code := range all {
		if codes[code] {
			t.Errorf("Duplicate diagnostic code %s", code)
		}
		codes[code] = true
	}
}

func TestCodeRanges(t *testing.T) {
	tests := []struct {
		d      *Diagnostic
		prefix string
	}{
		{NewNoHooks("a"), "CAT"},
		{NewAncestorGap(ErrAncestorRestricted, "a", "b", fmt.Errorf("denied")), "HIE"},
		{NewFinalInheritedMethod("a", "m", "b"), "WEV"},
		{NewReturnOnVoid("a", "onReturn"), "BND"},
	}
	for _, tt := range tests {
		assert.True(t, strings.HasPrefix(string(tt.d.Code), tt.prefix), "code %s", tt.d.Code)
	}
}

func TestFormat(t *testing.T) {
	d := NewBindingPosition("servlet", "onReturn", "RETURN", 1).WithSource("servlet.yaml")

	out := d.Format()
	assert.Contains(t, out, "Pointcut Error [CAT104] in servlet.yaml")
	assert.Contains(t, out, "servlet: Hook onReturn binds RETURN at position 1")
	assert.Contains(t, out, "Expected: position 0")

	assert.Equal(t, "servlet.yaml:servlet: error: Hook onReturn binds RETURN at position 1 [CAT104]", d.Error())
}

func TestToJSON(t *testing.T) {
	d := NewUnknownModifier("servlet", "volatile")

	out, err := d.ToJSON()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "CAT109", parsed["code"])
	assert.Equal(t, "catalog", parsed["category"])
	assert.Equal(t, "servlet", parsed["subject"])
}

func TestList(t *testing.T) {
	l := List{
		NewNoHooks("a"),
		NewReturnOnVoid("b", "onReturn"),
		NewTravelerWithoutOnBefore("b", "onAfter"),
	}

	assert.True(t, l.HasErrors())
	assert.True(t, l.HasWarnings())
	errs, warns, infos := l.Count()
	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, warns)
	assert.Equal(t, 0, infos)
	assert.Len(t, l.WithCode(ErrReturnOnVoid), 1)
	assert.Contains(t, l.Error(), "1 error(s), 2 warning(s)")
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	NewArgIndexOutOfRange("app.A.run()", "onBefore", 3, 1).Log(logger)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "BND402", entry.ContextMap()["code"])
	assert.Equal(t, "app.A.run()", entry.ContextMap()["subject"])
}
