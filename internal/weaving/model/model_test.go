package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottag99/glowroot/internal/weaving/code"
)

func TestAnalyze(t *testing.T) {
	u := code.NewUnit("app.Service", code.RootType, "app.Runnable", "app.Closeable")
	u.Methods = []*code.Method{
		{Access: code.AccPublic, Name: "run", Return: code.Void},
		{Access: code.AccPublic | code.AccNative, Name: "peek", Return: "int"},
		{Access: code.AccSynthetic, Name: "access$000", Params: []string{"app.Service"}, Return: "int"},
		{Access: code.AccPublic | code.AccFinal, Name: "close", Return: code.Void, Exceptions: []string{"app.IOError"}},
	}

	td := Analyze(u)
	require.NotNil(t, td)

	assert.Equal(t, "app.Service", td.Name())
	assert.Empty(t, td.Super(), "root supertype is never modeled")
	assert.Equal(t, []string{"app.Runnable", "app.Closeable"}, td.Interfaces())
	assert.False(t, td.IsInterface())
	assert.False(t, td.HasReweavableAdvice())

	require.Len(t, td.Methods(), 2, "native and synthetic methods are excluded")
	assert.Equal(t, "run", td.Methods()[0].Name)
	closeM := td.Method("close", nil, code.Void)
	require.NotNil(t, closeM)
	assert.True(t, closeM.IsFinal())
	assert.Equal(t, []string{"app.IOError"}, closeM.Exceptions)
}

func TestAnalyzeRootType(t *testing.T) {
	assert.Nil(t, Analyze(code.NewUnit(code.RootType, "")))
}

func TestWithReweavableCopies(t *testing.T) {
	td := NewBuilder("app.A").Build()
	rw := td.WithReweavable(true)

	assert.True(t, rw.HasReweavableAdvice())
	assert.False(t, td.HasReweavableAdvice())
}

func TestBuilderReusePanics(t *testing.T) {
	b := NewBuilder("app.A")
	b.Build()
	assert.Panics(t, func() { b.Build() })
}
