package code

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUnit() *Unit {
	u := NewUnit("app.Counter", RootType, "app.Resettable")
	u.Access = AccPublic
	u.Fields = []Field{{Access: AccPrivate, Name: "n", Type: "int"}}

	add := &Method{Access: AccPublic, Name: "add", Params: []string{"int"}, Return: "int"}
	g := NewGenerator(add)
	g.LoadThis()
	g.Emit(Instruction{Op: OpGetField, Owner: "app.Counter", Name: "n"})
	g.LoadArg(0)
	g.Op(OpAdd)
	g.Op(OpReturnValue)
	add.Code = g.Code()
	add.MaxLocals = add.ArgSlots()

	u.Methods = append(u.Methods, add)
	return u
}

func TestEncodeDecode(t *testing.T) {
	u := sampleUnit()

	raw, err := Encode(u)
	require.NoError(t, err)
	assert.Equal(t, Magic, raw[:len(Magic)])

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	again, err := Encode(got)
	require.NoError(t, err)
	assert.Equal(t, raw, again, "canonical encoding should be deterministic")
}

func TestDecodeRejectsForeignBytes(t *testing.T) {
	_, err := Decode([]byte("not a unit"))
	assert.ErrorIs(t, err, ErrBadMagic)

	u := sampleUnit()
	u.Version = FormatVersion + 1
	raw, err := Encode(u)
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestVerify(t *testing.T) {
	t.Run("valid unit", func(t *testing.T) {
		assert.NoError(t, Verify(sampleUnit()))
	})

	tests := []struct {
		name   string
		mutate func(m *Method)
		want   string
	}{
		{
			name: "undefined jump target",
			mutate: func(m *Method) {
				m.Code = append([]Instruction{{Op: OpJump, Label: 9}}, m.Code...)
			},
			want: "undefined label L9",
		},
		{
			name: "local out of range",
			mutate: func(m *Method) {
				m.Code = append([]Instruction{{Op: OpNull}, {Op: OpStore, Index: 5}}, m.Code...)
			},
			want: "local 5 out of range",
		},
		{
			name: "falls off end",
			mutate: func(m *Method) {
				m.Code = m.Code[:len(m.Code)-1]
			},
			want: "falls off the end",
		},
		{
			name: "empty handler range",
			mutate: func(m *Method) {
				a, b := m.NewLabel(), m.NewLabel()
				m.Code = append([]Instruction{{Op: OpLabel, Label: a}, {Op: OpLabel, Label: b}}, m.Code...)
				m.Handlers = append(m.Handlers, Handler{Start: a, End: b, Target: a})
			},
			want: "covers no instructions",
		},
		{
			name: "duplicate label",
			mutate: func(m *Method) {
				m.Code = append([]Instruction{{Op: OpLabel, Label: 1}, {Op: OpLabel, Label: 1}}, m.Code...)
			},
			want: "placed more than once",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := sampleUnit()
			tt.mutate(u.Methods[0])

			err := Verify(u)
			require.Error(t, err)
			var verr *VerifyError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestGeneratorDefaults(t *testing.T) {
	m := &Method{Name: "f", Access: AccStatic, Return: Void}
	g := NewGenerator(m)
	g.PushDefault("long")
	g.PushDefault("double")
	g.PushDefault("boolean")
	g.PushDefault("app.Thing")
	g.PushDefault(Void)

	code := g.Code()
	require.Len(t, code, 4)
	assert.Equal(t, ConstInt, code[0].Const.Kind)
	assert.Equal(t, ConstFloat, code[1].Const.Kind)
	assert.Equal(t, ConstBool, code[2].Const.Kind)
	assert.Equal(t, OpNull, code[3].Op)
}

func TestGeneratorAllocatesFromMethod(t *testing.T) {
	m := &Method{Name: "f", Params: []string{"int", "int"}, Return: Void}
	g := NewGenerator(m)

	assert.Equal(t, 3, g.NewLocal(), "receiver and two args occupy slots 0..2")
	assert.Equal(t, 4, g.NewLocal())
	assert.Equal(t, 5, m.MaxLocals)
	assert.Equal(t, Label(1), g.NewLabel())
	assert.Equal(t, Label(2), g.NewLabel())
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(sampleUnit())

	assert.Contains(t, out, "; === class app.Counter ===")
	assert.Contains(t, out, "; Implements: app.Resettable")
	assert.Contains(t, out, "public add(int) int")
	assert.Contains(t, out, "GET_FIELD")
	assert.Contains(t, out, "app.Counter.n")
	assert.Contains(t, out, "RETURN_VALUE")
}

func TestCloneIsDeep(t *testing.T) {
	u := sampleUnit()
	c := u.Clone()
	c.Methods[0].Code[0].Op = OpNop
	c.Interfaces[0] = "other"

	assert.Equal(t, OpLoad, u.Methods[0].Code[0].Op)
	assert.Equal(t, "app.Resettable", u.Interfaces[0])
}
