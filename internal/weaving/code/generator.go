package code

// Generator appends instructions for a method body. Labels and locals are
// allocated from the method it was created for, so generated code can be
// spliced into that method without collisions.
type Generator struct {
	m    *Method
	code []Instruction
}

// NewGenerator creates a generator allocating from m.
func NewGenerator(m *Method) *Generator {
	return &Generator{m: m}
}

// Code returns the instructions emitted so far.
func (g *Generator) Code() []Instruction {
	return g.code
}

// Len returns the number of instructions emitted so far.
func (g *Generator) Len() int {
	return len(g.code)
}

// Emit appends a raw instruction.
func (g *Generator) Emit(in Instruction) {
	g.code = append(g.code, in)
}

// Op appends an instruction without operands.
func (g *Generator) Op(op Opcode) {
	g.code = append(g.code, Instruction{Op: op})
}

// NewLabel allocates a label in the target method.
func (g *Generator) NewLabel() Label {
	return g.m.NewLabel()
}

// NewLocal allocates a local slot in the target method.
func (g *Generator) NewLocal() int {
	return g.m.NewLocal()
}

// Mark places label l at the current position.
func (g *Generator) Mark(l Label) {
	g.code = append(g.code, Instruction{Op: OpLabel, Label: l})
}

// Jump appends a jump of kind op to l.
func (g *Generator) Jump(op Opcode, l Label) {
	g.code = append(g.code, Instruction{Op: op, Label: l})
}

// Load pushes local slot i.
func (g *Generator) Load(i int) {
	g.code = append(g.code, Instruction{Op: OpLoad, Index: i})
}

// Store pops into local slot i.
func (g *Generator) Store(i int) {
	g.code = append(g.code, Instruction{Op: OpStore, Index: i})
}

// LoadThis pushes the receiver, or null for static methods.
func (g *Generator) LoadThis() {
	if g.m.IsStatic() {
		g.Op(OpNull)
		return
	}
	g.Load(0)
}

// LoadArg pushes argument i.
func (g *Generator) LoadArg(i int) {
	g.Load(g.m.ArgSlot(i))
}

// LoadArgs pushes every argument in declaration order.
func (g *Generator) LoadArgs() {
	for i := range g.m.Params {
		g.LoadArg(i)
	}
}

// LoadArgArray pushes all arguments packed in an array.
func (g *Generator) LoadArgArray() {
	g.LoadArgs()
	g.code = append(g.code, Instruction{Op: OpNewArray, Index: len(g.m.Params)})
}

// PushInt pushes an integer constant.
func (g *Generator) PushInt(v int64) {
	g.code = append(g.code, Instruction{Op: OpConst, Const: &Const{Kind: ConstInt, Int: v}})
}

// PushFloat pushes a floating point constant.
func (g *Generator) PushFloat(v float64) {
	g.code = append(g.code, Instruction{Op: OpConst, Const: &Const{Kind: ConstFloat, Float: v}})
}

// PushBool pushes a boolean constant.
func (g *Generator) PushBool(v bool) {
	g.code = append(g.code, Instruction{Op: OpConst, Const: &Const{Kind: ConstBool, Bool: v}})
}

// PushString pushes a string constant.
func (g *Generator) PushString(v string) {
	g.code = append(g.code, Instruction{Op: OpConst, Const: &Const{Kind: ConstString, Str: v}})
}

// PushDefault pushes the zero value of type t. Nothing is pushed for void.
func (g *Generator) PushDefault(t string) {
	switch Kind(t) {
	case KindVoid:
	case KindInt:
		g.PushInt(0)
	case KindFloat:
		g.PushFloat(0)
	case KindBool:
		g.PushBool(false)
	default:
		g.Op(OpNull)
	}
}

// Invoke appends a method invocation.
func (g *Generator) Invoke(op Opcode, owner, name string, params []string, ret string) {
	g.code = append(g.code, Instruction{
		Op:    op,
		Owner: owner,
		Name:  name,
		Desc:  &Desc{Params: append([]string(nil), params...), Return: ret},
	})
}

// InvokeHook appends an advice hook invocation consuming argc stack values.
func (g *Generator) InvokeHook(ref string, argc int, returns bool) {
	g.code = append(g.code, Instruction{
		Op:   OpInvokeHook,
		Hook: &HookRef{Ref: ref, Argc: argc, Returns: returns},
	})
}

// FlowGet pushes the current value of flow flag key.
func (g *Generator) FlowGet(key string) {
	g.code = append(g.code, Instruction{Op: OpFlowGet, Name: key})
}

// FlowSet pops a boolean into flow flag key.
func (g *Generator) FlowSet(key string) {
	g.code = append(g.code, Instruction{Op: OpFlowSet, Name: key})
}

// Return appends the return instruction matching type t.
func (g *Generator) Return(t string) {
	if t == Void {
		g.Op(OpReturn)
		return
	}
	g.Op(OpReturnValue)
}

// TypeKind classifies type names by the value representation they use.
type TypeKind uint8

const (
	KindRef TypeKind = iota
	KindVoid
	KindInt
	KindFloat
	KindBool
)

// Kind returns the value representation of type t.
func Kind(t string) TypeKind {
	switch t {
	case Void:
		return KindVoid
	case "int", "long", "short", "byte", "char":
		return KindInt
	case "float", "double":
		return KindFloat
	case "boolean":
		return KindBool
	default:
		return KindRef
	}
}

// IsPrimitive reports whether t names a primitive type.
func IsPrimitive(t string) bool {
	k := Kind(t)
	return k != KindRef && k != KindVoid
}
