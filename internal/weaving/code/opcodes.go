package code

import "fmt"

// Opcode identifies an instruction of the unit IR.
// Operands live on the Instruction itself rather than in a byte stream so
// that rewriting never has to patch offsets: jumps and handler ranges refer
// to symbolic labels.
type Opcode uint8

const (
	// ========================================================================
	// Structure
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpLabel Opcode = 0x01 // Pseudo instruction marking Label

	// ========================================================================
	// Constants and locals
	// ========================================================================

	OpConst Opcode = 0x10 // Push Const
	OpNull  Opcode = 0x11 // Push null
	OpLoad  Opcode = 0x12 // Push local Index
	OpStore Opcode = 0x13 // Pop into local Index

	// ========================================================================
	// Stack manipulation
	// ========================================================================

	OpPop  Opcode = 0x20 // Pop top of stack
	OpDup  Opcode = 0x21 // Duplicate top of stack
	OpSwap Opcode = 0x22 // Swap top two elements

	// ========================================================================
	// Arithmetic and comparison
	// ========================================================================

	OpAdd Opcode = 0x30 // Pop two, push sum
	OpSub Opcode = 0x31 // Pop two, push a - b where b is TOS
	OpMul Opcode = 0x32 // Pop two, push product
	OpLt  Opcode = 0x33 // Pop two, push a < b
	OpEq  Opcode = 0x34 // Pop two, push a == b
	OpNot Opcode = 0x35 // Pop bool, push its negation

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJump        Opcode = 0x40 // Jump to Label
	OpJumpIfTrue  Opcode = 0x41 // Pop bool, jump to Label if true
	OpJumpIfFalse Opcode = 0x42 // Pop bool, jump to Label if false

	// ========================================================================
	// Objects and invocation
	// ========================================================================

	OpNew           Opcode = 0x50 // Push new uninitialized instance of Owner
	OpGetField      Opcode = 0x51 // Pop object, push field Owner.Name
	OpPutField      Opcode = 0x52 // Pop value and object, set field Owner.Name
	OpInvokeVirtual Opcode = 0x53 // Invoke Owner.Name Desc with receiver dispatch
	OpInvokeStatic  Opcode = 0x54 // Invoke static Owner.Name Desc
	OpInvokeSpecial Opcode = 0x55 // Invoke Owner.Name Desc without override dispatch
	OpInvokeHook    Opcode = 0x56 // Invoke advice hook Hook.Ref with Hook.Argc args
	OpNewArray      Opcode = 0x57 // Pop Index values, push them as an array
	OpTypeRef       Opcode = 0x58 // Push a reference to type Owner

	// ========================================================================
	// Exceptions
	// ========================================================================

	OpNewThrowable Opcode = 0x60 // Pop message, push throwable of type Owner
	OpThrow        Opcode = 0x61 // Pop throwable and raise it
	OpMarkerWrap   Opcode = 0x62 // Pop throwable, push marker wrapping it
	OpMarkerUnwrap Opcode = 0x63 // Pop marker, push its cause

	// ========================================================================
	// Nesting flow flags
	// ========================================================================

	OpFlowGet Opcode = 0x70 // Push current value of flow flag Name
	OpFlowSet Opcode = 0x71 // Pop bool into flow flag Name

	// ========================================================================
	// Return
	// ========================================================================

	OpOptionalReturn Opcode = 0x80 // Index 0: push void optional; 1: wrap TOS
	OpReturn         Opcode = 0xF0 // Return from void method
	OpReturnValue    Opcode = 0xF1 // Pop and return value
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// verification.
type OpcodeInfo struct {
	Name     string // Human-readable name
	HasLabel bool   // Label operand is meaningful
	HasIndex bool   // Index operand is meaningful
	HasRef   bool   // Owner/Name (and possibly Desc) operands are meaningful
	Terminal bool   // Control never falls through to the next instruction
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:   {Name: "NOP"},
	OpLabel: {Name: "LABEL", HasLabel: true},

	OpConst: {Name: "CONST"},
	OpNull:  {Name: "NULL"},
	OpLoad:  {Name: "LOAD", HasIndex: true},
	OpStore: {Name: "STORE", HasIndex: true},

	OpPop:  {Name: "POP"},
	OpDup:  {Name: "DUP"},
	OpSwap: {Name: "SWAP"},

	OpAdd: {Name: "ADD"},
	OpSub: {Name: "SUB"},
	OpMul: {Name: "MUL"},
	OpLt:  {Name: "LT"},
	OpEq:  {Name: "EQ"},
	OpNot: {Name: "NOT"},

	OpJump:        {Name: "JUMP", HasLabel: true, Terminal: true},
	OpJumpIfTrue:  {Name: "JUMP_IF_TRUE", HasLabel: true},
	OpJumpIfFalse: {Name: "JUMP_IF_FALSE", HasLabel: true},

	OpNew:           {Name: "NEW", HasRef: true},
	OpGetField:      {Name: "GET_FIELD", HasRef: true},
	OpPutField:      {Name: "PUT_FIELD", HasRef: true},
	OpInvokeVirtual: {Name: "INVOKE_VIRTUAL", HasRef: true},
	OpInvokeStatic:  {Name: "INVOKE_STATIC", HasRef: true},
	OpInvokeSpecial: {Name: "INVOKE_SPECIAL", HasRef: true},
	OpInvokeHook:    {Name: "INVOKE_HOOK"},
	OpNewArray:      {Name: "NEW_ARRAY", HasIndex: true},
	OpTypeRef:       {Name: "TYPE_REF", HasRef: true},

	OpNewThrowable: {Name: "NEW_THROWABLE", HasRef: true},
	OpThrow:        {Name: "THROW", Terminal: true},
	OpMarkerWrap:   {Name: "MARKER_WRAP"},
	OpMarkerUnwrap: {Name: "MARKER_UNWRAP"},

	OpFlowGet: {Name: "FLOW_GET"},
	OpFlowSet: {Name: "FLOW_SET"},

	OpOptionalReturn: {Name: "OPTIONAL_RETURN", HasIndex: true},
	OpReturn:         {Name: "RETURN", Terminal: true},
	OpReturnValue:    {Name: "RETURN_VALUE", Terminal: true},
}

// Info returns metadata about the opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// String returns the opcode's mnemonic.
func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(op))
}

// IsReturn reports whether op exits the method normally.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnValue
}

// IsJump reports whether op transfers control to a label.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfTrue || op == OpJumpIfFalse
}

// IsInvoke reports whether op invokes a method of a unit.
func (op Opcode) IsInvoke() bool {
	return op == OpInvokeVirtual || op == OpInvokeStatic || op == OpInvokeSpecial
}
