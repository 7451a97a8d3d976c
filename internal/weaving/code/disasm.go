package code

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the unit.
func Disassemble(u *Unit) string {
	var sb strings.Builder

	kind := "class"
	if u.IsInterface() {
		kind = "interface"
	}
	sb.WriteString(fmt.Sprintf("; === %s %s ===\n", kind, u.Name))
	sb.WriteString(fmt.Sprintf("; Format v%d\n", u.Version))
	if acc := (u.Access &^ AccInterface).String(); acc != "" {
		sb.WriteString(fmt.Sprintf("; Access: %s\n", acc))
	}
	if u.Super != "" {
		sb.WriteString(fmt.Sprintf("; Extends: %s\n", u.Super))
	}
	if len(u.Interfaces) > 0 {
		sb.WriteString(fmt.Sprintf("; Implements: %s\n", strings.Join(u.Interfaces, ", ")))
	}

	if len(u.Fields) > 0 {
		sb.WriteString("\n; Fields:\n")
		for _, f := range u.Fields {
			sb.WriteString(fmt.Sprintf(";   %s%s %s\n", prefixAccess(f.Access), f.Type, f.Name))
		}
	}

	for _, m := range u.Methods {
		sb.WriteString("\n")
		sb.WriteString(DisassembleMethod(m))
	}
	return sb.String()
}

// DisassembleMethod returns a human-readable listing of one method.
func DisassembleMethod(m *Method) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s%s(%s) %s\n", prefixAccess(m.Access), m.Name, strings.Join(m.Params, ", "), m.Return))
	if len(m.Exceptions) > 0 {
		sb.WriteString(fmt.Sprintf("; Throws: %s\n", strings.Join(m.Exceptions, ", ")))
	}
	if m.MaxLocals > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", m.MaxLocals))
	}

	for i, in := range m.Code {
		if in.Op == OpLabel {
			sb.WriteString(fmt.Sprintf("L%d:\n", in.Label))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %04d  %s\n", i, FormatInstruction(in)))
	}

	if len(m.Handlers) > 0 {
		sb.WriteString("; Handlers:\n")
		for _, h := range m.Handlers {
			catch := h.CatchType
			if catch == "" {
				catch = "*"
			}
			sb.WriteString(fmt.Sprintf(";   [L%d, L%d) -> L%d %s\n", h.Start, h.End, h.Target, catch))
		}
	}
	return sb.String()
}

// FormatInstruction renders one instruction with its operands.
func FormatInstruction(in Instruction) string {
	info, ok := in.Op.Info()
	if !ok {
		return in.Op.String()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s", info.Name))

	switch {
	case in.Op == OpConst && in.Const != nil:
		sb.WriteString(in.Const.String())
	case in.Op == OpInvokeHook && in.Hook != nil:
		sb.WriteString(fmt.Sprintf("%s argc=%d", in.Hook.Ref, in.Hook.Argc))
		if in.Hook.Returns {
			sb.WriteString(" returns")
		}
	case in.Op == OpFlowGet || in.Op == OpFlowSet:
		sb.WriteString(in.Name)
	case info.HasLabel:
		sb.WriteString(fmt.Sprintf("L%d", in.Label))
	case info.HasIndex:
		sb.WriteString(fmt.Sprintf("%d", in.Index))
	case info.HasRef:
		sb.WriteString(in.Owner)
		if in.Name != "" {
			sb.WriteString("." + in.Name)
		}
		if in.Desc != nil {
			sb.WriteString(in.Desc.String())
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

func prefixAccess(a Access) string {
	s := a.String()
	if s == "" {
		return ""
	}
	return s + " "
}
