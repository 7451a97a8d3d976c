package code

import (
	"fmt"
	"strings"
)

// VerifyError lists the structural problems found in a unit.
type VerifyError struct {
	Unit     string
	Problems []string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("code: unit %s failed verification: %s", e.Unit, strings.Join(e.Problems, "; "))
}

// Verify checks the structural invariants a loader relies on:
//   - every label is placed exactly once and every referenced label is placed
//   - local slots are within MaxLocals (never below the argument slots)
//   - handler ranges are ordered and cover at least one instruction
//   - bodies do not fall off their end
//   - operands required by each opcode are present
func Verify(u *Unit) error {
	var problems []string
	if u.Name == "" {
		problems = append(problems, "unit has no name")
	}
	seen := make(map[string]bool, len(u.Methods))
	for _, m := range u.Methods {
		if seen[m.Key()] {
			problems = append(problems, fmt.Sprintf("duplicate method %s", m.Key()))
		}
		seen[m.Key()] = true
		for _, p := range VerifyMethod(m) {
			problems = append(problems, m.Key()+": "+p)
		}
	}
	if len(problems) > 0 {
		return &VerifyError{Unit: u.Name, Problems: problems}
	}
	return nil
}

// VerifyMethod returns the structural problems of one method.
func VerifyMethod(m *Method) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m.Access&(AccAbstract|AccNative) != 0 {
		if len(m.Code) > 0 {
			add("abstract or native method has code")
		}
		return problems
	}
	if len(m.Code) == 0 {
		add("method has no code")
		return problems
	}

	limit := m.MaxLocals
	if limit < m.ArgSlots() {
		limit = m.ArgSlots()
	}

	positions := make(map[Label]int)
	for i, in := range m.Code {
		if in.Op != OpLabel {
			continue
		}
		if _, dup := positions[in.Label]; dup {
			add("label L%d placed more than once", in.Label)
		}
		positions[in.Label] = i
	}

	lastReal := -1
	for i, in := range m.Code {
		info, ok := in.Op.Info()
		if !ok {
			add("%04d: unknown opcode %s", i, in.Op)
			continue
		}
		if in.Op != OpLabel {
			lastReal = i
		}
		switch {
		case in.Op.IsJump():
			if _, ok := positions[in.Label]; !ok {
				add("%04d: jump to undefined label L%d", i, in.Label)
			}
		case in.Op == OpLoad || in.Op == OpStore:
			if in.Index < 0 || in.Index >= limit {
				add("%04d: local %d out of range [0, %d)", i, in.Index, limit)
			}
		case in.Op == OpConst:
			if in.Const == nil {
				add("%04d: CONST without value", i)
			}
		case in.Op.IsInvoke():
			if in.Owner == "" || in.Name == "" || in.Desc == nil {
				add("%04d: %s without method reference", i, info.Name)
			}
		case in.Op == OpInvokeHook:
			if in.Hook == nil || in.Hook.Ref == "" || in.Hook.Argc < 0 {
				add("%04d: INVOKE_HOOK without hook reference", i)
			}
		case in.Op == OpFlowGet || in.Op == OpFlowSet:
			if in.Name == "" {
				add("%04d: %s without flag key", i, info.Name)
			}
		case info.HasRef:
			if in.Owner == "" {
				add("%04d: %s without owner", i, info.Name)
			}
		case in.Op == OpNewArray:
			if in.Index < 0 {
				add("%04d: NEW_ARRAY with negative length", i)
			}
		}
	}
	if lastReal < 0 {
		add("method has no instructions")
	} else if info, _ := m.Code[lastReal].Op.Info(); !info.Terminal {
		add("control falls off the end of the method")
	}

	for i, h := range m.Handlers {
		start, okStart := positions[h.Start]
		end, okEnd := positions[h.End]
		_, okTarget := positions[h.Target]
		if !okStart || !okEnd || !okTarget {
			add("handler %d references undefined label", i)
			continue
		}
		if !hasRealInstruction(m.Code, start, end) {
			add("handler %d covers no instructions [L%d, L%d)", i, h.Start, h.End)
		}
	}
	return problems
}

func hasRealInstruction(code []Instruction, from, to int) bool {
	for i := from; i < to; i++ {
		if code[i].Op != OpLabel {
			return true
		}
	}
	return false
}
