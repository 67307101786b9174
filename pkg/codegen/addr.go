package codegen

import (
	"strconv"
	"strings"
)

// ObjectAddr is a memory operand: an optional symbol, a byte offset and a
// base register. It is the only way the generator refers to storage.
type ObjectAddr struct {
	Label  string
	Base   string
	Offset int
}

// Repr renders the operand in AT&T syntax, e.g. "-8(%rbp)", "x+4(%rip)" or
// "(%r11)".
func (a ObjectAddr) Repr() string {
	var sb strings.Builder
	sb.WriteString(a.Label)
	if a.Offset != 0 {
		if a.Label != "" && a.Offset > 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(strconv.Itoa(a.Offset))
	}
	if a.Base != "" {
		sb.WriteString("(%")
		sb.WriteString(a.Base)
		sb.WriteByte(')')
	}
	return sb.String()
}

func (a ObjectAddr) String() string { return a.Repr() }

// Add returns the address off bytes further on.
func (a ObjectAddr) Add(off int) ObjectAddr {
	a.Offset += off
	return a
}

func frameAddr(off int) ObjectAddr { return ObjectAddr{Base: "rbp", Offset: off} }

func ripAddr(label string) ObjectAddr { return ObjectAddr{Label: label, Base: "rip"} }

// regs maps a 64-bit register to its 1, 2, 4 and 8 byte names.
var regs = map[string][4]string{
	"rax": {"al", "ax", "eax", "rax"},
	"rcx": {"cl", "cx", "ecx", "rcx"},
	"rdx": {"dl", "dx", "edx", "rdx"},
	"rdi": {"dil", "di", "edi", "rdi"},
	"rsi": {"sil", "si", "esi", "rsi"},
	"r8":  {"r8b", "r8w", "r8d", "r8"},
	"r9":  {"r9b", "r9w", "r9d", "r9"},
	"r11": {"r11b", "r11w", "r11d", "r11"},
}

func widthIndex(w int) int {
	switch w {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	return 3
}

// reg names the width-byte view of the 64-bit register r.
func reg(r string, width int) string {
	if names, ok := regs[r]; ok {
		return "%" + names[widthIndex(width)]
	}
	return "%" + r
}

// suffix is the integer instruction suffix for width.
func suffix(width int) string {
	return [...]string{"b", "w", "l", "q"}[widthIndex(width)]
}

func isXmm(r string) bool { return strings.HasPrefix(r, "xmm") }
