package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/eval"
	"github.com/xplshn/cgen/pkg/types"
)

// StaticInitializer is the resolved value of bytes [Offset, Offset+Width) of
// a static object. Label, when set, makes an 8-byte entry Label+Val. Bytes
// holds the characters of a string that initializes a char array.
type StaticInitializer struct {
	Offset int
	Width  int
	Val    int64
	Label  string
	Bytes  []byte
}

// ObjectLabel returns the assembly symbol of a static-storage object. Objects
// without linkage get a numbered suffix so same-named locals never collide.
func (g *Generator) ObjectLabel(obj *types.Object) string {
	if obj.Label != "" {
		return obj.Label
	}
	if obj.Linkage == types.LinkNone {
		g.staticTag++
		obj.Label = fmt.Sprintf("%s.%d", obj.Name, g.staticTag)
	} else {
		obj.Label = obj.Name
	}
	return obj.Label
}

// ConsLabel returns the operand for a constant. Integers are immediates;
// floats and strings get a fresh read-only label queued on the current
// declaration's pool.
func (g *Generator) ConsLabel(n *ast.Node) string {
	switch d := n.Data.(type) {
	case ast.NumberNode:
		return fmt.Sprintf("$%d", d.Value)
	case ast.FloatNode:
		return g.floatLabel(d.Value, n.Typ.Width)
	case ast.StringNode:
		return g.stringLabel(d.Value)
	}
	fail(ErrUnexpectedType, n.Tok, "%s is not a literal", n.Type)
	return ""
}

func (g *Generator) nextConst() string {
	label := fmt.Sprintf(".LC%d", g.constSeq)
	g.constSeq++
	return label
}

func (g *Generator) floatLabel(f float64, width int) string {
	label := g.nextConst()
	g.batch.rodata = append(g.batch.rodata, ROData{Label: label, Bits: eval.Bits(f, width), Align: width})
	return label
}

func (g *Generator) stringLabel(s string) string {
	label := g.nextConst()
	g.batch.rodata = append(g.batch.rodata, ROData{Label: label, Str: s, IsStr: true, Align: 1})
	return label
}

func (g *Generator) flushROData(b *batch) {
	if len(b.rodata) == 0 {
		return
	}
	g.out.Emit(".section .rodata")
	for _, r := range b.rodata {
		if r.Align > 1 {
			g.out.Emit(".align %d", r.Align)
		}
		g.out.Label(r.Label)
		switch {
		case r.IsStr:
			g.out.Emit(".string %s", quoteString(r.Str))
		case r.Align == 4:
			g.out.Emit(".long %d", uint32(r.Bits))
		default:
			g.out.Emit(".quad %d", r.Bits)
		}
	}
	b.rodata = nil
}

// staticInits resolves and orders the initializers of a static object.
func (g *Generator) staticInits(inits []ast.Initializer) []StaticInitializer {
	out := make([]StaticInitializer, 0, len(inits))
	for _, init := range inits {
		si := StaticInitializer{Offset: init.Offset, Width: init.Typ.Width}
		if s, ok := init.Expr.Data.(ast.StringNode); ok && init.Typ.IsArray() {
			si.Bytes = []byte(s.Value)
			out = append(out, si)
			continue
		}
		v, err := g.ev.Eval(init.Expr, eval.KindOf(init.Typ))
		if err != nil {
			failErr(err, init.Expr.Tok)
		}
		switch v.Kind {
		case eval.Float:
			si.Val = eval.Bits(v.Float, si.Width)
		case eval.Address:
			si.Val = v.Int
			switch {
			case v.Obj != nil:
				si.Label = g.ObjectLabel(v.Obj)
			case v.HasStr:
				si.Label = g.stringLabel(v.Str)
			default:
				si.Label = v.Sym
			}
		default:
			si.Val = v.Int
		}
		out = append(out, si)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// genStatic emits the storage of a static-storage object.
func (g *Generator) genStatic(n *ast.Node, obj *types.Object, inits []ast.Initializer) {
	if obj.IsExtern() && len(inits) == 0 {
		return
	}
	t := obj.Type
	switch t.Kind {
	case types.LongDouble, types.Complex:
		fail(ErrUnsupported, n.Tok, "static object '%s' of type %s", obj.Name, t)
	}
	label := g.ObjectLabel(obj)
	g.out.Emit(".data")
	if obj.Linkage == types.LinkExternal {
		g.out.Emit(".globl %s", label)
	} else {
		g.out.Emit(".local %s", label)
	}
	if len(inits) == 0 {
		g.out.Emit(".comm %s, %d, %d", label, t.Width, t.Align)
		return
	}

	g.out.Emit(".align %d", t.Align)
	g.out.Emit(".type %s, @object", label)
	g.out.Emit(".size %s, %d", label, t.Width)
	g.out.Label(label)
	cursor := 0
	for _, si := range g.staticInits(inits) {
		if si.Offset > cursor {
			g.out.Emit(".zero %d", si.Offset-cursor)
		}
		g.emitStaticValue(si)
		cursor = si.Offset + si.Width
	}
	if t.Width > cursor {
		g.out.Emit(".zero %d", t.Width-cursor)
	}
}

func (g *Generator) emitStaticValue(si StaticInitializer) {
	switch {
	case si.Bytes != nil:
		if len(si.Bytes)+1 <= si.Width {
			g.out.Emit(".string %s", quoteString(string(si.Bytes)))
			if pad := si.Width - len(si.Bytes) - 1; pad > 0 {
				g.out.Emit(".zero %d", pad)
			}
		} else {
			g.out.Emit(".ascii %s", quoteString(string(si.Bytes[:si.Width])))
		}
	case si.Label != "":
		g.out.Emit(".quad %s", ObjectAddr{Label: si.Label, Offset: int(si.Val)}.Repr())
	case si.Width == 1:
		g.out.Emit(".byte %d", uint8(si.Val))
	case si.Width == 2:
		g.out.Emit(".value %d", uint16(si.Val))
	case si.Width == 4:
		g.out.Emit(".long %d", uint32(si.Val))
	default:
		g.out.Emit(".quad %d", si.Val)
	}
}

// quoteString renders s as a GAS string literal. Bytes outside printable
// ASCII are written as three-digit octal escapes.
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "\\%03o", c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
