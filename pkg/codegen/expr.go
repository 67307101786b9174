package codegen

import (
	"fmt"
	"math"

	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

func fsuf(t *types.Type) string {
	if t.Kind == types.Float {
		return "ss"
	}
	return "sd"
}

func isPtrLike(t *types.Type) bool {
	return t != nil && (t.IsPointer() || t.IsArray())
}

// opWidth is the width an operand of type t is computed at.
func opWidth(t *types.Type) int {
	if t == nil || t.IsPointer() || t.IsArray() || t.IsFunction() {
		return 8
	}
	return t.Width
}

func elemWidth(t *types.Type) int {
	if t.Base == nil || t.Base.Width < 1 {
		return 1
	}
	return t.Base.Width
}

func checkSupported(n *ast.Node) {
	if n.Typ == nil {
		return
	}
	switch n.Typ.Kind {
	case types.LongDouble, types.Complex:
		fail(ErrUnsupported, n.Tok, "expressions of type %s", n.Typ)
	}
}

// genExpr evaluates n into the primary accumulator of its type and returns
// that slot. The value is only valid until the next emitted instruction that
// writes the slot.
func (g *Generator) genExpr(n *ast.Node) Slot {
	checkSupported(n)
	switch d := n.Data.(type) {
	case ast.NumberNode:
		g.loadImm(n, d.Value)
		return IntPrimary

	case ast.FloatNode:
		g.out.Emit("mov%s %s, %%xmm8", fsuf(n.Typ), ripAddr(g.ConsLabel(n)).Repr())
		return FloatPrimary

	case ast.StringNode:
		g.out.Emit("leaq %s, %%rax", ripAddr(g.ConsLabel(n)).Repr())
		return IntPrimary

	case ast.IndirectionNode:
		if !n.Typ.IsScalar() {
			// *p of an aggregate, array or function is p itself
			g.genExpr(d.Expr)
			return IntPrimary
		}
		return g.load(g.genLvalue(n), n.Typ)

	case ast.ObjectNode, ast.IdentNode, ast.MemberAccessNode, ast.SubscriptNode:
		return g.load(g.genLvalue(n), n.Typ)

	case ast.AddressOfNode:
		g.out.Emit("leaq %s, %%rax", g.genLvalue(d.LValue).Repr())
		return IntPrimary

	case ast.AssignNode:
		return g.genAssign(d)

	case ast.BinaryOpNode:
		return g.genBinary(n, d)

	case ast.UnaryOpNode:
		return g.genUnary(n, d)

	case ast.PostfixOpNode:
		return g.genIncDec(d.Expr, d.Op, true)

	case ast.TernaryNode:
		l := g.labels("else", "end")
		g.branchIfFalse(d.Cond, l[0])
		g.genExpr(d.ThenExpr)
		g.out.Emit("jmp %s", l[1])
		g.out.Label(l[0])
		g.genExpr(d.ElseExpr)
		g.out.Label(l[1])
		return slotFor(n.Typ)

	case ast.TypeCastNode:
		g.genExpr(d.Expr)
		return g.convert(n, d.Expr.Typ, d.TargetType)

	case ast.FuncCallNode:
		return g.genCall(n, d)
	}
	fail(ErrUnexpectedType, n.Tok, "%s is not an expression", n.Type)
	return IntPrimary
}

// labels returns one label per kind, all sharing a fresh sequence number.
func (g *Generator) labels(kinds ...string) []string {
	g.labelSeq++
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = fmt.Sprintf(".L.%s.%d", k, g.labelSeq)
	}
	return out
}

func (g *Generator) loadImm(n *ast.Node, v int64) {
	op := g.ConsLabel(n)
	switch {
	case opWidth(n.Typ) <= 4:
		g.out.Emit("movl %s, %%eax", op)
	case v >= math.MinInt32 && v <= math.MaxInt32:
		g.out.Emit("movq %s, %%rax", op)
	default:
		g.out.Emit("movabsq %s, %%rax", op)
	}
}

// load reads a value of type t at addr into the primary accumulator. Values
// that do not fit a register are represented by their address.
func (g *Generator) load(addr ObjectAddr, t *types.Type) Slot {
	a := addr.Repr()
	if t.IsFloat() {
		g.out.Emit("mov%s %s, %%xmm8", fsuf(t), a)
		return FloatPrimary
	}
	if !t.IsScalar() {
		g.out.Emit("leaq %s, %%rax", a)
		return IntPrimary
	}
	switch t.Width {
	case 1:
		if t.Unsigned {
			g.out.Emit("movzbq %s, %%rax", a)
		} else {
			g.out.Emit("movsbq %s, %%rax", a)
		}
	case 2:
		if t.Unsigned {
			g.out.Emit("movzwq %s, %%rax", a)
		} else {
			g.out.Emit("movswq %s, %%rax", a)
		}
	case 4:
		if t.Unsigned {
			g.out.Emit("movl %s, %%eax", a)
		} else {
			g.out.Emit("movslq %s, %%rax", a)
		}
	default:
		g.out.Emit("movq %s, %%rax", a)
	}
	return IntPrimary
}

// store writes the primary accumulator to addr. For aggregates and arrays
// %rax holds the source address and the bytes are copied.
func (g *Generator) store(addr ObjectAddr, t *types.Type) {
	switch {
	case t.IsFloat():
		g.out.Emit("mov%s %%xmm8, %s", fsuf(t), addr.Repr())
	case t.IsAggregate(), t.IsArray():
		g.copyStruct(addr, t.Width)
	case t.IsScalar():
		w := opWidth(t)
		g.out.Emit("mov%s %s, %s", suffix(w), reg("rax", w), addr.Repr())
	default:
		fail(ErrUnexpectedType, token.Token{}, "store of type %s", t)
	}
}

// copyStruct copies width bytes from the address in %rax to dst, widest
// chunks first. It returns the chunk sizes used.
func (g *Generator) copyStruct(dst ObjectAddr, width int) []int {
	var chunks []int
	src := ObjectAddr{Base: "rax"}
	for off := 0; off < width; {
		n := 8
		for n > width-off {
			n /= 2
		}
		g.out.Emit("mov%s %s, %s", suffix(n), src.Add(off).Repr(), reg("rcx", n))
		g.out.Emit("mov%s %s, %s", suffix(n), reg("rcx", n), dst.Add(off).Repr())
		chunks = append(chunks, n)
		off += n
	}
	return chunks
}

// zeroFill clears width bytes at dst.
func (g *Generator) zeroFill(dst ObjectAddr, width int) {
	for off := 0; off < width; {
		n := 8
		for n > width-off {
			n /= 2
		}
		g.out.Emit("mov%s $0, %s", suffix(n), dst.Add(off).Repr())
		off += n
	}
}

func (g *Generator) genAssign(d ast.AssignNode) Slot {
	addr := g.genLvalue(d.Lhs)
	saved := addr.Base == "r11"
	if saved {
		g.Push("r11")
	}
	s := g.genExpr(d.Rhs)
	if saved {
		g.Pop("r11")
	}
	g.store(addr, d.Lhs.Typ)
	return s
}

// genOperands leaves the left operand in the primary accumulator and the
// right operand in the other-operand register of the same bank.
func (g *Generator) genOperands(l, r *ast.Node) Slot {
	s := g.genExpr(l)
	g.Push(s.Reg())
	g.genExpr(r)
	if s == FloatPrimary {
		g.out.Emit("movapd %%xmm8, %%xmm9")
	} else {
		g.out.Emit("movq %%rax, %%rcx")
	}
	g.Pop(s.Reg())
	return s
}

func (g *Generator) genBinary(n *ast.Node, d ast.BinaryOpNode) Slot {
	switch d.Op {
	case token.AndAnd, token.OrOr:
		return g.genLogical(d)
	case token.Plus, token.Minus:
		lp, rp := isPtrLike(d.Left.Typ), isPtrLike(d.Right.Typ)
		if lp && rp && d.Op == token.Minus {
			return g.genPtrDiff(d)
		}
		if lp || rp {
			return g.genPtrArith(n, d.Left, d.Right, d.Op == token.Plus)
		}
	}
	t := d.Left.Typ
	if t == nil || !(t.IsScalar() || t.IsArray() || t.IsFunction()) {
		fail(ErrUnexpectedType, n.Tok, "operator '%s' on %s", d.Op, t)
	}
	g.genOperands(d.Left, d.Right)
	if t.IsFloat() {
		return g.genFloatOp(n, d.Op, t)
	}
	return g.genIntOp(n, d.Op, t)
}

var (
	signedCC   = map[token.Type]string{token.EqEq: "e", token.Neq: "ne", token.Lt: "l", token.Gt: "g", token.Lte: "le", token.Gte: "ge"}
	unsignedCC = map[token.Type]string{token.EqEq: "e", token.Neq: "ne", token.Lt: "b", token.Gt: "a", token.Lte: "be", token.Gte: "ae"}
	intOps     = map[token.Type]string{token.Plus: "add", token.Minus: "sub", token.Star: "imul", token.And: "and", token.Or: "or", token.Xor: "xor"}
	floatOps   = map[token.Type]string{token.Plus: "add", token.Minus: "sub", token.Star: "mul", token.Slash: "div"}
)

// genIntOp combines %rax (left) and %rcx (right) at the width of t.
func (g *Generator) genIntOp(n *ast.Node, op token.Type, t *types.Type) Slot {
	w := opWidth(t)
	if w < 4 {
		g.extend32("rax", t)
		g.extend32("rcx", t)
		w = 4
	}
	ax, cx, s := reg("rax", w), reg("rcx", w), suffix(w)
	unsigned := t.Unsigned || t.IsPointer() || t.IsArray() || t.IsFunction()

	if inst, ok := intOps[op]; ok {
		g.out.Emit("%s%s %s, %s", inst, s, cx, ax)
		return IntPrimary
	}
	switch op {
	case token.Shl:
		g.out.Emit("sal%s %%cl, %s", s, ax)
	case token.Shr:
		if unsigned {
			g.out.Emit("shr%s %%cl, %s", s, ax)
		} else {
			g.out.Emit("sar%s %%cl, %s", s, ax)
		}
	case token.Slash, token.Rem:
		if unsigned {
			g.out.Emit("xorl %%edx, %%edx")
			g.out.Emit("div%s %s", s, cx)
		} else {
			if w == 8 {
				g.out.Emit("cqto")
			} else {
				g.out.Emit("cltd")
			}
			g.out.Emit("idiv%s %s", s, cx)
		}
		if op == token.Rem {
			g.out.Emit("mov%s %s, %s", s, reg("rdx", w), ax)
		}
	case token.EqEq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		cc := signedCC[op]
		if unsigned {
			cc = unsignedCC[op]
		}
		g.out.Emit("cmp%s %s, %s", s, cx, ax)
		g.out.Emit("set%s %%al", cc)
		g.out.Emit("movzbl %%al, %%eax")
	default:
		fail(ErrUnexpectedType, n.Tok, "operator '%s' on %s", op, t)
	}
	return IntPrimary
}

// genFloatOp combines %xmm8 (left) and %xmm9 (right).
func (g *Generator) genFloatOp(n *ast.Node, op token.Type, t *types.Type) Slot {
	fs := fsuf(t)
	if inst, ok := floatOps[op]; ok {
		g.out.Emit("%s%s %%xmm9, %%xmm8", inst, fs)
		return FloatPrimary
	}
	nan := g.cfg.IsFeatureEnabled(config.FeatNanCompare)
	switch op {
	case token.Gt:
		g.out.Emit("ucomi%s %%xmm9, %%xmm8", fs)
		g.out.Emit("seta %%al")
	case token.Gte:
		g.out.Emit("ucomi%s %%xmm9, %%xmm8", fs)
		g.out.Emit("setae %%al")
	case token.Lt:
		g.out.Emit("ucomi%s %%xmm8, %%xmm9", fs)
		g.out.Emit("seta %%al")
	case token.Lte:
		g.out.Emit("ucomi%s %%xmm8, %%xmm9", fs)
		g.out.Emit("setae %%al")
	case token.EqEq:
		g.out.Emit("ucomi%s %%xmm9, %%xmm8", fs)
		g.out.Emit("sete %%al")
		if nan {
			g.out.Emit("setnp %%dl")
			g.out.Emit("andb %%dl, %%al")
		}
	case token.Neq:
		g.out.Emit("ucomi%s %%xmm9, %%xmm8", fs)
		g.out.Emit("setne %%al")
		if nan {
			g.out.Emit("setp %%dl")
			g.out.Emit("orb %%dl, %%al")
		}
	default:
		fail(ErrUnexpectedType, n.Tok, "operator '%s' on %s", op, t)
	}
	g.out.Emit("movzbl %%al, %%eax")
	return IntPrimary
}

// genPtrArith adds or subtracts an integer operand, scaled by the pointee
// width, to the pointer operand. Either side may be the pointer for addition.
func (g *Generator) genPtrArith(n *ast.Node, l, r *ast.Node, add bool) Slot {
	ptr, idx := l, r
	if !isPtrLike(l.Typ) {
		ptr, idx = r, l
	}
	if !idx.Typ.IsInteger() {
		fail(ErrUnexpectedType, n.Tok, "pointer offset of type %s", idx.Typ)
	}
	g.genExpr(ptr)
	g.Push("rax")
	g.genExpr(idx)
	g.extend64(idx.Typ)
	if w := elemWidth(ptr.Typ); w != 1 {
		g.out.Emit("imulq $%d, %%rax", w)
	}
	g.out.Emit("movq %%rax, %%rcx")
	g.Pop("rax")
	if add {
		g.out.Emit("addq %%rcx, %%rax")
	} else {
		g.out.Emit("subq %%rcx, %%rax")
	}
	return IntPrimary
}

// genPtrDiff yields the number of elements between two pointers.
func (g *Generator) genPtrDiff(d ast.BinaryOpNode) Slot {
	g.genOperands(d.Left, d.Right)
	g.out.Emit("subq %%rcx, %%rax")
	if w := elemWidth(d.Left.Typ); w != 1 {
		g.out.Emit("movq $%d, %%rcx", w)
		g.out.Emit("cqto")
		g.out.Emit("idivq %%rcx")
	}
	return IntPrimary
}

// extend64 widens the integer in %rax from the width of t to 64 bits.
func (g *Generator) extend64(t *types.Type) {
	switch opWidth(t) {
	case 1:
		if t.Unsigned {
			g.out.Emit("movzbl %%al, %%eax")
		} else {
			g.out.Emit("movsbq %%al, %%rax")
		}
	case 2:
		if t.Unsigned {
			g.out.Emit("movzwl %%ax, %%eax")
		} else {
			g.out.Emit("movswq %%ax, %%rax")
		}
	case 4:
		if t.Unsigned {
			g.out.Emit("movl %%eax, %%eax")
		} else {
			g.out.Emit("movslq %%eax, %%rax")
		}
	}
}

// extend32 widens a 1 or 2 byte integer in r to 32 bits.
func (g *Generator) extend32(r string, t *types.Type) {
	op := "movs"
	if t.Unsigned {
		op = "movz"
	}
	switch t.Width {
	case 1:
		g.out.Emit("%sbl %s, %s", op, reg(r, 1), reg(r, 4))
	case 2:
		g.out.Emit("%swl %s, %s", op, reg(r, 2), reg(r, 4))
	}
}

// genTest evaluates n and sets ZF when its value is zero.
func (g *Generator) genTest(n *ast.Node) {
	if g.genExpr(n) == FloatPrimary {
		g.floatTruth(n.Typ)
		g.out.Emit("testl %%eax, %%eax")
		return
	}
	w := opWidth(n.Typ)
	g.out.Emit("cmp%s $0, %s", suffix(w), reg("rax", w))
}

// floatTruth sets %eax to 1 when %xmm8 is nonzero, NaN included.
func (g *Generator) floatTruth(t *types.Type) {
	fs := fsuf(t)
	g.out.Emit("xorp%s %%xmm9, %%xmm9", fs[1:])
	g.out.Emit("ucomi%s %%xmm9, %%xmm8", fs)
	g.out.Emit("setne %%al")
	g.out.Emit("setp %%dl")
	g.out.Emit("orb %%dl, %%al")
	g.out.Emit("movzbl %%al, %%eax")
}

func (g *Generator) branchIfFalse(n *ast.Node, label string) {
	g.genTest(n)
	g.out.Emit("je %s", label)
}

func (g *Generator) branchIfTrue(n *ast.Node, label string) {
	g.genTest(n)
	g.out.Emit("jne %s", label)
}

// genLogical evaluates && and || without evaluating the right operand when
// the left one decides the result.
func (g *Generator) genLogical(d ast.BinaryOpNode) Slot {
	if d.Op == token.AndAnd {
		l := g.labels("false", "end")
		g.branchIfFalse(d.Left, l[0])
		g.branchIfFalse(d.Right, l[0])
		g.out.Emit("movl $1, %%eax")
		g.out.Emit("jmp %s", l[1])
		g.out.Label(l[0])
		g.out.Emit("movl $0, %%eax")
		g.out.Label(l[1])
		return IntPrimary
	}
	l := g.labels("true", "end")
	g.branchIfTrue(d.Left, l[0])
	g.branchIfTrue(d.Right, l[0])
	g.out.Emit("movl $0, %%eax")
	g.out.Emit("jmp %s", l[1])
	g.out.Label(l[0])
	g.out.Emit("movl $1, %%eax")
	g.out.Label(l[1])
	return IntPrimary
}

func (g *Generator) genUnary(n *ast.Node, d ast.UnaryOpNode) Slot {
	t := d.Expr.Typ
	switch d.Op {
	case token.Plus:
		return g.genExpr(d.Expr)
	case token.Minus:
		if g.genExpr(d.Expr) == FloatPrimary {
			if t.Kind == types.Float {
				g.out.Emit("movd %%xmm8, %%eax")
				g.out.Emit("btcl $31, %%eax")
				g.out.Emit("movd %%eax, %%xmm8")
			} else {
				g.out.Emit("movq %%xmm8, %%rax")
				g.out.Emit("btcq $63, %%rax")
				g.out.Emit("movq %%rax, %%xmm8")
			}
			return FloatPrimary
		}
		w := opWidth(t)
		g.out.Emit("neg%s %s", suffix(w), reg("rax", w))
		return IntPrimary
	case token.Complement:
		g.genExpr(d.Expr)
		w := opWidth(t)
		g.out.Emit("not%s %s", suffix(w), reg("rax", w))
		return IntPrimary
	case token.Not:
		g.genTest(d.Expr)
		g.out.Emit("sete %%al")
		g.out.Emit("movzbl %%al, %%eax")
		return IntPrimary
	case token.Inc, token.Dec:
		return g.genIncDec(d.Expr, d.Op, false)
	}
	fail(ErrUnexpectedType, n.Tok, "unary operator '%s'", d.Op)
	return IntPrimary
}

// genIncDec implements prefix and postfix ++ and --. A postfix form leaves
// the value from before the update in the accumulator.
func (g *Generator) genIncDec(e *ast.Node, op token.Type, postfix bool) Slot {
	t := e.Typ
	addr := g.genLvalue(e)
	s := g.load(addr, t)
	if postfix {
		if s == FloatPrimary {
			g.out.Emit("movapd %%xmm8, %%xmm9")
		} else {
			g.out.Emit("movq %%rax, %%rcx")
		}
	}
	inst := "add"
	if op == token.Dec {
		inst = "sub"
	}
	switch {
	case t.IsFloat():
		g.out.Emit("%s%s %s, %%xmm8", inst, fsuf(t), ripAddr(g.floatLabel(1.0, t.Width)).Repr())
	case t.Kind == types.Bool:
		if op == token.Inc {
			g.out.Emit("movl $1, %%eax")
		} else {
			g.out.Emit("xorl $1, %%eax")
		}
	case t.IsPointer():
		g.out.Emit("%sq $%d, %%rax", inst, elemWidth(t))
	case t.IsInteger():
		g.out.Emit("%s%s $1, %s", inst, suffix(t.Width), reg("rax", t.Width))
	default:
		fail(ErrUnexpectedType, e.Tok, "'%s' on %s", op, t)
	}
	g.store(addr, t)
	if postfix {
		if s == FloatPrimary {
			g.out.Emit("movapd %%xmm9, %%xmm8")
		} else {
			g.out.Emit("xchgq %%rcx, %%rax")
		}
	}
	return s
}

// convert changes the accumulator value from type from to type to.
func (g *Generator) convert(n *ast.Node, from, to *types.Type) Slot {
	switch {
	case to.Kind == types.Void:
		return IntPrimary
	case to.Kind == types.Bool:
		if from.IsFloat() {
			g.floatTruth(from)
			return IntPrimary
		}
		w := opWidth(from)
		g.out.Emit("cmp%s $0, %s", suffix(w), reg("rax", w))
		g.out.Emit("setne %%al")
		g.out.Emit("movzbl %%al, %%eax")
		return IntPrimary
	case from.IsFloat() && to.IsFloat():
		switch {
		case from.Kind == types.Float && to.Kind == types.Double:
			g.out.Emit("cvtss2sd %%xmm8, %%xmm8")
		case from.Kind == types.Double && to.Kind == types.Float:
			g.out.Emit("cvtsd2ss %%xmm8, %%xmm8")
		}
		return FloatPrimary
	case from.IsFloat():
		if !to.IsInteger() {
			fail(ErrUnexpectedType, n.Tok, "conversion from %s to %s", from, to)
		}
		switch {
		case to.Width == 8 && to.Unsigned:
			g.floatToUnsigned64(from)
		case to.Width == 8 || (to.Width == 4 && to.Unsigned):
			g.out.Emit("cvtt%s2si %%xmm8, %%rax", fsuf(from))
		default:
			g.out.Emit("cvtt%s2si %%xmm8, %%eax", fsuf(from))
		}
		return IntPrimary
	case to.IsFloat():
		if !from.IsInteger() {
			fail(ErrUnexpectedType, n.Tok, "conversion from %s to %s", from, to)
		}
		g.intToFloat(from, to)
		return FloatPrimary
	case from.IsInteger() && (to.IsInteger() || to.IsPointer()):
		if opWidth(to) > from.Width {
			g.extend64(from)
		}
		return IntPrimary
	}
	return slotFor(to)
}

func (g *Generator) intToFloat(from, to *types.Type) {
	fs := fsuf(to)
	if !(from.Unsigned && from.Width == 8) {
		g.extend64(from)
		g.out.Emit("cvtsi2%sq %%rax, %%xmm8", fs)
		return
	}
	// Values with the top bit set are halved, keeping the low bit for
	// rounding, converted and doubled.
	l := g.labels("big", "end")
	g.out.Emit("testq %%rax, %%rax")
	g.out.Emit("js %s", l[0])
	g.out.Emit("cvtsi2%sq %%rax, %%xmm8", fs)
	g.out.Emit("jmp %s", l[1])
	g.out.Label(l[0])
	g.out.Emit("movq %%rax, %%rcx")
	g.out.Emit("shrq %%rcx")
	g.out.Emit("andl $1, %%eax")
	g.out.Emit("orq %%rax, %%rcx")
	g.out.Emit("cvtsi2%sq %%rcx, %%xmm8", fs)
	g.out.Emit("add%s %%xmm8, %%xmm8", fs)
	g.out.Label(l[1])
}

// floatToUnsigned64 truncates %xmm8 to an unsigned 64-bit integer. Values of
// 2^63 and above are rebased below 2^63 for the signed conversion and get
// their top bit back afterwards.
func (g *Generator) floatToUnsigned64(from *types.Type) {
	fs := fsuf(from)
	limit := ripAddr(g.floatLabel(1<<63, from.Width)).Repr()
	l := g.labels("big", "end")
	g.out.Emit("ucomi%s %s, %%xmm8", fs, limit)
	g.out.Emit("jae %s", l[0])
	g.out.Emit("cvtt%s2si %%xmm8, %%rax", fs)
	g.out.Emit("jmp %s", l[1])
	g.out.Label(l[0])
	g.out.Emit("sub%s %s, %%xmm8", fs, limit)
	g.out.Emit("cvtt%s2si %%xmm8, %%rax", fs)
	g.out.Emit("btcq $63, %%rax")
	g.out.Label(l[1])
}
