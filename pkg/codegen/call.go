package codegen

import (
	"github.com/samber/lo"
	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/types"
)

// directCallee returns the symbol of a callee that can be called by name.
func (g *Generator) directCallee(fn *ast.Node) (string, bool) {
	switch d := fn.Data.(type) {
	case ast.IdentNode:
		return d.Name, true
	case ast.ObjectNode:
		if d.Obj.Type.IsFunction() {
			return g.ObjectLabel(d.Obj), true
		}
	case ast.IndirectionNode:
		return g.directCallee(d.Expr)
	case ast.AddressOfNode:
		return g.directCallee(d.LValue)
	}
	return "", false
}

// genCall emits a call. Memory arguments are evaluated last to first and
// pushed so the first lands at %rsp. Register arguments are then evaluated
// last to first into frame slots and loaded into their registers together,
// so no argument register is live while another argument is computed.
func (g *Generator) genCall(n *ast.Node, d ast.FuncCallNode) Slot {
	ft := d.FuncExpr.Typ.FuncType()
	if ft == nil {
		fail(ErrUnexpectedType, n.Tok, "call through %s", d.FuncExpr.Typ)
	}
	saved := g.fn.cursor

	name, direct := g.directCallee(d.FuncExpr)
	fnSlot := 0
	if !direct {
		g.genExpr(d.FuncExpr)
		fnSlot = g.Push("rax")
	}

	retStruct := ft.Return != nil && ft.Return.IsAggregate()
	retBuf := 0
	if retStruct {
		retBuf = g.fn.grow(ft.Return.Width, max(ft.Return.Align, 8))
	}

	argTypes := lo.Map(d.Args, func(a *ast.Node, _ int) *types.Type { return a.Typ })
	locs, err := AssignLocations(argTypes, retStruct)
	if err != nil {
		failErr(err, n.Tok)
	}

	nMem := lo.Count(locs, Mem)
	pad := types.AlignDown(g.fn.cursor, 16)
	if nMem%2 == 1 {
		pad -= 8
	}
	g.fn.setCursor(pad)

	for i := len(d.Args) - 1; i >= 0; i-- {
		if locs[i].InMemory() {
			g.Push(g.genExpr(d.Args[i]).Reg())
		}
	}
	stackTop := g.fn.cursor

	for i := len(d.Args) - 1; i >= 0; i-- {
		if !locs[i].InMemory() {
			g.Push(g.genExpr(d.Args[i]).Reg())
		}
	}
	for i := range d.Args {
		if !locs[i].InMemory() {
			g.Pop(string(locs[i]))
		}
	}
	if retStruct {
		g.out.Emit("leaq %s, %%rdi", frameAddr(retBuf).Repr())
	}
	if ft.Variadic {
		g.out.Emit("movl $%d, %%eax", lo.CountBy(locs, Location.IsSSE))
	}

	g.out.Emit("leaq %s, %%rsp", frameAddr(stackTop).Repr())
	if direct {
		g.out.Emit("call %s", name)
	} else {
		g.out.Emit("movq %s, %%r11", frameAddr(fnSlot).Repr())
		g.out.Emit("call *%%r11")
	}
	g.out.Emit("leaq -%s(%%rbp), %%rsp", frameSize)
	g.fn.cursor = saved

	switch {
	case ft.Return == nil || ft.Return.Kind == types.Void:
		return IntPrimary
	case ft.Return.IsFloat():
		g.out.Emit("movaps %%xmm0, %%xmm8")
		return FloatPrimary
	}
	return IntPrimary
}
