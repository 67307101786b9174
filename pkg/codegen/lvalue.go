package codegen

import (
	"github.com/xplshn/cgen/pkg/ast"
)

// genLvalue computes the address of n. Addresses through a pointer are left
// in %r11.
func (g *Generator) genLvalue(n *ast.Node) ObjectAddr {
	switch d := n.Data.(type) {
	case ast.ObjectNode:
		obj := d.Obj
		if obj.IsStatic() {
			return ripAddr(g.ObjectLabel(obj))
		}
		if !obj.Placed {
			fail(ErrUnexpectedType, n.Tok, "automatic object '%s' has no frame slot", obj.Name)
		}
		return frameAddr(obj.Offset)

	case ast.IdentNode:
		return ripAddr(d.Name)

	case ast.MemberAccessNode:
		return g.genLvalue(d.Expr).Add(d.Member.Offset)

	case ast.IndirectionNode:
		g.genExpr(d.Expr)
		g.out.Emit("movq %%rax, %%r11")
		return ObjectAddr{Base: "r11"}

	case ast.SubscriptNode:
		g.genPtrArith(n, d.Array, d.Index, true)
		g.out.Emit("movq %%rax, %%r11")
		return ObjectAddr{Base: "r11"}

	case ast.FuncCallNode, ast.TernaryNode, ast.AssignNode:
		// Aggregate-valued expressions evaluate to the address of their storage.
		if n.Typ != nil && n.Typ.IsAggregate() {
			g.genExpr(n)
			g.out.Emit("movq %%rax, %%r11")
			return ObjectAddr{Base: "r11"}
		}
	}
	fail(ErrNotLvalue, n.Tok, "%s expression has no address", n.Type)
	return ObjectAddr{}
}
