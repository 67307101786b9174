package codegen

import (
	"strconv"

	"github.com/samber/lo"
	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/types"
	"github.com/xplshn/cgen/pkg/util"
)

// saveAreaBase is the frame offset of a variadic function's register save
// area: six general registers followed by eight vector registers.
const saveAreaBase = -176

func (g *Generator) genFuncDef(n *ast.Node, d ast.FuncDefNode) {
	obj := d.Obj
	ft := obj.Type
	if !ft.IsFunction() {
		fail(ErrUnexpectedType, n.Tok, "definition of '%s' with type %s", obj.Name, ft)
	}
	if ft.Return != nil {
		switch ft.Return.Kind {
		case types.LongDouble, types.Complex:
			fail(ErrUnsupported, n.Tok, "'%s' returns %s", obj.Name, ft.Return)
		}
	}
	label := g.ObjectLabel(obj)

	g.out.Emit(".text")
	if obj.Linkage == types.LinkExternal {
		g.out.Emit(".globl %s", label)
	}
	g.out.Emit(".type %s, @function", label)
	g.fn = &frame{name: label, typ: ft, params: d.Params, start: g.out.Len(), isMain: obj.Name == "main"}
	defer func() { g.fn = nil }()
	g.out.Label(label)
	g.out.Emit("pushq %%rbp")
	g.out.Emit("movq %%rsp, %%rbp")
	g.out.Emit("subq $%s, %%rsp", frameSize)

	retStruct := ft.Return != nil && ft.Return.IsAggregate()
	if retStruct && ft.Return.Width <= 16 {
		util.Warn(g.cfg, config.WarnExtra, n.Tok,
			"'%s' returns %s (%d bytes) through a hidden pointer; System V callers expect it in registers",
			obj.Name, ft.Return, ft.Return.Width)
	}
	paramTypes := lo.Map(d.Params, func(p *types.Object, _ int) *types.Type { return p.Type })
	locs, err := AssignLocations(paramTypes, retStruct)
	if err != nil {
		failErr(err, n.Tok)
	}
	if ft.Variadic {
		g.genSaveArea(retStruct, d.Params, locs)
	} else {
		g.homeParams(retStruct, d.Params, locs)
	}

	g.genBlock(d.Body, d.Params)

	if g.fn.isMain {
		if fallsOffEnd(d.Body) {
			util.Warn(g.cfg, config.WarnPedantic, n.Tok, "control reaches the end of 'main'; it returns 0")
		}
		g.out.Emit("xorl %%eax, %%eax")
	}
	g.out.Emit("leave")
	g.out.Emit("ret")
	g.out.Replace(g.fn.start, frameSize, strconv.Itoa(g.fn.size()))
}

// homeParams spills register parameters into frame slots in order and
// points memory parameters at the caller's outgoing argument area.
func (g *Generator) homeParams(retStruct bool, params []*types.Object, locs []Location) {
	if retStruct {
		g.fn.retAddr = g.Push("rdi")
	}
	k := 0
	for i, p := range params {
		if locs[i].InMemory() {
			p.SetOffset(memParamOffset(k))
			k++
			continue
		}
		p.SetOffset(g.Push(string(locs[i])))
	}
}

// genSaveArea stores every argument register of a variadic function so the
// parameters, and later va_arg, can find them at fixed offsets.
func (g *Generator) genSaveArea(retStruct bool, params []*types.Object, locs []Location) {
	off := saveAreaBase
	for _, r := range intArgRegs {
		g.out.Emit("movq %%%s, %s", r, frameAddr(off).Repr())
		off += 8
	}
	skip := ""
	if g.cfg.IsFeatureEnabled(config.FeatSkipXmmSave) {
		skip = g.labels("va")[0]
		g.out.Emit("testb %%al, %%al")
		g.out.Emit("je %s", skip)
	}
	for _, r := range sseArgRegs {
		g.out.Emit("movaps %%%s, %s", r, frameAddr(off).Repr())
		off += 16
	}
	if skip != "" {
		g.out.Label(skip)
	}
	g.fn.setCursor(saveAreaBase)

	if retStruct {
		g.fn.retAddr = saveAreaBase
	}
	xmmBase := saveAreaBase + 8*len(intArgRegs)
	k := 0
	for i, p := range params {
		switch {
		case locs[i].InMemory():
			p.SetOffset(memParamOffset(k))
			k++
		case locs[i].IsSSE():
			p.SetOffset(xmmBase + 16*lo.IndexOf(sseArgRegs, string(locs[i])))
		default:
			p.SetOffset(saveAreaBase + 8*lo.IndexOf(intArgRegs, string(locs[i])))
		}
	}
}

// fallsOffEnd reports whether control can run past the last statement of
// body.
func fallsOffEnd(body *ast.Node) bool {
	d, ok := body.Data.(ast.BlockNode)
	if !ok {
		return body.Type != ast.Return && body.Type != ast.Goto
	}
	for i := len(d.Stmts) - 1; i >= 0; i-- {
		if s := d.Stmts[i]; s != nil && s.Type != ast.Empty {
			return fallsOffEnd(s)
		}
	}
	return true
}

// genBlock allocates the block's locals, except those listed in exclude,
// then generates its statements.
func (g *Generator) genBlock(n *ast.Node, exclude []*types.Object) {
	d, ok := n.Data.(ast.BlockNode)
	if !ok {
		g.genStmt(n)
		return
	}
	if d.Scope != nil {
		g.fn.setCursor(types.AlignDown(AllocObjects(g.fn.cursor, d.Scope, exclude), 8))
	}
	unreachable := false
	for _, s := range d.Stmts {
		if s == nil {
			continue
		}
		if unreachable && s.Type != ast.Label && s.Type != ast.Empty {
			util.Warn(g.cfg, config.WarnUnreachableCode, s.Tok, "unreachable code")
			unreachable = false
		}
		g.genStmt(s)
		switch s.Type {
		case ast.Return, ast.Goto:
			unreachable = true
		case ast.Label:
			unreachable = false
		}
	}
}

func (g *Generator) localLabel(name string) string {
	return ".L." + g.fn.name + "." + name
}

func (g *Generator) genStmt(n *ast.Node) {
	if n.IsExpr() {
		g.genExpr(n)
		return
	}
	switch d := n.Data.(type) {
	case ast.BlockNode:
		g.genBlock(n, nil)

	case ast.GotoNode:
		g.out.Emit("jmp %s", g.localLabel(d.Label))

	case ast.LabelNode:
		g.out.Label(g.localLabel(d.Name))

	case ast.IfNode:
		l := g.labels("else", "end")
		g.branchIfFalse(d.Cond, l[0])
		g.genStmt(d.ThenBody)
		if d.ElseBody != nil {
			g.out.Emit("jmp %s", l[1])
		}
		g.out.Label(l[0])
		if d.ElseBody != nil {
			g.genStmt(d.ElseBody)
			g.out.Label(l[1])
		}

	case ast.ReturnNode:
		g.genReturn(d)

	case ast.DeclNode:
		g.genDecl(n, d)

	case ast.EmptyNode:

	default:
		fail(ErrUnexpectedType, n.Tok, "%s statement inside a function", n.Type)
	}
}

func (g *Generator) genReturn(d ast.ReturnNode) {
	if d.Expr != nil {
		s := g.genExpr(d.Expr)
		switch {
		case d.Expr.Typ != nil && d.Expr.Typ.IsAggregate():
			g.out.Emit("movq %s, %%r11", frameAddr(g.fn.retAddr).Repr())
			g.copyStruct(ObjectAddr{Base: "r11"}, d.Expr.Typ.Width)
			g.out.Emit("movq %%r11, %%rax")
		case s == FloatPrimary:
			g.out.Emit("movaps %%xmm8, %%xmm0")
		}
	}
	g.out.Emit("leave")
	g.out.Emit("ret")
}

// genDecl initializes an automatic object, or routes a static one to the
// data emitter. Statics without linkage are emitted after the enclosing
// top-level declaration.
func (g *Generator) genDecl(n *ast.Node, d ast.DeclNode) {
	obj := d.Obj
	if obj.IsStatic() {
		if obj.Linkage == types.LinkNone {
			g.batch.statics = append(g.batch.statics, n)
		}
		return
	}
	if !obj.Placed {
		obj.SetOffset(g.fn.grow(obj.Type.Width, obj.Type.Align))
		g.fn.setCursor(types.AlignDown(g.fn.cursor, 8))
	}
	base := frameAddr(obj.Offset)
	for _, init := range d.Inits {
		dst := base.Add(init.Offset)
		if s, ok := init.Expr.Data.(ast.StringNode); ok && init.Typ.IsArray() {
			g.genExpr(init.Expr)
			size := min(len(s.Value)+1, init.Typ.Width)
			g.copyStruct(dst, size)
			g.zeroFill(dst.Add(size), init.Typ.Width-size)
			continue
		}
		g.genExpr(init.Expr)
		g.store(dst, init.Typ)
	}
}
