// Package tujson decodes the JSON hand-off format a front end uses to pass a
// typed translation unit to the code generator.
//
// A unit carries three tables. Types and objects are referenced from nodes
// and from each other by index, so a struct may point to itself. Expressions
// and statements are objects discriminated by "kind":
//
//	{
//	  "file": "prog.c",
//	  "types":   [{"kind": "integer", "width": 4, "align": 4, "name": "int"}, ...],
//	  "objects": [{"name": "main", "type": 3, "storage": "static", "linkage": "external"}, ...],
//	  "decls":   [{"kind": "funcdef", "object": 0, "params": [], "body": {...}}, ...]
//	}
package tujson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

var ErrMalformed = errors.New("malformed translation unit")

// Unit is the document form of a translation unit. Sources optionally lists
// the C files the unit was parsed from, for diagnostics.
type Unit struct {
	File    string   `json:"file"`
	Types   []Type   `json:"types"`
	Objects []Object `json:"objects"`
	Decls   []*Node  `json:"decls"`
	Sources []string `json:"sources,omitempty"`
}

type Member struct {
	Name   string `json:"name"`
	Type   int    `json:"type"`
	Offset *int   `json:"offset,omitempty"`
}

// Type describes one entry of the type table. Width and Align may be left
// out for pointers, arrays, functions and structs, which are then laid out
// from their components.
type Type struct {
	Kind     string   `json:"kind"`
	Name     string   `json:"name,omitempty"`
	Width    int      `json:"width,omitempty"`
	Align    int      `json:"align,omitempty"`
	Unsigned bool     `json:"unsigned,omitempty"`
	Base     *int     `json:"base,omitempty"`
	Len      int      `json:"len,omitempty"`
	Members  []Member `json:"members,omitempty"`
	Return   *int     `json:"return,omitempty"`
	Params   []int    `json:"params,omitempty"`
	Variadic bool     `json:"variadic,omitempty"`
}

type Object struct {
	Name    string `json:"name"`
	Type    int    `json:"type"`
	Storage string `json:"storage,omitempty"`
	Linkage string `json:"linkage,omitempty"`
}

type Init struct {
	Offset int   `json:"offset"`
	Type   int   `json:"type"`
	Expr   *Node `json:"expr"`
}

// Node is an expression or statement. Which fields are meaningful depends
// on Kind.
type Node struct {
	Kind string `json:"kind"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
	Len  int    `json:"len,omitempty"`

	Type   *int    `json:"type,omitempty"`
	Object *int    `json:"object,omitempty"`
	Int    int64   `json:"int,omitempty"`
	Float  float64 `json:"float,omitempty"`
	Str    string  `json:"str,omitempty"`
	Name   string  `json:"name,omitempty"`
	Op     string  `json:"op,omitempty"`
	Member string  `json:"member,omitempty"`

	Left  *Node   `json:"left,omitempty"`
	Right *Node   `json:"right,omitempty"`
	Expr  *Node   `json:"expr,omitempty"`
	Cond  *Node   `json:"cond,omitempty"`
	Then  *Node   `json:"then,omitempty"`
	Else  *Node   `json:"else,omitempty"`
	Args  []*Node `json:"args,omitempty"`

	Params []int   `json:"params,omitempty"`
	Scope  []int   `json:"scope,omitempty"`
	Inits  []Init  `json:"inits,omitempty"`
	Body   *Node   `json:"body,omitempty"`
	Stmts  []*Node `json:"stmts,omitempty"`
}

// Decode reads a unit from r and resolves it into an AST.
func Decode(r io.Reader) (*ast.TranslationUnit, error) {
	u, err := Read(r)
	if err != nil {
		return nil, err
	}
	return u.Resolve()
}

// Read parses the document without resolving it.
func Read(r io.Reader) (*Unit, error) {
	var u Unit
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return nil, fmt.Errorf("decoding translation unit: %w", err)
	}
	return &u, nil
}

// Resolve builds the AST of u.
func (u *Unit) Resolve() (tu *ast.TranslationUnit, err error) {
	d := &decoder{unit: u, state: make([]int, len(u.Types))}
	defer func() {
		if r := recover(); r != nil {
			de, ok := r.(decodeError)
			if !ok {
				panic(r)
			}
			tu, err = nil, de.err
		}
	}()

	d.types = make([]*types.Type, len(u.Types))
	for i := range d.types {
		d.types[i] = &types.Type{}
	}
	for i := range u.Types {
		d.complete(i)
	}
	d.objects = make([]*types.Object, len(u.Objects))
	for i, o := range u.Objects {
		d.objects[i] = types.NewObject(o.Name, d.typ(o.Type), d.storage(o.Storage), d.linkage(o.Linkage))
	}

	tu = &ast.TranslationUnit{File: u.File}
	for _, n := range u.Decls {
		tu.Decls = append(tu.Decls, d.stmt(n))
	}
	return tu, nil
}

type decodeError struct{ err error }

type decoder struct {
	unit    *Unit
	types   []*types.Type
	state   []int
	objects []*types.Object
}

func (d *decoder) fail(n *Node, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if n != nil {
		msg = fmt.Sprintf("%d:%d: %s", n.Line, n.Col, msg)
	}
	panic(decodeError{fmt.Errorf("%s: %w", msg, ErrMalformed)})
}

func (d *decoder) typ(i int) *types.Type {
	if i < 0 || i >= len(d.types) {
		d.fail(nil, "type index %d out of range", i)
	}
	return d.types[i]
}

func (d *decoder) obj(n *Node) *types.Object {
	if n.Object == nil || *n.Object < 0 || *n.Object >= len(d.objects) {
		d.fail(n, "%s needs a valid object index", n.Kind)
	}
	return d.objects[*n.Object]
}

func (d *decoder) objList(n *Node, idx []int) []*types.Object {
	objs := make([]*types.Object, len(idx))
	for k, i := range idx {
		objs[k] = d.obj(&Node{Kind: n.Kind, Line: n.Line, Col: n.Col, Object: &i})
	}
	return objs
}

var kinds = map[string]types.Kind{
	"void":        types.Void,
	"_Bool":       types.Bool,
	"bool":        types.Bool,
	"integer":     types.Integer,
	"float":       types.Float,
	"double":      types.Double,
	"long double": types.LongDouble,
	"complex":     types.Complex,
	"pointer":     types.Pointer,
	"array":       types.Array,
	"struct":      types.StructUnion,
	"union":       types.StructUnion,
	"function":    types.Function,
}

// complete fills in type i. Pointers do not complete their base, which lets
// self-referential structs resolve.
func (d *decoder) complete(i int) *types.Type {
	t := d.typ(i)
	switch d.state[i] {
	case 2:
		return t
	case 1:
		d.fail(nil, "type %d contains itself", i)
	}
	d.state[i] = 1
	defer func() { d.state[i] = 2 }()

	src := d.unit.Types[i]
	kind, ok := kinds[src.Kind]
	if !ok {
		d.fail(nil, "type %d has unknown kind %q", i, src.Kind)
	}
	ref := func(p *int) *types.Type {
		if p == nil {
			d.fail(nil, "%s type %d has no component type", src.Kind, i)
		}
		return d.typ(*p)
	}

	switch kind {
	case types.Pointer:
		*t = *types.PointerTo(ref(src.Base))
	case types.Array:
		elem := ref(src.Base)
		d.complete(*src.Base)
		*t = *types.ArrayOf(elem, src.Len)
	case types.Function:
		ret := ref(src.Return)
		params := make([]*types.Type, len(src.Params))
		for k, p := range src.Params {
			params[k] = d.typ(p)
		}
		*t = *types.FuncOf(ret, params, src.Variadic)
	case types.StructUnion:
		members := make([]*types.Member, len(src.Members))
		explicit := true
		for k, m := range src.Members {
			d.complete(m.Type)
			members[k] = &types.Member{Name: m.Name, Type: d.typ(m.Type)}
			if m.Offset == nil {
				explicit = false
			} else {
				members[k].Offset = *m.Offset
			}
		}
		if explicit && src.Width > 0 {
			*t = types.Type{Kind: types.StructUnion, Width: src.Width, Align: max(src.Align, 1), Name: src.Name, Members: members}
		} else {
			*t = *types.StructOf(src.Name, src.Kind == "union", members...)
		}
	default:
		if src.Width <= 0 {
			d.fail(nil, "%s type %d has no width", src.Kind, i)
		}
		*t = types.Type{Kind: kind, Width: src.Width, Align: max(src.Align, 1), Unsigned: src.Unsigned || kind == types.Bool}
	}
	if src.Name != "" {
		t.Name = src.Name
	}
	if src.Width > 0 {
		t.Width = src.Width
	}
	if src.Align > 0 {
		t.Align = src.Align
	}
	return t
}

func (d *decoder) storage(s string) types.Storage {
	switch s {
	case "", "auto":
		return types.Auto
	case "static":
		return types.Static
	case "extern":
		return types.Extern
	}
	d.fail(nil, "unknown storage %q", s)
	return 0
}

func (d *decoder) linkage(s string) types.Linkage {
	switch s {
	case "", "none":
		return types.LinkNone
	case "internal":
		return types.LinkInternal
	case "external":
		return types.LinkExternal
	}
	d.fail(nil, "unknown linkage %q", s)
	return 0
}

func tok(n *Node) token.Token {
	return token.Token{Line: n.Line, Column: n.Col, Len: n.Len}
}

func (d *decoder) nodeType(n *Node) *types.Type {
	if n.Type == nil {
		d.fail(n, "%s needs a type", n.Kind)
	}
	return d.typ(*n.Type)
}

func (d *decoder) op(n *Node) token.Type {
	op, ok := token.OpMap[n.Op]
	if !ok {
		d.fail(n, "unknown operator %q", n.Op)
	}
	return op
}

func (d *decoder) need(n *Node, child *Node, role string) *Node {
	if child == nil {
		d.fail(n, "%s has no %s", n.Kind, role)
	}
	return child
}

func (d *decoder) expr(n *Node) *ast.Node {
	if n == nil {
		return nil
	}
	t := tok(n)
	switch n.Kind {
	case "number":
		return ast.NewNumber(t, d.nodeType(n), n.Int)
	case "float":
		return ast.NewFloat(t, d.nodeType(n), n.Float)
	case "string":
		return ast.NewString(t, n.Str)
	case "object":
		return ast.NewObject(t, d.obj(n))
	case "ident":
		return ast.NewIdent(t, n.Name, d.nodeType(n))
	case "assign":
		return ast.NewAssign(t, d.expr(d.need(n, n.Left, "left")), d.expr(d.need(n, n.Right, "right")))
	case "binary":
		return ast.NewBinaryOp(t, d.op(n), d.nodeType(n), d.expr(d.need(n, n.Left, "left")), d.expr(d.need(n, n.Right, "right")))
	case "unary":
		return ast.NewUnaryOp(t, d.op(n), d.nodeType(n), d.expr(d.need(n, n.Expr, "operand")))
	case "postfix":
		return ast.NewPostfixOp(t, d.op(n), d.expr(d.need(n, n.Expr, "operand")))
	case "deref":
		return ast.NewIndirection(t, d.expr(d.need(n, n.Expr, "operand")))
	case "addr":
		return ast.NewAddressOf(t, d.expr(d.need(n, n.Expr, "operand")))
	case "ternary":
		return ast.NewTernary(t, d.nodeType(n), d.expr(d.need(n, n.Cond, "condition")),
			d.expr(d.need(n, n.Then, "then")), d.expr(d.need(n, n.Else, "else")))
	case "subscript":
		return ast.NewSubscript(t, d.expr(d.need(n, n.Left, "array")), d.expr(d.need(n, n.Right, "index")))
	case "member":
		base := d.expr(d.need(n, n.Expr, "operand"))
		var m *types.Member
		if base.Typ != nil {
			m = base.Typ.Member(n.Member)
		}
		if m == nil {
			d.fail(n, "no member %q in %s", n.Member, base.Typ)
		}
		return ast.NewMemberAccess(t, base, m)
	case "cast":
		return ast.NewTypeCast(t, d.expr(d.need(n, n.Expr, "operand")), d.nodeType(n))
	case "call":
		args := make([]*ast.Node, len(n.Args))
		for i, a := range n.Args {
			args[i] = d.expr(a)
		}
		fn := d.expr(d.need(n, n.Expr, "callee"))
		if fn.Typ.FuncType() == nil {
			d.fail(n, "call of non-function %s", fn.Typ)
		}
		return ast.NewFuncCall(t, fn, args)
	}
	d.fail(n, "unknown expression kind %q", n.Kind)
	return nil
}

func (d *decoder) stmt(n *Node) *ast.Node {
	if n == nil {
		return nil
	}
	t := tok(n)
	switch n.Kind {
	case "funcdef":
		return ast.NewFuncDef(t, d.obj(n), d.objList(n, n.Params), d.stmt(d.need(n, n.Body, "body")))
	case "decl":
		inits := make([]ast.Initializer, len(n.Inits))
		for i, in := range n.Inits {
			inits[i] = ast.Initializer{Offset: in.Offset, Typ: d.typ(in.Type), Expr: d.expr(d.need(n, in.Expr, "initializer"))}
		}
		return ast.NewDecl(t, d.obj(n), inits)
	case "if":
		return ast.NewIf(t, d.expr(d.need(n, n.Cond, "condition")), d.stmt(d.need(n, n.Then, "then")), d.stmt(n.Else))
	case "return":
		return ast.NewReturn(t, d.expr(n.Expr))
	case "block":
		var scope *ast.Scope
		if len(n.Scope) > 0 {
			scope = ast.NewScope(d.objList(n, n.Scope)...)
		}
		stmts := make([]*ast.Node, len(n.Stmts))
		for i, s := range n.Stmts {
			stmts[i] = d.stmt(s)
		}
		return ast.NewBlock(t, scope, stmts)
	case "goto":
		return ast.NewGoto(t, n.Name)
	case "label":
		return ast.NewLabel(t, n.Name)
	case "empty":
		return ast.NewEmpty(t)
	}
	return d.expr(n)
}
