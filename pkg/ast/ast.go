// Package ast defines the typed Abstract Syntax Tree the code generator consumes
package ast

import (
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Number NodeType = iota
	FloatNum
	String
	Object
	Ident
	Assign
	BinaryOp
	UnaryOp
	PostfixOp
	FuncCall
	Indirection
	AddressOf
	Ternary
	Subscript
	MemberAccess
	TypeCast

	// Statements
	FuncDef
	Decl
	If
	Return
	Block
	Goto
	Label
	Empty
)

var nodeTypeNames = [...]string{
	Number: "number", FloatNum: "float", String: "string", Object: "object", Ident: "ident",
	Assign: "assign", BinaryOp: "binary", UnaryOp: "unary", PostfixOp: "postfix",
	FuncCall: "call", Indirection: "deref", AddressOf: "addr", Ternary: "ternary",
	Subscript: "subscript", MemberAccess: "member", TypeCast: "cast",
	FuncDef: "funcdef", Decl: "decl", If: "if", Return: "return", Block: "block",
	Goto: "goto", Label: "label", Empty: "empty",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return "unknown"
}

// Node represents a node in the Abstract Syntax Tree. Typ is the resolved
// type of an expression and is nil for statements.
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
	Typ    *types.Type
}

// IsExpr reports whether the node is an expression variant.
func (n *Node) IsExpr() bool { return n.Type < FuncDef }

// Scope lists the objects declared directly in a block, in declaration order.
type Scope struct {
	Objects []*types.Object
}

func NewScope(objs ...*types.Object) *Scope { return &Scope{Objects: objs} }

func (s *Scope) Declare(obj *types.Object) { s.Objects = append(s.Objects, obj) }

// Initializer stores Expr at byte Offset within the declared object. Typ is
// the type of the sub-object being initialized.
type Initializer struct {
	Offset int
	Typ    *types.Type
	Expr   *Node
}

// TranslationUnit is the ordered list of top-level declarations of one file.
type TranslationUnit struct {
	File  string
	Decls []*Node
}

// --- Node Data Structs ---
type NumberNode struct{ Value int64 }
type FloatNode struct{ Value float64 }
type StringNode struct{ Value string }
type ObjectNode struct{ Obj *types.Object }
type IdentNode struct{ Name string }
type AssignNode struct{ Lhs, Rhs *Node }
type BinaryOpNode struct {
	Op          token.Type
	Left, Right *Node
}
type UnaryOpNode struct {
	Op   token.Type
	Expr *Node
}
type PostfixOpNode struct {
	Op   token.Type
	Expr *Node
}
type IndirectionNode struct{ Expr *Node }
type AddressOfNode struct{ LValue *Node }
type TernaryNode struct{ Cond, ThenExpr, ElseExpr *Node }
type SubscriptNode struct{ Array, Index *Node }
type MemberAccessNode struct {
	Expr   *Node
	Member *types.Member
}
type TypeCastNode struct {
	Expr       *Node
	TargetType *types.Type
}
type FuncCallNode struct {
	FuncExpr *Node
	Args     []*Node
}
type FuncDefNode struct {
	Obj    *types.Object
	Params []*types.Object
	Body   *Node
}
type DeclNode struct {
	Obj   *types.Object
	Inits []Initializer
}
type IfNode struct{ Cond, ThenBody, ElseBody *Node }
type ReturnNode struct{ Expr *Node }
type BlockNode struct {
	Stmts []*Node
	Scope *Scope
}
type GotoNode struct{ Label string }
type LabelNode struct{ Name string }
type EmptyNode struct{}

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, typ *types.Type, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data, Typ: typ}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func NewNumber(tok token.Token, typ *types.Type, value int64) *Node {
	return newNode(tok, Number, typ, NumberNode{Value: value})
}
func NewFloat(tok token.Token, typ *types.Type, value float64) *Node {
	return newNode(tok, FloatNum, typ, FloatNode{Value: value})
}

// NewString builds a string literal of type char[len(value)+1].
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, types.ArrayOf(types.TypeChar, len(value)+1), StringNode{Value: value})
}
func NewObject(tok token.Token, obj *types.Object) *Node {
	return newNode(tok, Object, obj.Type, ObjectNode{Obj: obj})
}

// NewIdent names a function by its link-time symbol.
func NewIdent(tok token.Token, name string, fn *types.Type) *Node {
	return newNode(tok, Ident, fn, IdentNode{Name: name})
}
func NewAssign(tok token.Token, lhs, rhs *Node) *Node {
	return newNode(tok, Assign, lhs.Typ, AssignNode{Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewBinaryOp(tok token.Token, op token.Type, typ *types.Type, left, right *Node) *Node {
	return newNode(tok, BinaryOp, typ, BinaryOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewUnaryOp(tok token.Token, op token.Type, typ *types.Type, expr *Node) *Node {
	return newNode(tok, UnaryOp, typ, UnaryOpNode{Op: op, Expr: expr}, expr)
}
func NewPostfixOp(tok token.Token, op token.Type, expr *Node) *Node {
	return newNode(tok, PostfixOp, expr.Typ, PostfixOpNode{Op: op, Expr: expr}, expr)
}
func NewIndirection(tok token.Token, expr *Node) *Node {
	var typ *types.Type
	if expr.Typ != nil {
		typ = expr.Typ.Base
	}
	return newNode(tok, Indirection, typ, IndirectionNode{Expr: expr}, expr)
}
func NewAddressOf(tok token.Token, lvalue *Node) *Node {
	return newNode(tok, AddressOf, types.PointerTo(lvalue.Typ), AddressOfNode{LValue: lvalue}, lvalue)
}
func NewTernary(tok token.Token, typ *types.Type, cond, thenExpr, elseExpr *Node) *Node {
	return newNode(tok, Ternary, typ, TernaryNode{Cond: cond, ThenExpr: thenExpr, ElseExpr: elseExpr}, cond, thenExpr, elseExpr)
}
func NewSubscript(tok token.Token, array, index *Node) *Node {
	var typ *types.Type
	if array.Typ != nil {
		typ = array.Typ.Base
	}
	return newNode(tok, Subscript, typ, SubscriptNode{Array: array, Index: index}, array, index)
}
func NewMemberAccess(tok token.Token, expr *Node, member *types.Member) *Node {
	return newNode(tok, MemberAccess, member.Type, MemberAccessNode{Expr: expr, Member: member}, expr)
}
func NewTypeCast(tok token.Token, expr *Node, targetType *types.Type) *Node {
	return newNode(tok, TypeCast, targetType, TypeCastNode{Expr: expr, TargetType: targetType}, expr)
}

// NewFuncCall takes the result type from the callee's function type.
func NewFuncCall(tok token.Token, funcExpr *Node, args []*Node) *Node {
	var typ *types.Type
	if ft := funcExpr.Typ.FuncType(); ft != nil {
		typ = ft.Return
	}
	node := newNode(tok, FuncCall, typ, FuncCallNode{FuncExpr: funcExpr, Args: args}, funcExpr)
	for _, arg := range args {
		arg.Parent = node
	}
	return node
}
func NewFuncDef(tok token.Token, obj *types.Object, params []*types.Object, body *Node) *Node {
	return newNode(tok, FuncDef, nil, FuncDefNode{Obj: obj, Params: params, Body: body}, body)
}
func NewDecl(tok token.Token, obj *types.Object, inits []Initializer) *Node {
	node := newNode(tok, Decl, nil, DeclNode{Obj: obj, Inits: inits})
	for _, init := range inits {
		init.Expr.Parent = node
	}
	return node
}
func NewIf(tok token.Token, cond, thenBody, elseBody *Node) *Node {
	return newNode(tok, If, nil, IfNode{Cond: cond, ThenBody: thenBody, ElseBody: elseBody}, cond, thenBody, elseBody)
}
func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, nil, ReturnNode{Expr: expr}, expr)
}

// NewBlock builds a compound statement. scope is nil when the block declares
// nothing.
func NewBlock(tok token.Token, scope *Scope, stmts []*Node) *Node {
	node := newNode(tok, Block, nil, BlockNode{Stmts: stmts, Scope: scope})
	for _, s := range stmts {
		if s != nil {
			s.Parent = node
		}
	}
	return node
}
func NewGoto(tok token.Token, label string) *Node {
	return newNode(tok, Goto, nil, GotoNode{Label: label})
}
func NewLabel(tok token.Token, name string) *Node {
	return newNode(tok, Label, nil, LabelNode{Name: name})
}
func NewEmpty(tok token.Token) *Node {
	return newNode(tok, Empty, nil, EmptyNode{})
}
