// Package eval reduces constant expressions to literal values. The code
// generator consults an Evaluator for static initializers.
package eval

import (
	"errors"
	"fmt"
	"math"

	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

// ErrNotConstant is returned when an expression has no compile-time value.
var ErrNotConstant = errors.New("not a compile-time constant")

// Kind is the semantic class of a constant.
type Kind int

const (
	Int Kind = iota
	Float
	Address
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "integer"
	case Float:
		return "float"
	}
	return "address"
}

// Value is a folded constant. An Address is Offset bytes past the start of
// Obj, of the function named Sym, or of the string literal Str (HasStr).
type Value struct {
	Kind   Kind
	Int    int64
	Float  float64
	Obj    *types.Object
	Sym    string
	Str    string
	HasStr bool
}

// Evaluator reduces n to a constant of the class requested by want.
type Evaluator interface {
	Eval(n *ast.Node, want Kind) (Value, error)
}

// KindOf maps a type to the constant class used to initialize it.
func KindOf(t *types.Type) Kind {
	switch {
	case t.IsFloat():
		return Float
	case t.IsPointer(), t.IsArray(), t.IsFunction():
		return Address
	}
	return Int
}

// Folder is the default Evaluator. It folds integer and floating arithmetic,
// casts, conditionals and the addresses of static objects, functions and
// string literals.
type Folder struct{}

func (Folder) Eval(n *ast.Node, want Kind) (Value, error) {
	v, err := fold(n)
	if err != nil {
		return Value{}, err
	}
	return convert(n, v, want)
}

func notConstant(n *ast.Node, format string, args ...interface{}) error {
	return fmt.Errorf("%d:%d: %s: %w", n.Tok.Line, n.Tok.Column, fmt.Sprintf(format, args...), ErrNotConstant)
}

func convert(n *ast.Node, v Value, want Kind) (Value, error) {
	switch {
	case v.Kind == want:
		return v, nil
	case want == Float && v.Kind == Int:
		return Value{Kind: Float, Float: float64(v.Int)}, nil
	case want == Int && v.Kind == Float:
		return Value{Kind: Int, Int: int64(v.Float)}, nil
	case want == Address && v.Kind == Int:
		// (char *)16 and null pointers
		return Value{Kind: Address, Int: v.Int}, nil
	}
	return Value{}, notConstant(n, "%s value used where %s is required", v.Kind, want)
}

func isNumeric(v Value) bool { return v.Kind == Int || v.Kind == Float }

func fold(n *ast.Node) (Value, error) {
	switch d := n.Data.(type) {
	case ast.NumberNode:
		return Value{Kind: Int, Int: d.Value}, nil
	case ast.FloatNode:
		return Value{Kind: Float, Float: d.Value}, nil
	case ast.StringNode:
		return Value{Kind: Address, Str: d.Value, HasStr: true}, nil
	case ast.IdentNode:
		return Value{Kind: Address, Sym: d.Name}, nil
	case ast.ObjectNode:
		if d.Obj.Type.IsArray() || d.Obj.Type.IsFunction() {
			return foldAddr(n)
		}
		return Value{}, notConstant(n, "value of '%s'", d.Obj.Name)
	case ast.AddressOfNode:
		return foldAddr(d.LValue)
	case ast.TypeCastNode:
		v, err := fold(d.Expr)
		if err != nil {
			return Value{}, err
		}
		return castValue(n, v, d.TargetType)
	case ast.TernaryNode:
		c, err := fold(d.Cond)
		if err != nil {
			return Value{}, err
		}
		if truth(c) {
			return fold(d.ThenExpr)
		}
		return fold(d.ElseExpr)
	case ast.UnaryOpNode:
		return foldUnary(n, d)
	case ast.BinaryOpNode:
		return foldBinary(n, d)
	}
	return Value{}, notConstant(n, "%s expression", n.Type)
}

func truth(v Value) bool {
	switch v.Kind {
	case Float:
		return v.Float != 0
	case Int:
		return v.Int != 0
	}
	return true
}

func castValue(n *ast.Node, v Value, t *types.Type) (Value, error) {
	switch {
	case t.Kind == types.Bool:
		if truth(v) {
			return Value{Kind: Int, Int: 1}, nil
		}
		return Value{Kind: Int}, nil
	case t.IsInteger():
		if v.Kind == Address {
			return Value{}, notConstant(n, "address cast to %s", t)
		}
		if v.Kind == Float {
			v = Value{Kind: Int, Int: int64(v.Float)}
		}
		return Value{Kind: Int, Int: truncate(v.Int, t)}, nil
	case t.Kind == types.Float:
		f, err := convert(n, v, Float)
		f.Float = float64(float32(f.Float))
		return f, err
	case t.Kind == types.Double:
		return convert(n, v, Float)
	case t.IsPointer():
		return convert(n, v, Address)
	}
	return Value{}, notConstant(n, "cast to %s", t)
}

// truncate reduces x to the width and signedness of t.
func truncate(x int64, t *types.Type) int64 {
	if t.Width >= 8 {
		return x
	}
	shift := uint(64 - 8*t.Width)
	if t.Unsigned {
		return int64(uint64(x) << shift >> shift)
	}
	return x << shift >> shift
}

func foldUnary(n *ast.Node, d ast.UnaryOpNode) (Value, error) {
	v, err := fold(d.Expr)
	if err != nil {
		return Value{}, err
	}
	if !isNumeric(v) {
		return Value{}, notConstant(n, "operator '%s' on an address", d.Op)
	}
	switch d.Op {
	case token.Minus:
		if v.Kind == Float {
			return Value{Kind: Float, Float: -v.Float}, nil
		}
		return Value{Kind: Int, Int: -v.Int}, nil
	case token.Complement:
		if v.Kind == Int {
			return Value{Kind: Int, Int: ^v.Int}, nil
		}
	case token.Not:
		if truth(v) {
			return Value{Kind: Int}, nil
		}
		return Value{Kind: Int, Int: 1}, nil
	case token.Plus:
		return v, nil
	}
	return Value{}, notConstant(n, "unary operator '%s'", d.Op)
}

func foldBinary(n *ast.Node, d ast.BinaryOpNode) (Value, error) {
	l, err := fold(d.Left)
	if err != nil {
		return Value{}, err
	}
	if d.Op == token.AndAnd || d.Op == token.OrOr {
		if truth(l) == (d.Op == token.OrOr) {
			return Value{Kind: Int, Int: b2i(d.Op == token.OrOr)}, nil
		}
		r, err := fold(d.Right)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Int, Int: b2i(truth(r))}, nil
	}
	r, err := fold(d.Right)
	if err != nil {
		return Value{}, err
	}

	if l.Kind == Address || r.Kind == Address {
		return foldAddrArith(n, d, l, r)
	}
	if l.Kind == Float || r.Kind == Float {
		lf, _ := convert(n, l, Float)
		rf, _ := convert(n, r, Float)
		return foldFloat(n, d.Op, lf.Float, rf.Float)
	}
	unsigned := d.Left.Typ != nil && d.Left.Typ.Unsigned
	return foldInt(n, d.Op, l.Int, r.Int, unsigned)
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func foldInt(n *ast.Node, op token.Type, l, r int64, unsigned bool) (Value, error) {
	var res int64
	switch op {
	case token.Plus:
		res = l + r
	case token.Minus:
		res = l - r
	case token.Star:
		res = l * r
	case token.And:
		res = l & r
	case token.Or:
		res = l | r
	case token.Xor:
		res = l ^ r
	case token.Shl:
		res = l << uint64(r)
	case token.Shr:
		if unsigned {
			res = int64(uint64(l) >> uint64(r))
		} else {
			res = l >> uint64(r)
		}
	case token.EqEq:
		res = b2i(l == r)
	case token.Neq:
		res = b2i(l != r)
	case token.Lt:
		res = b2i(l < r)
		if unsigned {
			res = b2i(uint64(l) < uint64(r))
		}
	case token.Gt:
		res = b2i(l > r)
		if unsigned {
			res = b2i(uint64(l) > uint64(r))
		}
	case token.Lte:
		res = b2i(l <= r)
		if unsigned {
			res = b2i(uint64(l) <= uint64(r))
		}
	case token.Gte:
		res = b2i(l >= r)
		if unsigned {
			res = b2i(uint64(l) >= uint64(r))
		}
	case token.Slash, token.Rem:
		if r == 0 {
			return Value{}, notConstant(n, "division by zero")
		}
		switch {
		case unsigned && op == token.Slash:
			res = int64(uint64(l) / uint64(r))
		case unsigned:
			res = int64(uint64(l) % uint64(r))
		case op == token.Slash:
			res = l / r
		default:
			res = l % r
		}
	default:
		return Value{}, notConstant(n, "binary operator '%s'", op)
	}
	if n.Typ != nil && n.Typ.IsInteger() {
		res = truncate(res, n.Typ)
	}
	return Value{Kind: Int, Int: res}, nil
}

func foldFloat(n *ast.Node, op token.Type, l, r float64) (Value, error) {
	var res float64
	switch op {
	case token.Plus:
		res = l + r
	case token.Minus:
		res = l - r
	case token.Star:
		res = l * r
	case token.Slash:
		res = l / r
	case token.EqEq:
		return Value{Kind: Int, Int: b2i(l == r)}, nil
	case token.Neq:
		return Value{Kind: Int, Int: b2i(l != r)}, nil
	case token.Lt:
		return Value{Kind: Int, Int: b2i(l < r)}, nil
	case token.Gt:
		return Value{Kind: Int, Int: b2i(l > r)}, nil
	case token.Lte:
		return Value{Kind: Int, Int: b2i(l <= r)}, nil
	case token.Gte:
		return Value{Kind: Int, Int: b2i(l >= r)}, nil
	default:
		return Value{}, notConstant(n, "binary operator '%s' on floating operands", op)
	}
	if n.Typ != nil && n.Typ.Kind == types.Float {
		res = float64(float32(res))
	}
	return Value{Kind: Float, Float: res}, nil
}

// foldAddrArith handles address +/- integer, scaled by the pointee width.
func foldAddrArith(n *ast.Node, d ast.BinaryOpNode, l, r Value) (Value, error) {
	scale := int64(1)
	if n.Typ != nil && n.Typ.IsPointer() && n.Typ.Base != nil && n.Typ.Base.Width > 0 {
		scale = int64(n.Typ.Base.Width)
	}
	switch {
	case d.Op == token.Plus && l.Kind == Address && r.Kind == Int:
		l.Int += r.Int * scale
		return l, nil
	case d.Op == token.Plus && l.Kind == Int && r.Kind == Address:
		r.Int += l.Int * scale
		return r, nil
	case d.Op == token.Minus && l.Kind == Address && r.Kind == Int:
		l.Int -= r.Int * scale
		return l, nil
	}
	return Value{}, notConstant(n, "operator '%s' on addresses", d.Op)
}

// foldAddr folds the address of an lvalue with static storage.
func foldAddr(n *ast.Node) (Value, error) {
	switch d := n.Data.(type) {
	case ast.ObjectNode:
		if !d.Obj.IsStatic() {
			return Value{}, notConstant(n, "address of automatic object '%s'", d.Obj.Name)
		}
		return Value{Kind: Address, Obj: d.Obj}, nil
	case ast.IdentNode:
		return Value{Kind: Address, Sym: d.Name}, nil
	case ast.StringNode:
		return Value{Kind: Address, Str: d.Value, HasStr: true}, nil
	case ast.MemberAccessNode:
		v, err := foldAddr(d.Expr)
		if err != nil {
			return Value{}, err
		}
		v.Int += int64(d.Member.Offset)
		return v, nil
	case ast.SubscriptNode:
		var v Value
		var err error
		if d.Array.Typ != nil && d.Array.Typ.IsPointer() {
			v, err = fold(d.Array)
		} else {
			v, err = foldAddr(d.Array)
		}
		if err != nil {
			return Value{}, err
		}
		idx, err := fold(d.Index)
		if err != nil {
			return Value{}, err
		}
		if idx.Kind != Int {
			return Value{}, notConstant(n, "non-integer subscript")
		}
		v.Int += idx.Int * int64(n.Typ.Width)
		return v, nil
	case ast.IndirectionNode:
		return fold(d.Expr)
	}
	return Value{}, notConstant(n, "address of %s expression", n.Type)
}

// Bits returns the IEEE-754 pattern of f at the given width.
func Bits(f float64, width int) int64 {
	if width == 4 {
		return int64(math.Float32bits(float32(f)))
	}
	return int64(math.Float64bits(f))
}
