package eval

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

var tk token.Token

func num(t *types.Type, v int64) *ast.Node { return ast.NewNumber(tk, t, v) }

func bin(op token.Type, typ *types.Type, l, r *ast.Node) *ast.Node {
	return ast.NewBinaryOp(tk, op, typ, l, r)
}

func TestFoldInteger(t *testing.T) {
	i, u, c := types.TypeInt, types.TypeUInt, types.TypeChar
	tests := []struct {
		name string
		n    *ast.Node
		want int64
	}{
		{"add", bin(token.Plus, i, num(i, 40), num(i, 2)), 42},
		{"precedence", bin(token.Minus, i, num(i, 1), bin(token.Star, i, num(i, 2), num(i, 3))), -5},
		{"signed shift", bin(token.Shr, i, num(i, -8), num(i, 1)), -4},
		{"unsigned compare", bin(token.Lt, i, num(u, -1), num(u, 1)), 0},
		{"signed compare", bin(token.Lt, i, num(i, -1), num(i, 1)), 1},
		{"unsigned division", bin(token.Slash, types.TypeULong, num(types.TypeULong, -2), num(types.TypeULong, 2)), 1<<63 - 1},
		{"char wraps", bin(token.Plus, c, num(c, 127), num(c, 1)), -128},
		{"uint wraps", bin(token.Minus, u, num(u, 0), num(u, 1)), 0xffffffff},
		{"cast truncates", ast.NewTypeCast(tk, num(i, 0x1ff), types.TypeUChar), 0xff},
		{"float to int", ast.NewTypeCast(tk, ast.NewFloat(tk, types.TypeDouble, 3.9), i), 3},
		{"bool cast", ast.NewTypeCast(tk, num(i, 7), types.TypeBool), 1},
		{"ternary", ast.NewTernary(tk, i, num(i, 0), num(i, 1), num(i, 2)), 2},
		{"complement", ast.NewUnaryOp(tk, token.Complement, i, num(i, 0)), -1},
		{"not", ast.NewUnaryOp(tk, token.Not, i, num(i, 3)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Folder{}.Eval(tt.n, Int)
			if err != nil {
				t.Fatal(err)
			}
			if v.Kind != Int || v.Int != tt.want {
				t.Errorf("got %+v, want integer %d", v, tt.want)
			}
		})
	}
}

func TestFoldShortCircuitSkipsRight(t *testing.T) {
	auto := types.NewLocal("x", types.TypeInt)
	// the right operand is not a constant, but is never evaluated
	n := bin(token.AndAnd, types.TypeInt, num(types.TypeInt, 0), ast.NewObject(tk, auto))
	v, err := Folder{}.Eval(n, Int)
	if err != nil || v.Int != 0 {
		t.Errorf("got %+v, %v", v, err)
	}
}

func TestFoldFloat(t *testing.T) {
	d := types.TypeDouble
	n := bin(token.Slash, d, ast.NewFloat(tk, d, 1), num(types.TypeInt, 4))
	v, err := Folder{}.Eval(n, Float)
	if err != nil || v.Float != 0.25 {
		t.Errorf("got %+v, %v", v, err)
	}

	// an integer initializer of a double converts
	v, err = Folder{}.Eval(num(types.TypeInt, 3), Float)
	if err != nil || v.Kind != Float || v.Float != 3 {
		t.Errorf("got %+v, %v", v, err)
	}

	if got := Bits(1.0, 4); got != 0x3f800000 {
		t.Errorf("Bits(1.0, 4) = %#x", got)
	}
}

// sameObject compares objects by identity.
var sameObject = cmp.Comparer(func(a, b *types.Object) bool { return a == b })

func TestFoldAddress(t *testing.T) {
	arr := types.NewObject("table", types.ArrayOf(types.TypeInt, 8), types.Static, types.LinkExternal)
	pair := types.StructOf("struct pair", false,
		&types.Member{Name: "a", Type: types.TypeInt},
		&types.Member{Name: "b", Type: types.TypeLong})
	p := types.NewObject("p", pair, types.Static, types.LinkInternal)
	intp := types.PointerTo(types.TypeInt)

	tests := []struct {
		name string
		n    *ast.Node
		want Value
	}{
		{"array decays", ast.NewObject(tk, arr), Value{Kind: Address, Obj: arr}},
		{"element", ast.NewAddressOf(tk, ast.NewSubscript(tk, ast.NewObject(tk, arr), num(types.TypeInt, 3))),
			Value{Kind: Address, Obj: arr, Int: 12}},
		{"member", ast.NewAddressOf(tk, ast.NewMemberAccess(tk, ast.NewObject(tk, p), pair.Member("b"))),
			Value{Kind: Address, Obj: p, Int: 8}},
		{"scaled", bin(token.Plus, intp, ast.NewTypeCast(tk, ast.NewObject(tk, arr), intp), num(types.TypeInt, 2)),
			Value{Kind: Address, Obj: arr, Int: 8}},
		{"string", ast.NewString(tk, "hi"), Value{Kind: Address, Str: "hi", HasStr: true}},
		{"function", ast.NewIdent(tk, "main", types.FuncOf(types.TypeInt, nil, false)), Value{Kind: Address, Sym: "main"}},
		{"null", num(types.TypeInt, 0), Value{Kind: Address}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Folder{}.Eval(tt.n, Address)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, v, sameObject); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNotConstant(t *testing.T) {
	auto := types.NewLocal("x", types.TypeInt)
	glob := types.NewObject("g", types.TypeInt, types.Static, types.LinkExternal)
	tests := []struct {
		name string
		n    *ast.Node
		want Kind
	}{
		{"automatic value", ast.NewObject(tk, auto), Int},
		{"static value", ast.NewObject(tk, glob), Int},
		{"automatic address", ast.NewAddressOf(tk, ast.NewObject(tk, auto)), Address},
		{"division by zero", bin(token.Slash, types.TypeInt, num(types.TypeInt, 1), num(types.TypeInt, 0)), Int},
		{"address as integer", ast.NewString(tk, "s"), Int},
		{"call", ast.NewFuncCall(tk, ast.NewIdent(tk, "f", types.FuncOf(types.TypeInt, nil, false)), nil), Int},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Folder{}.Eval(tt.n, tt.want)
			if !errors.Is(err, ErrNotConstant) {
				t.Errorf("got %v, want ErrNotConstant", err)
			}
		})
	}
}
