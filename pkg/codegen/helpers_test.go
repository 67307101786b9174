package codegen

import (
	"strings"
	"testing"

	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

var tk token.Token

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Quiet = true
	return cfg
}

// newFuncGen returns a generator positioned inside an empty function body.
func newFuncGen() *Generator {
	g := NewGenerator(testConfig(), nil)
	g.fn = &frame{name: "t"}
	g.batch = &batch{}
	return g
}

func num(v int64) *ast.Node { return ast.NewNumber(tk, types.TypeInt, v) }

func ref(o *types.Object) *ast.Node { return ast.NewObject(tk, o) }

func bin(op token.Type, l, r *ast.Node) *ast.Node {
	typ := l.Typ
	switch op {
	case token.EqEq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte, token.AndAnd, token.OrOr:
		typ = types.TypeInt
	}
	return ast.NewBinaryOp(tk, op, typ, l, r)
}

func block(scope *ast.Scope, stmts ...*ast.Node) *ast.Node { return ast.NewBlock(tk, scope, stmts) }

func funcObj(name string, ret *types.Type, params []*types.Type, variadic bool) *types.Object {
	return types.NewObject(name, types.FuncOf(ret, params, variadic), types.Static, types.LinkExternal)
}

// funcDef defines name with the given parameters. The parameters are also
// declared in the body's scope, as a front end would.
func funcDef(name string, ret *types.Type, params []*types.Object, stmts ...*ast.Node) (*ast.Node, *types.Object) {
	ptypes := make([]*types.Type, len(params))
	for i, p := range params {
		ptypes[i] = p.Type
	}
	obj := funcObj(name, ret, ptypes, false)
	return ast.NewFuncDef(tk, obj, params, block(ast.NewScope(params...), stmts...)), obj
}

func call(fn *types.Object, args ...*ast.Node) *ast.Node {
	return ast.NewFuncCall(tk, ast.NewIdent(tk, fn.Name, fn.Type), args)
}

func unit(decls ...*ast.Node) *ast.TranslationUnit {
	return &ast.TranslationUnit{File: "t.c", Decls: decls}
}

func indexOf(t *testing.T, lines []string, want string) int {
	t.Helper()
	for i, l := range lines {
		if l == want {
			return i
		}
	}
	t.Fatalf("line %q not emitted:\n%s", want, strings.Join(lines, "\n"))
	return -1
}
