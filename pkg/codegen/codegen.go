package codegen

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/eval"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
)

var (
	// ErrUnsupported marks a language feature the backend does not implement.
	ErrUnsupported = errors.New("not supported")
	// ErrNotLvalue is an address request for an expression that has none.
	ErrNotLvalue = errors.New("not an lvalue")
	// ErrUnexpectedType is a type shape no operation accepts.
	ErrUnexpectedType = errors.New("unexpected type")
	// ErrNotConstant is a static initializer the evaluator cannot fold.
	ErrNotConstant = eval.ErrNotConstant
)

// Error is a fatal code generation defect tied to a source position.
type Error struct {
	Kind error
	Tok  token.Token
	Msg  string
}

func (e *Error) Error() string {
	if e.Tok.Line == 0 {
		return fmt.Sprintf("%s: %v", e.Msg, e.Kind)
	}
	return fmt.Sprintf("%d:%d: %s: %v", e.Tok.Line, e.Tok.Column, e.Msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, tok token.Token, format string, args ...interface{}) {
	panic(&Error{Kind: kind, Tok: tok, Msg: fmt.Sprintf(format, args...)})
}

// failErr panics with err, keeping the sentinel it wraps as the kind.
func failErr(err error, tok token.Token) {
	for _, kind := range []error{ErrUnsupported, ErrNotLvalue, ErrUnexpectedType, ErrNotConstant} {
		if errors.Is(err, kind) {
			panic(&Error{Kind: kind, Tok: tok, Msg: err.Error()})
		}
	}
	panic(&Error{Kind: ErrUnexpectedType, Tok: tok, Msg: err.Error()})
}

// Slot names the logical accumulator an expression leaves its value in.
type Slot int

const (
	IntPrimary Slot = iota
	FloatPrimary
	IntSpill
	FloatSpill
)

func (s Slot) Reg() string {
	return [...]string{"rax", "xmm8", "rcx", "xmm9"}[s]
}

func slotFor(t *types.Type) Slot {
	if t != nil && t.IsFloat() {
		return FloatPrimary
	}
	return IntPrimary
}

// ROData is one pending read-only literal: a string or a float bit pattern.
type ROData struct {
	Label string
	Str   string
	IsStr bool
	Bits  int64
	Align int
}

// batch collects the output owed by one top-level declaration.
type batch struct {
	rodata  []ROData
	statics []*ast.Node
}

// Generator holds the state of one translation unit. It is not safe for
// concurrent use; separate Generators are independent.
type Generator struct {
	cfg   *config.Config
	ev    eval.Evaluator
	out   *Emitter
	fn    *frame
	batch *batch

	labelSeq  int
	constSeq  int
	staticTag int
}

func NewGenerator(cfg *config.Config, ev eval.Evaluator) *Generator {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if ev == nil {
		ev = eval.Folder{}
	}
	return &Generator{cfg: cfg, ev: ev, out: &Emitter{}}
}

// Generate emits the assembly for tu. Nothing is returned on error.
func Generate(tu *ast.TranslationUnit, cfg *config.Config, ev eval.Evaluator) (*bytes.Buffer, error) {
	g := NewGenerator(cfg, ev)
	if err := g.Run(tu); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := g.out.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

// Run generates tu into the generator's emitter.
func (g *Generator) Run(tu *ast.TranslationUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cgErr, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = cgErr
		}
	}()

	if g.cfg.IsFeatureEnabled(config.FeatFileDirective) && tu.File != "" {
		g.out.Emit(".file %s", quoteString(tu.File))
	}
	for _, decl := range tu.Decls {
		g.flush(g.genTopLevel(decl))
	}
	if g.cfg.IsFeatureEnabled(config.FeatGnuStack) {
		g.out.Emit(`.section .note.GNU-stack,"",@progbits`)
	}
	return nil
}

func (g *Generator) Emitter() *Emitter { return g.out }

// genTopLevel generates one external declaration and returns what it owes
// the output after its own text.
func (g *Generator) genTopLevel(n *ast.Node) *batch {
	b := &batch{}
	g.batch = b
	defer func() { g.batch = nil }()

	switch d := n.Data.(type) {
	case ast.FuncDefNode:
		g.genFuncDef(n, d)
	case ast.DeclNode:
		if d.Obj.Type.IsFunction() {
			break
		}
		g.genStatic(n, d.Obj, d.Inits)
	case ast.EmptyNode:
	default:
		fail(ErrUnexpectedType, n.Tok, "%s at file scope", n.Type)
	}
	return b
}

// flush emits a declaration's deferred statics and then its literal pool.
// Statics go first because their initializers may add literals.
func (g *Generator) flush(b *batch) {
	g.batch = b
	defer func() { g.batch = nil }()
	for i := 0; i < len(b.statics); i++ {
		d := b.statics[i].Data.(ast.DeclNode)
		g.genStatic(b.statics[i], d.Obj, d.Inits)
	}
	g.flushROData(b)
}

// Backend produces target assembly for a translation unit.
type Backend interface {
	Generate(tu *ast.TranslationUnit, cfg *config.Config) (*bytes.Buffer, error)
}

type amd64SysV struct {
	ev eval.Evaluator
}

// NewBackend returns the backend for target. ev may be nil.
func NewBackend(target string, ev eval.Evaluator) (Backend, error) {
	switch target {
	case "amd64_sysv":
		return amd64SysV{ev: ev}, nil
	}
	return nil, fmt.Errorf("no backend for target '%s': %w", target, ErrUnsupported)
}

func (b amd64SysV) Generate(tu *ast.TranslationUnit, cfg *config.Config) (*bytes.Buffer, error) {
	return Generate(tu, cfg, b.ev)
}
