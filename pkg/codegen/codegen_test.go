package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/types"
	"github.com/xplshn/cgen/pkg/util"
)

func TestObjectAddrRepr(t *testing.T) {
	tests := []struct {
		addr ObjectAddr
		want string
	}{
		{ObjectAddr{Base: "rbp", Offset: -8}, "-8(%rbp)"},
		{ObjectAddr{Base: "r11"}, "(%r11)"},
		{ObjectAddr{Label: "x", Base: "rip"}, "x(%rip)"},
		{ObjectAddr{Label: "x", Base: "rip", Offset: 4}, "x+4(%rip)"},
		{ObjectAddr{Label: "x", Base: "rip", Offset: -4}, "x-4(%rip)"},
		{ObjectAddr{Label: "tbl", Offset: 16}, "tbl+16"},
		{ObjectAddr{Base: "rbp", Offset: 16}, "16(%rbp)"},
	}
	for _, tt := range tests {
		if got := tt.addr.Repr(); got != tt.want {
			t.Errorf("%#v.Repr() = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestConsLabel(t *testing.T) {
	g := newFuncGen()
	for _, k := range []int64{0, 42, -7, 1 << 40} {
		n := num(k)
		if a, b := g.ConsLabel(n), g.ConsLabel(n); a != b {
			t.Errorf("integer %d rendered as %q then %q", k, a, b)
		}
	}
	if len(g.batch.rodata) != 0 {
		t.Fatalf("integer constants were pooled: %v", g.batch.rodata)
	}

	f := ast.NewFloat(tk, types.TypeDouble, 1.5)
	a, b := g.ConsLabel(f), g.ConsLabel(f)
	if a == b {
		t.Errorf("float literals share label %q", a)
	}
	s := g.ConsLabel(ast.NewString(tk, "hi"))
	want := []ROData{
		{Label: ".LC0", Bits: 0x3ff8000000000000, Align: 8},
		{Label: ".LC1", Bits: 0x3ff8000000000000, Align: 8},
		{Label: ".LC2", Str: "hi", IsStr: true, Align: 1},
	}
	if diff := cmp.Diff(want, g.batch.rodata); diff != "" {
		t.Errorf("rodata mismatch (-want +got):\n%s", diff)
	}
	if s != ".LC2" {
		t.Errorf("string label = %q", s)
	}
}

func TestObjectLabel(t *testing.T) {
	g := newFuncGen()
	global := types.NewObject("counter", types.TypeInt, types.Static, types.LinkExternal)
	local1 := types.NewObject("count", types.TypeInt, types.Static, types.LinkNone)
	local2 := types.NewObject("count", types.TypeInt, types.Static, types.LinkNone)

	if got := g.ObjectLabel(global); got != "counter" {
		t.Errorf("global label = %q", got)
	}
	l1, l2 := g.ObjectLabel(local1), g.ObjectLabel(local2)
	if l1 == l2 {
		t.Errorf("same-named locals share label %q", l1)
	}
	if again := g.ObjectLabel(local1); again != l1 {
		t.Errorf("label changed from %q to %q", l1, again)
	}
}

func TestAssignLocations(t *testing.T) {
	ints := make([]*types.Type, 7)
	for i := range ints {
		ints[i] = types.TypeInt
	}
	locs, err := AssignLocations(ints, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []Location{"rdi", "rsi", "rdx", "rcx", "r8", "r9", Mem}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Errorf("7 integers (-want +got):\n%s", diff)
	}

	floats := make([]*types.Type, 9)
	for i := range floats {
		floats[i] = types.TypeDouble
	}
	locs, err = AssignLocations(floats, false)
	if err != nil {
		t.Fatal(err)
	}
	if locs[7] != "xmm7" || locs[8] != Mem {
		t.Errorf("9 doubles: got %v", locs)
	}

	mixed := []*types.Type{types.TypeDouble, types.PointerTo(types.TypeChar), types.TypeFloat, types.TypeLong}
	locs, err = AssignLocations(mixed, true)
	if err != nil {
		t.Fatal(err)
	}
	want = []Location{"xmm0", "rsi", "xmm1", "rdx"}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Errorf("mixed with hidden pointer (-want +got):\n%s", diff)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		typ   *types.Type
		class ParamClass
		err   error
	}{
		{types.TypeChar, Integer, nil},
		{types.PointerTo(types.TypeVoid), Integer, nil},
		{types.ArrayOf(types.TypeInt, 4), Integer, nil},
		{types.TypeFloat, SSE, nil},
		{types.TypeDouble, SSE, nil},
		{types.TypeLongDouble, X87, ErrUnsupported},
		{&types.Type{Kind: types.Complex, Width: 32, Align: 16}, ComplexX87, ErrUnsupported},
		{types.StructOf("struct P", false, &types.Member{Name: "x", Type: types.TypeInt}), Memory, ErrUnsupported},
		{types.TypeVoid, NoClass, ErrUnexpectedType},
	}
	for _, tt := range tests {
		class, err := Classify(tt.typ)
		if class != tt.class {
			t.Errorf("Classify(%s) = %s, want %s", tt.typ, class, tt.class)
		}
		if !errors.Is(err, tt.err) || (tt.err == nil) != (err == nil) {
			t.Errorf("Classify(%s) error = %v, want %v", tt.typ, err, tt.err)
		}
	}
}

func TestAllocObjects(t *testing.T) {
	c := types.NewLocal("c", types.TypeChar)
	d := types.NewLocal("d", types.TypeDouble)
	i := types.NewLocal("i", types.TypeInt)
	s := types.NewLocal("s", types.TypeShort)
	p := types.NewLocal("p", types.TypeLong)
	p.SetOffset(-8)
	st := types.NewObject("st", types.TypeInt, types.Static, types.LinkNone)
	scope := ast.NewScope(c, d, i, s, p, st)

	low := AllocObjects(-8, scope, []*types.Object{p})
	got := map[string]int{"c": c.Offset, "d": d.Offset, "i": i.Offset, "s": s.Offset}
	want := map[string]int{"d": -16, "i": -20, "s": -22, "c": -23}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if low != -23 {
		t.Errorf("lowest offset = %d, want -23", low)
	}
	if p.Offset != -8 || st.Placed {
		t.Errorf("excluded or static object was moved")
	}

	objs := []*types.Object{c, d, i, s, p}
	for a := range objs {
		for b := a + 1; b < len(objs); b++ {
			x, y := objs[a], objs[b]
			if x.Offset < y.Offset+y.Type.Width && y.Offset < x.Offset+x.Type.Width {
				t.Errorf("%s [%d,%d) overlaps %s [%d,%d)", x.Name, x.Offset, x.Offset+x.Type.Width,
					y.Name, y.Offset, y.Offset+y.Type.Width)
			}
		}
	}

	if again := AllocObjects(-100, scope, nil); again != -100 {
		t.Errorf("second allocation moved the base to %d", again)
	}
	if d.Offset != -16 || c.Offset != -23 {
		t.Errorf("second allocation reassigned offsets: d=%d c=%d", d.Offset, c.Offset)
	}
}

func TestCopyStruct(t *testing.T) {
	g := newFuncGen()
	chunks := g.copyStruct(frameAddr(-16), 13)
	if diff := cmp.Diff([]int{8, 4, 1}, chunks); diff != "" {
		t.Errorf("chunks (-want +got):\n%s", diff)
	}
	want := []string{
		"\tmovq\t(%rax), %rcx",
		"\tmovq\t%rcx, -16(%rbp)",
		"\tmovl\t8(%rax), %ecx",
		"\tmovl\t%ecx, -8(%rbp)",
		"\tmovb\t12(%rax), %cl",
		"\tmovb\t%cl, -4(%rbp)",
	}
	if diff := cmp.Diff(want, g.out.Lines()); diff != "" {
		t.Errorf("copy (-want +got):\n%s", diff)
	}
}

func TestStaticInitializerGap(t *testing.T) {
	g := NewGenerator(testConfig(), nil)
	g.batch = &batch{}
	pair := types.StructOf("struct pair", false,
		&types.Member{Name: "a", Type: types.TypeInt},
		&types.Member{Name: "pad", Type: types.TypeInt},
		&types.Member{Name: "b", Type: types.TypeInt})
	obj := types.NewObject("s", pair, types.Static, types.LinkExternal)
	inits := []ast.Initializer{
		{Offset: 8, Typ: types.TypeInt, Expr: num(2)},
		{Offset: 0, Typ: types.TypeInt, Expr: num(1)},
	}
	g.genStatic(ast.NewDecl(tk, obj, inits), obj, inits)

	want := []string{
		"\t.data",
		"\t.globl\ts",
		"\t.align\t4",
		"\t.type\ts, @object",
		"\t.size\ts, 12",
		"s:",
		"\t.long\t1",
		"\t.zero\t4",
		"\t.long\t2",
	}
	if diff := cmp.Diff(want, g.out.Lines()); diff != "" {
		t.Errorf("static data (-want +got):\n%s", diff)
	}
}

func TestStaticTailPaddingAndAddresses(t *testing.T) {
	g := NewGenerator(testConfig(), nil)
	g.batch = &batch{}
	target := types.NewObject("arr", types.ArrayOf(types.TypeInt, 4), types.Static, types.LinkInternal)
	ptrs := types.ArrayOf(types.PointerTo(types.TypeInt), 3)
	obj := types.NewObject("tbl", ptrs, types.Static, types.LinkInternal)
	elem := ptrs.Base
	inits := []ast.Initializer{
		{Offset: 0, Typ: elem, Expr: ast.NewAddressOf(tk, ast.NewSubscript(tk, ref(target), num(2)))},
		{Offset: 8, Typ: elem, Expr: ast.NewString(tk, "x")},
	}
	g.genStatic(ast.NewDecl(tk, obj, inits), obj, inits)

	want := []string{
		"\t.data",
		"\t.local\ttbl",
		"\t.align\t8",
		"\t.type\ttbl, @object",
		"\t.size\ttbl, 24",
		"tbl:",
		"\t.quad\tarr+8",
		"\t.quad\t.LC0",
		"\t.zero\t8",
	}
	if diff := cmp.Diff(want, g.out.Lines()); diff != "" {
		t.Errorf("static data (-want +got):\n%s", diff)
	}
	if len(g.batch.rodata) != 1 || g.batch.rodata[0].Str != "x" {
		t.Errorf("string initializer not pooled: %v", g.batch.rodata)
	}
}

func TestStaticWithoutInitializer(t *testing.T) {
	g := NewGenerator(testConfig(), nil)
	g.batch = &batch{}
	n := types.NewObject("n", types.TypeLong, types.Static, types.LinkExternal)
	ext := types.NewObject("errno_like", types.TypeInt, types.Extern, types.LinkExternal)
	g.genStatic(ast.NewDecl(tk, n, nil), n, nil)
	g.genStatic(ast.NewDecl(tk, ext, nil), ext, nil)

	want := []string{"\t.data", "\t.globl\tn", "\t.comm\tn, 8, 8"}
	if diff := cmp.Diff(want, g.out.Lines()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRODataFlushedPerDeclaration(t *testing.T) {
	f, _ := funcDef("f", types.TypeDouble, nil, ast.NewReturn(tk, ast.NewFloat(tk, types.TypeDouble, 2.5)))
	h, _ := funcDef("h", types.PointerTo(types.TypeChar), nil, ast.NewReturn(tk, ast.NewString(tk, "a\"b\n")))
	buf, err := Generate(unit(f, h), testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(buf.String(), "\n")

	fStart := indexOf(t, lines, "f:")
	lc0 := indexOf(t, lines, ".LC0:")
	hStart := indexOf(t, lines, "h:")
	lc1 := indexOf(t, lines, ".LC1:")
	if !(fStart < lc0 && lc0 < hStart && hStart < lc1) {
		t.Errorf("literal pools not flushed after their declarations: f=%d .LC0=%d h=%d .LC1=%d", fStart, lc0, hStart, lc1)
	}
	if lines[lc1+1] != "\t.string\t\"a\\\"b\\012\"" {
		t.Errorf("string literal rendered as %q", lines[lc1+1])
	}
	if lines[lc0-1] != "\t.align\t8" || lines[lc0+1] != "\t.quad\t4612811918334230528" {
		t.Errorf("double literal rendered as %q %q", lines[lc0-1], lines[lc0+1])
	}
	if lines[len(lines)-2] != "\t.section\t.note.GNU-stack,\"\",@progbits" {
		t.Errorf("missing GNU-stack note, last line %q", lines[len(lines)-2])
	}
}

func TestStaticLocalDeferred(t *testing.T) {
	count := types.NewObject("count", types.TypeInt, types.Static, types.LinkNone)
	decl := ast.NewDecl(tk, count, []ast.Initializer{{Typ: types.TypeInt, Expr: num(3)}})
	f, _ := funcDef("f", types.TypeInt, nil, decl, ast.NewReturn(tk, ref(count)))

	g := NewGenerator(testConfig(), nil)
	if err := g.Run(unit(f)); err != nil {
		t.Fatal(err)
	}
	lines := g.out.Lines()
	load := indexOf(t, lines, "\tmovslq\tcount.1(%rip), %rax")
	label := indexOf(t, lines, "count.1:")
	if label < load {
		t.Errorf("static local emitted inside the function body")
	}
	if lines[label+1] != "\t.long\t3" {
		t.Errorf("initializer = %q", lines[label+1])
	}
	indexOf(t, lines, "\t.local\tcount.1")
}

func TestFramePatched(t *testing.T) {
	x := types.NewLocal("x", types.TypeLong)
	f, _ := funcDef("f", types.TypeLong, nil,
		block(ast.NewScope(x), ast.NewAssign(tk, ref(x), num(1)), ast.NewReturn(tk, ref(x))))
	g := NewGenerator(testConfig(), nil)
	if err := g.Run(unit(f)); err != nil {
		t.Fatal(err)
	}
	for _, l := range g.out.Lines() {
		if strings.Contains(l, frameSize) {
			t.Errorf("unpatched frame size in %q", l)
		}
	}
	indexOf(t, g.out.Lines(), "\tsubq\t$16, %rsp")
	if x.Offset != -8 {
		t.Errorf("x at %d, want -8", x.Offset)
	}
}

func TestShortCircuit(t *testing.T) {
	g := newFuncGen()
	a := types.NewLocal("a", types.TypeInt)
	b := types.NewLocal("b", types.TypeInt)
	a.SetOffset(-4)
	b.SetOffset(-8)
	g.genExpr(bin(token.AndAnd, ref(a), ref(b)))

	want := []string{
		"\tmovslq\t-4(%rbp), %rax",
		"\tcmpl\t$0, %eax",
		"\tje\t.L.false.1",
		"\tmovslq\t-8(%rbp), %rax",
		"\tcmpl\t$0, %eax",
		"\tje\t.L.false.1",
		"\tmovl\t$1, %eax",
		"\tjmp\t.L.end.1",
		".L.false.1:",
		"\tmovl\t$0, %eax",
		".L.end.1:",
	}
	if diff := cmp.Diff(want, g.out.Lines()); diff != "" {
		t.Errorf("&& (-want +got):\n%s", diff)
	}
}

func TestIncrementForms(t *testing.T) {
	x := types.NewLocal("x", types.TypeInt)
	x.SetOffset(-4)

	g := newFuncGen()
	g.genExpr(ast.NewPostfixOp(tk, token.Inc, ref(x)))
	post := []string{
		"\tmovslq\t-4(%rbp), %rax",
		"\tmovq\t%rax, %rcx",
		"\taddl\t$1, %eax",
		"\tmovl\t%eax, -4(%rbp)",
		"\txchgq\t%rcx, %rax",
	}
	if diff := cmp.Diff(post, g.out.Lines()); diff != "" {
		t.Errorf("x++ (-want +got):\n%s", diff)
	}

	g = newFuncGen()
	g.genExpr(ast.NewUnaryOp(tk, token.Inc, types.TypeInt, ref(x)))
	pre := []string{
		"\tmovslq\t-4(%rbp), %rax",
		"\taddl\t$1, %eax",
		"\tmovl\t%eax, -4(%rbp)",
	}
	if diff := cmp.Diff(pre, g.out.Lines()); diff != "" {
		t.Errorf("++x (-want +got):\n%s", diff)
	}

	p := types.NewLocal("p", types.PointerTo(types.TypeDouble))
	p.SetOffset(-16)
	g = newFuncGen()
	g.genExpr(ast.NewUnaryOp(tk, token.Dec, p.Type, ref(p)))
	indexOf(t, g.out.Lines(), "\tsubq\t$8, %rax")
}

func TestPointerArithmeticScales(t *testing.T) {
	p := types.NewLocal("p", types.PointerTo(types.TypeInt))
	p.SetOffset(-8)
	g := newFuncGen()
	g.genExpr(ast.NewBinaryOp(tk, token.Plus, p.Type, ref(p), num(3)))
	lines := g.out.Lines()
	indexOf(t, lines, "\tmovslq\t%eax, %rax")
	indexOf(t, lines, "\timulq\t$4, %rax")
	indexOf(t, lines, "\taddq\t%rcx, %rax")
}

func TestErrors(t *testing.T) {
	ld := types.NewLocal("x", types.TypeLongDouble)
	f, _ := funcDef("f", types.TypeInt, []*types.Object{ld}, ast.NewReturn(tk, num(0)))
	buf, err := Generate(unit(f), testConfig(), nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("long double parameter: err = %v, want ErrUnsupported", err)
	}
	if buf != nil {
		t.Errorf("partial output returned on error")
	}

	bad, _ := funcDef("g", types.TypeInt, nil, ast.NewAssign(tk, num(1), num(2)))
	_, err = Generate(unit(bad), testConfig(), nil)
	if !errors.Is(err, ErrNotLvalue) {
		t.Errorf("assignment to a constant: err = %v, want ErrNotLvalue", err)
	}
	var cgErr *Error
	if !errors.As(err, &cgErr) {
		t.Errorf("error %T is not a *codegen.Error", err)
	}

	glob := types.NewLocal("v", types.TypeInt)
	notConst := types.NewObject("w", types.TypeInt, types.Static, types.LinkExternal)
	decl := ast.NewDecl(tk, notConst, []ast.Initializer{{Typ: types.TypeInt, Expr: ref(glob)}})
	_, err = Generate(unit(decl), testConfig(), nil)
	if !errors.Is(err, ErrNotConstant) {
		t.Errorf("non-constant static initializer: err = %v, want ErrNotConstant", err)
	}
}

func TestFeatureToggles(t *testing.T) {
	f, _ := funcDef("f", types.TypeInt, nil, ast.NewReturn(tk, num(0)))
	cfg := testConfig()
	cfg.SetFeature(config.FeatGnuStack, false)
	cfg.SetFeature(config.FeatFileDirective, true)
	buf, err := Generate(unit(f), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\t.file\t\"t.c\"\n") {
		t.Errorf("missing .file directive:\n%s", out)
	}
	if strings.Contains(out, "GNU-stack") {
		t.Errorf("GNU-stack note emitted while disabled")
	}
}

func TestVariadicSaveArea(t *testing.T) {
	fmtp := types.NewLocal("fmt", types.PointerTo(types.TypeChar))
	scale := types.NewLocal("scale", types.TypeDouble)
	obj := funcObj("logf", types.TypeVoid, []*types.Type{fmtp.Type, scale.Type}, true)
	def := ast.NewFuncDef(tk, obj, []*types.Object{fmtp, scale}, block(ast.NewScope(fmtp, scale)))
	g := NewGenerator(testConfig(), nil)
	if err := g.Run(unit(def)); err != nil {
		t.Fatal(err)
	}
	lines := g.out.Lines()
	indexOf(t, lines, "\tmovq\t%rdi, -176(%rbp)")
	indexOf(t, lines, "\tmovq\t%r9, -136(%rbp)")
	indexOf(t, lines, "\ttestb\t%al, %al")
	indexOf(t, lines, "\tmovaps\t%xmm0, -128(%rbp)")
	indexOf(t, lines, "\tmovaps\t%xmm7, -16(%rbp)")
	indexOf(t, lines, "\tsubq\t$176, %rsp")
	if fmtp.Offset != -176 {
		t.Errorf("first named parameter at %d, want -176", fmtp.Offset)
	}
	if scale.Offset != -128 {
		t.Errorf("named double parameter at %d, want -128 where %%xmm0 is saved", scale.Offset)
	}
}

func TestFloatToUnsignedLong(t *testing.T) {
	g := newFuncGen()
	g.genExpr(ast.NewTypeCast(tk, ast.NewFloat(tk, types.TypeDouble, 1e19), types.TypeULong))
	want := []string{
		"\tmovsd\t.LC0(%rip), %xmm8",
		"\tucomisd\t.LC1(%rip), %xmm8",
		"\tjae\t.L.big.1",
		"\tcvttsd2si\t%xmm8, %rax",
		"\tjmp\t.L.end.1",
		".L.big.1:",
		"\tsubsd\t.LC1(%rip), %xmm8",
		"\tcvttsd2si\t%xmm8, %rax",
		"\tbtcq\t$63, %rax",
		".L.end.1:",
	}
	if diff := cmp.Diff(want, g.out.Lines()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if g.batch.rodata[1].Bits != 0x43e0000000000000 {
		t.Errorf("limit constant bits %#x, want 2^63", g.batch.rodata[1].Bits)
	}
}

func TestCompatibilityWarnings(t *testing.T) {
	pair := types.StructOf("struct pair", false,
		&types.Member{Name: "a", Type: types.TypeLong},
		&types.Member{Name: "b", Type: types.TypeLong})
	p := types.NewLocal("p", pair)
	mk, _ := funcDef("mk", pair, nil, block(ast.NewScope(p), ast.NewReturn(tk, ref(p))))
	prog, _ := funcDef("main", types.TypeInt, nil, ast.NewEmpty(tk))

	cfg := testConfig()
	cfg.SetWarning(config.WarnPedantic, true)
	before := util.WarningCount()
	if _, err := Generate(unit(mk, prog), cfg, nil); err != nil {
		t.Fatal(err)
	}
	if got := util.WarningCount() - before; got != 2 {
		t.Errorf("raised %d warnings, want one for the small struct return and one for main", got)
	}

	cfg = testConfig()
	before = util.WarningCount()
	ret, _ := funcDef("main", types.TypeInt, nil, ast.NewReturn(tk, num(0)))
	if _, err := Generate(unit(ret), cfg, nil); err != nil {
		t.Fatal(err)
	}
	if got := util.WarningCount() - before; got != 0 {
		t.Errorf("main ending in return raised %d warnings", got)
	}
}
