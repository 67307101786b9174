package codegen

import (
	"sort"

	"github.com/samber/lo"
	"github.com/xplshn/cgen/pkg/ast"
	"github.com/xplshn/cgen/pkg/types"
)

// frameSize stands in for the final frame size in prologues and post-call
// stack resets until the function body has been generated.
const frameSize = "{frame}"

// frame is the per-function layout state. cursor is the high-water mark: the
// lowest offset in use below %rbp.
type frame struct {
	name    string
	typ     *types.Type
	params  []*types.Object
	cursor  int
	lowest  int
	retAddr int // slot holding the hidden return buffer pointer
	start   int // first emitted line of the function
	isMain  bool
}

func (f *frame) setCursor(off int) {
	f.cursor = off
	if off < f.lowest {
		f.lowest = off
	}
}

// grow reserves width bytes aligned to align and returns their offset.
func (f *frame) grow(width, align int) int {
	f.setCursor(types.AlignDown(f.cursor-width, align))
	return f.cursor
}

// size is the 16-byte aligned amount subtracted from %rsp in the prologue.
func (f *frame) size() int { return types.AlignUp(-f.lowest, 16) }

// AllocObjects assigns frame offsets below base to the automatic objects of
// scope, largest alignment first, and returns the lowest offset reached.
// Objects already placed or listed in exclude keep their offsets.
func AllocObjects(base int, scope *ast.Scope, exclude []*types.Object) int {
	if scope == nil {
		return base
	}
	objs := lo.Filter(scope.Objects, func(o *types.Object, _ int) bool {
		return o.Storage == types.Auto && !o.Placed && !lo.Contains(exclude, o)
	})
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].Type.Align > objs[j].Type.Align
	})
	offset := base
	for _, o := range objs {
		offset = types.AlignDown(offset-o.Type.Width, o.Type.Align)
		o.SetOffset(offset)
	}
	return offset
}

// Push spills a register into a fresh 8-byte frame slot and returns its offset.
func (g *Generator) Push(r string) int {
	off := g.fn.grow(8, 8)
	if isXmm(r) {
		g.out.Emit("movsd %%%s, %s", r, frameAddr(off).Repr())
	} else {
		g.out.Emit("movq %%%s, %s", r, frameAddr(off).Repr())
	}
	return off
}

// Pop reloads the most recent Push into r and releases its slot.
func (g *Generator) Pop(r string) {
	addr := frameAddr(g.fn.cursor).Repr()
	if isXmm(r) {
		g.out.Emit("movsd %s, %%%s", addr, r)
	} else {
		g.out.Emit("movq %s, %%%s", addr, r)
	}
	g.fn.cursor += 8
}
