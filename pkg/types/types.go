// Package types describes the resolved C types and declared objects a front end
// hands to the code generator.
package types

import "fmt"

// Kind classifies a Type.
type Kind int

const (
	Void Kind = iota
	Bool
	Integer
	Float
	Double
	LongDouble
	Complex
	Pointer
	Array
	StructUnion
	Function
)

var kindNames = [...]string{
	Void:        "void",
	Bool:        "_Bool",
	Integer:     "integer",
	Float:       "float",
	Double:      "double",
	LongDouble:  "long double",
	Complex:     "complex",
	Pointer:     "pointer",
	Array:       "array",
	StructUnion: "struct/union",
	Function:    "function",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Member is a named field of a struct or union at a fixed byte offset.
type Member struct {
	Name   string
	Type   *Type
	Offset int
}

// Type is immutable once constructed by the front end.
type Type struct {
	Kind     Kind
	Width    int
	Align    int
	Unsigned bool
	Name     string // spelling, for diagnostics only

	Base *Type // pointee or element type
	Len  int   // array length

	Members []*Member

	Return   *Type
	Params   []*Type
	Variadic bool
}

// Pre-defined types
var (
	TypeVoid       = &Type{Kind: Void, Width: 1, Align: 1, Name: "void"}
	TypeBool       = &Type{Kind: Bool, Width: 1, Align: 1, Unsigned: true, Name: "_Bool"}
	TypeChar       = &Type{Kind: Integer, Width: 1, Align: 1, Name: "char"}
	TypeUChar      = &Type{Kind: Integer, Width: 1, Align: 1, Unsigned: true, Name: "unsigned char"}
	TypeShort      = &Type{Kind: Integer, Width: 2, Align: 2, Name: "short"}
	TypeUShort     = &Type{Kind: Integer, Width: 2, Align: 2, Unsigned: true, Name: "unsigned short"}
	TypeInt        = &Type{Kind: Integer, Width: 4, Align: 4, Name: "int"}
	TypeUInt       = &Type{Kind: Integer, Width: 4, Align: 4, Unsigned: true, Name: "unsigned int"}
	TypeLong       = &Type{Kind: Integer, Width: 8, Align: 8, Name: "long"}
	TypeULong      = &Type{Kind: Integer, Width: 8, Align: 8, Unsigned: true, Name: "unsigned long"}
	TypeFloat      = &Type{Kind: Float, Width: 4, Align: 4, Name: "float"}
	TypeDouble     = &Type{Kind: Double, Width: 8, Align: 8, Name: "double"}
	TypeLongDouble = &Type{Kind: LongDouble, Width: 16, Align: 16, Name: "long double"}
)

func PointerTo(base *Type) *Type {
	return &Type{Kind: Pointer, Width: 8, Align: 8, Unsigned: true, Base: base}
}

func ArrayOf(elem *Type, n int) *Type {
	return &Type{Kind: Array, Width: elem.Width * n, Align: elem.Align, Base: elem, Len: n}
}

func FuncOf(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Kind: Function, Width: 1, Align: 1, Return: ret, Params: params, Variadic: variadic}
}

// StructOf lays the members out in order, padding each to its alignment.
// When union is set every member starts at offset 0.
func StructOf(name string, union bool, members ...*Member) *Type {
	t := &Type{Kind: StructUnion, Align: 1, Name: name}
	var size int
	for _, m := range members {
		if m.Type.Align > t.Align {
			t.Align = m.Type.Align
		}
		if union {
			m.Offset = 0
			if m.Type.Width > size {
				size = m.Type.Width
			}
			continue
		}
		size = AlignUp(size, m.Type.Align)
		m.Offset = size
		size += m.Type.Width
	}
	t.Width = AlignUp(size, t.Align)
	t.Members = members
	return t
}

func (t *Type) IsInteger() bool { return t.Kind == Integer || t.Kind == Bool }
func (t *Type) IsFloat() bool   { return t.Kind == Float || t.Kind == Double }
func (t *Type) IsPointer() bool { return t.Kind == Pointer }
func (t *Type) IsArray() bool   { return t.Kind == Array }
func (t *Type) IsAggregate() bool {
	return t.Kind == StructUnion
}
func (t *Type) IsFunction() bool { return t.Kind == Function }

// IsScalar reports whether a value of the type fits one accumulator.
func (t *Type) IsScalar() bool {
	return t.IsInteger() || t.IsFloat() || t.IsPointer()
}

// FuncType returns the function type t designates, looking through one pointer.
func (t *Type) FuncType() *Type {
	if t.Kind == Pointer && t.Base != nil && t.Base.Kind == Function {
		return t.Base
	}
	if t.Kind == Function {
		return t
	}
	return nil
}

func (t *Type) Member(name string) *Member {
	for _, m := range t.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (t *Type) String() string {
	switch {
	case t == nil:
		return "<nil>"
	case t.Name != "":
		return t.Name
	case t.Kind == Pointer:
		return t.Base.String() + "*"
	case t.Kind == Array:
		return fmt.Sprintf("%s[%d]", t.Base, t.Len)
	}
	return t.Kind.String()
}

// AlignUp rounds n up to a multiple of align.
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// AlignDown rounds n toward negative infinity to a multiple of align. Frame
// offsets are negative, so this is the direction the stack grows.
func AlignDown(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r < 0 {
		r += align
	}
	return n - r
}
