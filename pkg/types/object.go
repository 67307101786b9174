package types

// Storage is the storage class of a declared object.
type Storage int

const (
	Auto Storage = iota
	Static
	Extern
)

// Linkage is the visibility of a symbol beyond its translation unit.
type Linkage int

const (
	LinkNone Linkage = iota
	LinkInternal
	LinkExternal
)

// Object is a declared variable or function. Offset is meaningful for
// automatic objects once Placed is set; Label for static-storage objects once
// the code generator has named it.
type Object struct {
	Name    string
	Type    *Type
	Storage Storage
	Linkage Linkage

	Offset int
	Placed bool
	Label  string
}

func NewObject(name string, typ *Type, storage Storage, linkage Linkage) *Object {
	return &Object{Name: name, Type: typ, Storage: storage, Linkage: linkage}
}

// NewLocal returns an automatic object with no linkage.
func NewLocal(name string, typ *Type) *Object {
	return &Object{Name: name, Type: typ, Storage: Auto, Linkage: LinkNone}
}

func (o *Object) IsStatic() bool { return o.Storage != Auto }
func (o *Object) IsExtern() bool { return o.Storage == Extern }

func (o *Object) SetOffset(off int) {
	o.Offset = off
	o.Placed = true
}
