package token

// Type identifies an operator kind carried by expression nodes.
type Type int

const (
	EOF Type = iota
	Eq
	Plus
	Minus
	Star
	Slash
	Rem
	And
	Or
	Xor
	Shl
	Shr
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
	Complement
	Inc
	Dec
)

// OpMap maps the C spelling of an operator to its Type.
var OpMap = map[string]Type{
	"=":  Eq,
	"+":  Plus,
	"-":  Minus,
	"*":  Star,
	"/":  Slash,
	"%":  Rem,
	"&":  And,
	"|":  Or,
	"^":  Xor,
	"<<": Shl,
	">>": Shr,
	"==": EqEq,
	"!=": Neq,
	"<":  Lt,
	">":  Gt,
	">=": Gte,
	"<=": Lte,
	"&&": AndAnd,
	"||": OrOr,
	"!":  Not,
	"~":  Complement,
	"++": Inc,
	"--": Dec,
}

// Reverse mapping from Type to the operator spelling
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range OpMap {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "EOF"
}

// Token is the source position a front end attaches to a node. Value holds
// the spelling when one is available.
type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
