package codegen

import (
	"fmt"

	"github.com/xplshn/cgen/pkg/types"
)

// ParamClass is the System V classification of a parameter.
type ParamClass int

const (
	NoClass ParamClass = iota
	Integer
	SSE
	X87
	ComplexX87
	Memory
)

func (c ParamClass) String() string {
	return [...]string{"NO_CLASS", "INTEGER", "SSE", "X87", "COMPLEX_X87", "MEMORY"}[c]
}

var (
	intArgRegs = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	sseArgRegs = []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"}
)

// Classify returns the ABI class of a scalar parameter type. Aggregates passed
// by value are not classified.
func Classify(t *types.Type) (ParamClass, error) {
	switch t.Kind {
	case types.Bool, types.Integer, types.Pointer, types.Array:
		return Integer, nil
	case types.Float, types.Double:
		return SSE, nil
	case types.LongDouble:
		return X87, fmt.Errorf("long double parameters: %w", ErrUnsupported)
	case types.Complex:
		return ComplexX87, fmt.Errorf("complex parameters: %w", ErrUnsupported)
	case types.StructUnion:
		return Memory, fmt.Errorf("struct/union passed by value (%s): %w", t, ErrUnsupported)
	}
	return NoClass, fmt.Errorf("cannot classify parameter of type %s: %w", t, ErrUnexpectedType)
}

// Location is where a parameter travels: an argument register name or Mem.
type Location string

const Mem Location = "memory"

func (l Location) InMemory() bool { return l == Mem }
func (l Location) IsSSE() bool    { return isXmm(string(l)) }

// AssignLocations places each parameter in the next free register of its
// class, or in memory once that class is exhausted. The hidden pointer of a
// struct-returning function takes the first integer register.
func AssignLocations(params []*types.Type, retStruct bool) ([]Location, error) {
	locs := make([]Location, len(params))
	nInt, nSSE := 0, 0
	if retStruct {
		nInt++
	}
	for i, t := range params {
		class, err := Classify(t)
		if err != nil {
			return nil, err
		}
		switch {
		case class == Integer && nInt < len(intArgRegs):
			locs[i] = Location(intArgRegs[nInt])
			nInt++
		case class == SSE && nSSE < len(sseArgRegs):
			locs[i] = Location(sseArgRegs[nSSE])
			nSSE++
		default:
			locs[i] = Mem
		}
	}
	return locs, nil
}

// memParamOffset is the frame offset of the k-th memory parameter, past the
// saved frame pointer and return address.
func memParamOffset(k int) int { return 16 + 8*k }
