package codegen

import (
	"fmt"
	"io"
	"strings"
)

// Emitter buffers assembly lines until the unit is complete so that a
// function's frame size can be written into its prologue after the body is
// generated.
type Emitter struct {
	lines []string
}

// Emit appends one instruction or directive. The mnemonic is separated from
// its operands by a tab. It returns the index of the new line.
func (e *Emitter) Emit(format string, args ...interface{}) int {
	inst := fmt.Sprintf(format, args...)
	if i := strings.IndexByte(inst, ' '); i >= 0 {
		inst = inst[:i] + "\t" + inst[i+1:]
	}
	e.lines = append(e.lines, "\t"+inst)
	return len(e.lines) - 1
}

func (e *Emitter) Label(name string) {
	e.lines = append(e.lines, name+":")
}

func (e *Emitter) Len() int { return len(e.lines) }

// Replace substitutes every old with new in the lines emitted since start.
func (e *Emitter) Replace(start int, old, new string) {
	for i := start; i < len(e.lines); i++ {
		if strings.Contains(e.lines[i], old) {
			e.lines[i] = strings.ReplaceAll(e.lines[i], old, new)
		}
	}
}

// Lines returns the emitted lines. The slice aliases the emitter's storage.
func (e *Emitter) Lines() []string { return e.lines }

func (e *Emitter) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, l := range e.lines {
		m, err := io.WriteString(w, l+"\n")
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
