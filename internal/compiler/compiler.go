// Package compiler implements the two-pass Rubbish assembler: it turns
// a small assembly dialect into a flat stream of cells ready to be
// loaded into RAM.
//
// Grounded on the original RubbishCompiler: source is first flattened
// by recursively inlining `include <path>` lines, then walked exactly
// twice. Pass 1 only measures how long the emitted code will be, so
// that forward label references resolve; pass 2 re-walks the same
// flattened source and actually emits cells.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rubbishvm/rubbish/internal/bus"
)

// UnknownInstructionError reports a mnemonic the compiler does not
// recognize.
type UnknownInstructionError struct {
	Line        int
	Instruction string
}

func (e *UnknownInstructionError) Error() string {
	return fmt.Sprintf("line %d: unknown instruction %q", e.Line, e.Instruction)
}

// UnknownLabelError reports an operand that refers to a label never
// defined anywhere in the flattened source.
type UnknownLabelError struct {
	Line  int
	Label string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("line %d: unknown label %q", e.Line, e.Label)
}

// Compiler assembles Rubbish source into a cell stream.
type Compiler struct {
	baseAddr bus.Cell
	labels   map[string]bus.Cell
}

// New returns a Compiler whose emitted code is destined to start at
// baseAddr (so that labels resolve to absolute addresses).
func New(baseAddr bus.Cell) *Compiler {
	return &Compiler{baseAddr: baseAddr, labels: make(map[string]bus.Cell)}
}

// Compile reads the program at path, recursively inlining any `include
// <path>` lines, and assembles it into a flat cell stream.
func (c *Compiler) Compile(path string) ([]bus.Cell, error) {
	lines, err := readFlattened(path)
	if err != nil {
		return nil, err
	}

	if _, err := c.walk(lines, false); err != nil {
		return nil, err
	}
	code, err := c.walk(lines, true)
	if err != nil {
		return nil, err
	}
	return code, nil
}

// readFlattened reads path and recursively inlines any line beginning
// with "include " (case-sensitive, matching the original), relative to
// the including file's directory.
func readFlattened(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	var out []string
	for _, line := range strings.Split(string(raw), "\n")  {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "include ") {
			incPath := strings.TrimSpace(trimmed[len("include "):])
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(dir, incPath)
			}
			nested, err := readFlattened(incPath)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, trimmed)
	}
	return out, nil
}

// walk performs one pass over the flattened source. When resolve is
// false this is pass 1: labels are recorded against the running code
// length but operand label references are not resolved (and so cannot
// fail with UnknownLabelError). When resolve is true this is pass 2:
// cells are actually emitted and unresolved labels fail.
func (c *Compiler) walk(lines []string, resolve bool) ([]bus.Cell, error) {
	var code []bus.Cell

	for lineNo, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		first := fields[0]
		if idx := strings.Index(first, ":"); idx >= 0 {
			name := first[:idx]
			if !resolve {
				c.labels[name] = bus.Cell(len(code)) + c.baseAddr
			}
			// Drop the label from the line too, so a labelled DATA line's
			// payload starts right after its DATA token.
			line = strings.TrimSpace(line[idx+1:])
			rest := first[idx+1:]
			if rest == "" {
				fields = fields[1:]
			} else {
				fields[0] = rest
			}
			if len(fields) == 0 {
				continue
			}
		}

		instr := fields[0]
		operands := fields[1:]

		switch {
		case instr == "'" || strings.HasPrefix(instr, "#"):
			continue
		case strings.EqualFold(instr, "DATA"):
			data := dataPayload(line, instr)
			for _, ch := range data {
				code = append(code, bus.Cell(ch))
			}
			continue
		}

		opcode, ok := Opcodes[strings.ToUpper(instr)]
		if !ok {
			return nil, &UnknownInstructionError{Line: lineNo + 1, Instruction: instr}
		}
		code = append(code, bus.Cell(opcode))

		for _, op := range operands {
			v, err := c.resolveOperand(op, resolve, lineNo+1)
			if err != nil {
				return nil, err
			}
			code = append(code, v)
		}
	}

	return code, nil
}

// dataPayload extracts the raw text following the DATA token (using
// the original, un-whitespace-split line so embedded spacing in string
// literals survives) and substitutes backslash escapes.
func dataPayload(line, instr string) string {
	rest := strings.TrimPrefix(line, instr)
	rest = strings.TrimPrefix(rest, " ")
	replacer := strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\0`, "\x00", `\f`, "\f")
	return replacer.Replace(rest)
}

// resolveOperand applies the original's operand transform pipeline:
// resolve a label reference, then negate an `@k` register-indirect
// marker, then parse to an integer.
func (c *Compiler) resolveOperand(op string, resolve bool, lineNo int) (bus.Cell, error) {
	op, err := c.crossReferenceLabel(op, resolve, lineNo)
	if err != nil {
		return 0, err
	}
	op = crossReferenceRegister(op)
	n, err := strconv.ParseInt(op, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid operand %q", lineNo, op)
	}
	return bus.Cell(n), nil
}

// crossReferenceLabel substitutes a label operand with its resolved
// address. Numeric operands and @k register-indirect markers are left
// untouched. In pass 1 an unresolved label becomes a placeholder ("0")
// so operand counts stay correct; in pass 2 it is a hard error.
func (c *Compiler) crossReferenceLabel(op string, resolve bool, lineNo int) (string, error) {
	if strings.HasPrefix(op, "@") {
		return op, nil
	}
	if _, err := strconv.ParseInt(op, 10, 64); err == nil {
		return op, nil
	}
	name := strings.TrimPrefix(op, ":")
	if !resolve {
		return "0", nil
	}
	addr, ok := c.labels[name]
	if !ok {
		return "", &UnknownLabelError{Line: lineNo, Label: name}
	}
	return strconv.FormatInt(int64(addr), 10), nil
}

// crossReferenceRegister turns an `@k` register-indirect marker into
// its negated register number, the encoding the processor recognizes
// as "use the value in Rk as the effective address."
func crossReferenceRegister(op string) string {
	if !strings.HasPrefix(op, "@") {
		return op
	}
	n, err := strconv.ParseInt(op[1:], 10, 64)
	if err != nil {
		return op
	}
	return strconv.FormatInt(-n, 10)
}
