package compiler

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestCompileSumOfOneAndTwo(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "sum.rub", "LR 1 1\nLR 2 2\nADD\nDEBUG\nHALT\n")

	c := New(0)
	code, err := c.Compile(path)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []int64{LR, 1, 1, LR, 2, 2, ADD, DEBUG, HALT}
	if len(code) != len(want) {
		t.Fatalf("got %d cells, want %d: %v", len(code), len(want), code)
	}
	for i, v := range want {
		if code[i] != v {
			t.Fatalf("cell %d = %d, want %d", i, code[i], v)
		}
	}
}

func TestCompileForwardLabel(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "loop.rub", "JMP target\nDATA x\ntarget:HALT\n")

	c := New(100)
	code, err := c.Compile(path)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// JMP, target-address, 'x', HALT
	wantTarget := int64(100 + 3)
	if code[1] != wantTarget {
		t.Fatalf("target = %d, want %d (code=%v)", code[1], wantTarget, code)
	}
	if code[len(code)-1] != HALT {
		t.Fatalf("last cell = %d, want HALT", code[len(code)-1])
	}
}

func TestCompileUnknownLabel(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "bad.rub", "JMP nowhere\n")

	_, err := New(0).Compile(path)
	var ule *UnknownLabelError
	if err == nil {
		t.Fatal("expected UnknownLabelError, got nil")
	}
	if !asUnknownLabel(err, &ule) {
		t.Fatalf("expected UnknownLabelError, got %v (%T)", err, err)
	}
}

func asUnknownLabel(err error, target **UnknownLabelError) bool {
	if e, ok := err.(*UnknownLabelError); ok {
		*target = e
		return true
	}
	return false
}

func TestCompileUnknownInstruction(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "bad.rub", "FROB 1 2\n")

	_, err := New(0).Compile(path)
	if _, ok := err.(*UnknownInstructionError); !ok {
		t.Fatalf("expected UnknownInstructionError, got %v (%T)", err, err)
	}
}

func TestCompileRegisterIndirect(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "ind.rub", "MRM @3 500\n")

	code, err := New(0).Compile(path)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if code[1] != -3 {
		t.Fatalf("register-indirect operand = %d, want -3", code[1])
	}
}

func TestCompileInclude(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "lib.rub", "HALT\n")
	path := writeSource(t, dir, "main.rub", "include lib.rub\n")

	code, err := New(0).Compile(path)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(code) != 1 || code[0] != HALT {
		t.Fatalf("code = %v, want [HALT]", code)
	}
}
