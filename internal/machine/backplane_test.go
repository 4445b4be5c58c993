package machine_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/compiler"
	"github.com/rubbishvm/rubbish/internal/cpu"
	"github.com/rubbishvm/rubbish/internal/device"
	"github.com/rubbishvm/rubbish/internal/machine"
	"github.com/rubbishvm/rubbish/internal/memory"
)

func TestBackplaneRunsUntilHalt(t *testing.T) {
	bp := machine.New()
	b := device.Buses{Address: bp.Address, Data: bp.Data, Control: bp.Control, Interrupt: bp.Interrupt}

	dir := t.TempDir()
	path := dir + "/prog.rub"
	if err := os.WriteFile(path, []byte("LR 1 2\nLR 2 3\nMUL\nHALT\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	code, err := compiler.New(0).Compile(path)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ram := memory.NewRAM(0, 16, b)
	if err := ram.LoadData(code); err != nil {
		t.Fatalf("load: %v", err)
	}
	proc := cpu.New(0, 0, b)

	bp.AddDevice(ram)
	bp.AddDevice(proc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := bp.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bp.Control.PowerOn() {
		t.Fatal("backplane should be powered off after halt")
	}
	if got := proc.Registers()[3]; got != 6 {
		t.Fatalf("R3 = %d, want 6", got)
	}
}
