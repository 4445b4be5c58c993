package console

import (
	"context"
	"testing"
	"time"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/device"
)

func newTestConsole(t *testing.T) (*Console, device.Buses) {
	t.Helper()
	b := device.Buses{
		Address:   &bus.AddressBus{},
		Data:      &bus.DataBus{},
		Control:   &bus.ControlBus{},
		Interrupt: bus.NewInterruptBus(),
	}
	b.Control.PowerUp()
	c := New(0, 4, DefaultCols, DefaultRows, b)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()
	return c, b
}

func waitResponse(t *testing.T, b device.Buses) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.Control.Lock()
		if b.Control.PeekResponse() {
			b.Control.SetResponse(false)
			b.Control.Unlock()
			return
		}
		b.Control.Unlock()
	}
	t.Fatal("timed out waiting for console response")
}

func writeByte(t *testing.T, b device.Buses, ch byte) {
	t.Helper()
	b.Control.Lock()
	b.Address.Set(0)
	b.Data.Set(bus.Cell(ch))
	b.Control.SetWriteRequest(true)
	b.Control.Unlock()
	waitResponse(t, b)
}

func TestConsoleOutputRoundTrip(t *testing.T) {
	c, b := newTestConsole(t)
	for _, ch := range []byte("HI") {
		writeByte(t, b, ch)
	}
	g := c.Grid()
	if g.At(0, 0).Ch != 'H' || g.At(0, 1).Ch != 'I' {
		t.Fatalf("grid = %q%q, want HI", g.At(0, 0).Ch, g.At(0, 1).Ch)
	}
}

func TestConsoleKeystrokeInterrupt(t *testing.T) {
	c, b := newTestConsole(t)
	c.PushKey('x')

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.Control.Lock()
		pending := b.Interrupt.Test(4)
		b.Control.Unlock()
		if pending {
			break
		}
	}
	b.Control.Lock()
	if !b.Interrupt.Test(4) {
		b.Control.Unlock()
		t.Fatal("keystroke interrupt never asserted")
	}
	b.Control.Unlock()

	b.Control.Lock()
	b.Address.Set(0)
	b.Control.SetReadRequest(true)
	b.Control.Unlock()
	waitResponse(t, b)

	b.Control.Lock()
	got := b.Data.Get()
	b.Control.Unlock()
	if got != 'x' {
		t.Fatalf("read key = %d, want %d", got, 'x')
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.Control.Lock()
		cleared := !b.Interrupt.Test(4)
		b.Control.Unlock()
		if cleared {
			return
		}
	}
	t.Fatal("keystroke interrupt never cleared after queue drained")
}

func TestConsoleFormFeedClears(t *testing.T) {
	c, b := newTestConsole(t)
	writeByte(t, b, 'A')
	writeByte(t, b, 12)
	g := c.Grid()
	if g.At(0, 0).Ch != ' ' {
		t.Fatalf("grid not cleared after FF: got %q", g.At(0, 0).Ch)
	}
	row, col := g.Cursor()
	if row != 0 || col != 0 {
		t.Fatalf("cursor after FF = (%d,%d), want (0,0)", row, col)
	}
}
