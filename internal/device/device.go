// Package device provides the BaseDevice contract every Rubbish
// peripheral embeds: a starting address and size window on the shared
// buses, and the running/finished lifecycle every device loop follows.
package device

import (
	"crypto/rand"
	"fmt"

	"github.com/rubbishvm/rubbish/internal/bus"
)

// Buses bundles the four shared buses a device needs a handle to.
type Buses struct {
	Address   *bus.AddressBus
	Data      *bus.DataBus
	Control   *bus.ControlBus
	Interrupt *bus.InterruptBus
}

// Base is embedded by every concrete device. It is not itself a
// runnable device; concrete types provide their own Run loop and call
// into Base for the window check and lifecycle bookkeeping.
type Base struct {
	id       string
	start    bus.Cell
	size     bus.Cell
	running  bool
	finished bool

	Buses
}

// NewBase constructs a Base for a device of the given kind attached at
// start, spanning size cells.
func NewBase(kind string, start, size bus.Cell, b Buses) *Base {
	return &Base{
		id:      fmt.Sprintf("%s-%s", kind, randomTag()),
		start:   start,
		size:    size,
		running: true,
		Buses:   b,
	}
}

func randomTag() string {
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%02x%02x%02x", buf[0], buf[1], buf[2])
}

// ID returns a short human-readable identifier for logs.
func (b *Base) ID() string { return b.id }

// StartingAddress returns the device's base address on the address bus.
func (b *Base) StartingAddress() bus.Cell { return b.start }

// Size returns the number of cells the device occupies.
func (b *Base) Size() bus.Cell { return b.size }

// IsRunning reports whether the device loop should keep iterating.
func (b *Base) IsRunning() bool { return b.running }

// Finished reports whether the device loop has exited for good.
func (b *Base) Finished() bool { return b.finished }

// SetFinished marks the device as done; callers set this exactly once,
// after their Run loop returns.
func (b *Base) SetFinished() { b.finished = true }

// AddressValid reports whether the address currently on the address
// bus falls within this device's window.
func (b *Base) AddressValid() bool {
	addr := b.Address.Get()
	return addr >= b.start && addr < b.start+b.size
}

// StopIfHalted clears the running flag if the halt interrupt is
// pending. Callers must hold the control bus lock.
func (b *Base) StopIfHalted() {
	if b.Interrupt.Test(bus.Halt) {
		b.running = false
	}
}
