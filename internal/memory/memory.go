// Package memory implements the RAM and ROM devices: flat cell arrays
// that service one read or write per bus cycle.
package memory

import (
	"context"
	"errors"
	"runtime"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/device"
)

// ErrCapacityExceeded is returned when a program or data load is
// larger than the device's cell count, matching the original RAM's
// ValueError on an oversized load_data call.
var ErrCapacityExceeded = errors.New("memory: capacity exceeded")

// RAM is a read-write memory device.
type RAM struct {
	*device.Base
	cells []bus.Cell
}

// NewRAM constructs a RAM device of size cells starting at start.
func NewRAM(start, size bus.Cell, b device.Buses) *RAM {
	return &RAM{
		Base:  device.NewBase("RAM", start, size, b),
		cells: make([]bus.Cell, size),
	}
}

// LoadData copies data into the device starting at cell 0, zero-
// padding any remainder, and fails if data is larger than the device.
func (r *RAM) LoadData(data []bus.Cell) error {
	if bus.Cell(len(data)) > r.Size() {
		return ErrCapacityExceeded
	}
	for i := range r.cells {
		r.cells[i] = 0
	}
	copy(r.cells, data)
	return nil
}

// Run services bus transactions until halted or ctx is cancelled.
func (r *RAM) Run(ctx context.Context) error {
	for r.IsRunning() {
		select {
		case <-ctx.Done():
			r.SetFinished()
			return ctx.Err()
		default:
		}
		r.Control.Lock()
		r.StopIfHalted()
		if r.Control.PowerOn() && r.AddressValid() {
			idx := r.Address.Get() - r.StartingAddress()
			if r.Control.ReadRequest() {
				r.Data.Set(r.cells[idx])
				r.Control.SetReadRequest(false)
				r.Control.SetResponse(true)
			}
			if r.Control.WriteRequest() {
				r.cells[idx] = r.Data.Get()
				r.Control.SetWriteRequest(false)
				r.Control.SetResponse(true)
			}
		}
		r.Control.Unlock()
		runtime.Gosched()
	}
	r.SetFinished()
	return nil
}

// ROM is a read-only memory device preloaded at construction.
type ROM struct {
	*device.Base
	cells []bus.Cell
}

// NewROM constructs a ROM device preloaded with image, zero-padded to
// size cells.
func NewROM(start, size bus.Cell, image []bus.Cell, b device.Buses) (*ROM, error) {
	if bus.Cell(len(image)) > size {
		return nil, ErrCapacityExceeded
	}
	cells := make([]bus.Cell, size)
	copy(cells, image)
	return &ROM{Base: device.NewBase("ROM", start, size, b), cells: cells}, nil
}

// Run services read transactions until halted or ctx is cancelled;
// writes are ignored.
func (r *ROM) Run(ctx context.Context) error {
	for r.IsRunning() {
		select {
		case <-ctx.Done():
			r.SetFinished()
			return ctx.Err()
		default:
		}
		r.Control.Lock()
		r.StopIfHalted()
		if r.Control.PowerOn() && r.AddressValid() && r.Control.ReadRequest() {
			idx := r.Address.Get() - r.StartingAddress()
			r.Data.Set(r.cells[idx])
			r.Control.SetReadRequest(false)
			r.Control.SetResponse(true)
		}
		r.Control.Unlock()
		runtime.Gosched()
	}
	r.SetFinished()
	return nil
}
